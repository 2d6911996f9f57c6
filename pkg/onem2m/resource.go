// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package onem2m

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// Resource is the subset of an application, container or message resource the protocol uses.
type Resource struct {
	Type ResourceType
	// Name is the resource name (rn).
	Name string
	// ID is the broker assigned resource id (ri), only set on responses.
	ID string
	// AppID is the application id (api) of an application.
	AppID string
	// Labels are the labels (lbl) of an application or container.
	Labels []string
	// Content is the payload (con) of a message.
	Content string
}

// NewApplication returns an application resource named name with the given labels.
func NewApplication(name, appID string, labels []string) Resource {
	return Resource{Type: TypeApplication, Name: name, AppID: appID, Labels: labels}
}

// NewContainer returns a container resource named name.
func NewContainer(name string) Resource {
	return Resource{Type: TypeContainer, Name: name}
}

// NewMessage returns a message (content instance) carrying content. The broker names it.
func NewMessage(content string) Resource {
	return Resource{Type: TypeContentInstance, Content: content}
}

type applicationBody struct {
	Name         string   `json:"rn,omitempty"`
	ResourceID   string   `json:"ri,omitempty"`
	AppID        string   `json:"api,omitempty"`
	RequestReach *bool    `json:"rr,omitempty"`
	Labels       []string `json:"lbl,omitempty"`
}

type containerBody struct {
	Name       string   `json:"rn,omitempty"`
	ResourceID string   `json:"ri,omitempty"`
	Labels     []string `json:"lbl,omitempty"`
}

type instanceBody struct {
	Name          string `json:"rn,omitempty"`
	ResourceID    string `json:"ri,omitempty"`
	ContentFormat string `json:"cnf,omitempty"`
	Content       string `json:"con"`
}

type resourceEnvelope struct {
	Application *applicationBody `json:"m2m:ae,omitempty"`
	Container   *containerBody   `json:"m2m:cnt,omitempty"`
	Instance    *instanceBody    `json:"m2m:cin,omitempty"`
}

// EncodeResource renders res as its oneM2M JSON representation, e.g. {"m2m:cin":{"cnf":"message","con":"..."}}.
func EncodeResource(res Resource) ([]byte, error) {
	var env resourceEnvelope

	switch res.Type {
	case TypeApplication:
		requestReach := false
		env.Application = &applicationBody{Name: res.Name, AppID: res.AppID, RequestReach: &requestReach, Labels: res.Labels}
	case TypeContainer:
		env.Container = &containerBody{Name: res.Name, Labels: res.Labels}
	case TypeContentInstance:
		env.Instance = &instanceBody{Name: res.Name, ContentFormat: "message", Content: res.Content}
	default:
		return nil, fmt.Errorf("cannot encode resource of type %d", res.Type)
	}

	return json.Marshal(env)
}

// DecodeResource parses a oneM2M resource representation.
func DecodeResource(raw []byte) (Resource, error) {
	var env resourceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Resource{}, fmt.Errorf("decoding resource: %w", err)
	}

	switch {
	case env.Instance != nil:
		return Resource{
			Type:    TypeContentInstance,
			Name:    env.Instance.Name,
			ID:      env.Instance.ResourceID,
			Content: unquoteContent(env.Instance.Content),
		}, nil
	case env.Container != nil:
		return Resource{Type: TypeContainer, Name: env.Container.Name, ID: env.Container.ResourceID, Labels: env.Container.Labels}, nil
	case env.Application != nil:
		return Resource{
			Type:   TypeApplication,
			Name:   env.Application.Name,
			ID:     env.Application.ResourceID,
			AppID:  env.Application.AppID,
			Labels: env.Application.Labels,
		}, nil
	default:
		return Resource{}, fmt.Errorf("decoding resource: no m2m:ae, m2m:cnt or m2m:cin in %q", truncate(raw))
	}
}

// unquoteContent strips one pair of surrounding double quotes. Older gateways stored the
// content as "\"START\\n...\"".
func unquoteContent(con string) string {
	if len(con) >= 2 && con[0] == '"' && con[len(con)-1] == '"' {
		return con[1 : len(con)-1]
	}

	return con
}

// DecodeURIList parses a discovery result and returns the last path item of every URI.
// The broker answers with {"m2m:uril": [...]}, {"m2m:uril": "a b"} or, wrapped in a response
// primitive, {"m2m:uril": {"m2m:uril": [...]}}.
func DecodeURIList(raw []byte) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decoding uri list: %w", err)
	}

	value, ok := obj["m2m:uril"]
	if !ok {
		return nil, nil
	}

	uris, err := decodeURIValue(value)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(uris))
	for _, uri := range uris {
		names = append(names, LastPathItem(uri))
	}

	return names, nil
}

func decodeURIValue(value json.RawMessage) ([]string, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, nil
	}

	switch value[0] {
	case '[':
		var list []string
		if err := json.Unmarshal(value, &list); err != nil {
			return nil, fmt.Errorf("decoding uri list: %w", err)
		}

		return list, nil
	case '"':
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, fmt.Errorf("decoding uri list: %w", err)
		}

		return strings.Fields(s), nil
	case '{':
		return DecodeURIList(value)
	case 'n':
		return nil, nil
	default:
		return nil, fmt.Errorf("decoding uri list: unexpected value %q", truncate(value))
	}
}

// StatusError maps a oneM2M response status code to the error taxonomy. 2xxx is success.
func StatusError(rsc int) error {
	switch {
	case rsc >= 2000 && rsc < 3000:
		return nil
	case rsc == 4004:
		return fmt.Errorf("%w (rsc %d)", standarderrors.ErrNotFound, rsc)
	default:
		return fmt.Errorf("%w (rsc %d)", standarderrors.ErrRejected, rsc)
	}
}

func truncate(raw []byte) string {
	const limit = 128
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}

	return string(raw)
}
