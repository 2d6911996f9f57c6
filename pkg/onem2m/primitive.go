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
	"fmt"

	"github.com/goccy/go-json"
)

// Response status codes used by the bindings.
const (
	StatusOK       = 2000
	StatusCreated  = 2001
	StatusDeleted  = 2002
	StatusNotFound = 4004
	StatusBadReq   = 4000
)

// FilterUsageDiscovery asks the broker for a list of child URIs instead of the resource itself.
const FilterUsageDiscovery = 1

// FilterCriteria restricts a retrieve to a discovery of children of one type.
type FilterCriteria struct {
	FilterUsage  int          `json:"m2m:fu"`
	ResourceType ResourceType `json:"m2m:ty"`
}

// RequestPrimitive is a oneM2M request as carried over MQTT.
type RequestPrimitive struct {
	From           string          `json:"m2m:fr"`
	To             string          `json:"m2m:to"`
	Operation      Operation       `json:"m2m:op"`
	RequestID      string          `json:"m2m:rqi"`
	Content        json.RawMessage `json:"m2m:pc,omitempty"`
	ResourceType   ResourceType    `json:"m2m:ty,omitempty"`
	FilterCriteria *FilterCriteria `json:"m2m:fc,omitempty"`
}

// ResponsePrimitive is a oneM2M response as carried over MQTT.
type ResponsePrimitive struct {
	StatusCode int             `json:"m2m:rsc"`
	RequestID  string          `json:"m2m:rqi"`
	From       string          `json:"m2m:fr,omitempty"`
	To         string          `json:"m2m:to,omitempty"`
	Content    json.RawMessage `json:"m2m:pc,omitempty"`
}

type requestEnvelope struct {
	Request RequestPrimitive `json:"m2m:rqp"`
}

type responseEnvelope struct {
	Response ResponsePrimitive `json:"m2m:rsp"`
}

// NewCreateRequest builds the primitive that creates res under parent.
func NewCreateRequest(origin, parent, requestID string, res Resource) (RequestPrimitive, error) {
	content, err := EncodeResource(res)
	if err != nil {
		return RequestPrimitive{}, err
	}

	return RequestPrimitive{
		From:         origin,
		To:           parent,
		Operation:    OperationCreate,
		RequestID:    requestID,
		Content:      content,
		ResourceType: res.Type,
	}, nil
}

// NewDiscoveryRequest builds the primitive that lists the children of parent with type ty.
func NewDiscoveryRequest(origin, parent, requestID string, ty ResourceType) RequestPrimitive {
	return RequestPrimitive{
		From:           origin,
		To:             parent,
		Operation:      OperationRetrieve,
		RequestID:      requestID,
		FilterCriteria: &FilterCriteria{FilterUsage: FilterUsageDiscovery, ResourceType: ty},
	}
}

// NewRetrieveRequest builds the primitive that reads the resource at path.
func NewRetrieveRequest(origin, path, requestID string) RequestPrimitive {
	return RequestPrimitive{From: origin, To: path, Operation: OperationRetrieve, RequestID: requestID}
}

// NewDeleteRequest builds the primitive that deletes the resource at path.
func NewDeleteRequest(origin, path, requestID string) RequestPrimitive {
	return RequestPrimitive{From: origin, To: path, Operation: OperationDelete, RequestID: requestID}
}

// IsDiscovery reports whether the request lists children.
func (r RequestPrimitive) IsDiscovery() bool {
	return r.Operation == OperationRetrieve && r.FilterCriteria != nil && r.FilterCriteria.FilterUsage == FilterUsageDiscovery
}

// EncodeRequest wraps r in {"m2m:rqp": ...}.
func EncodeRequest(r RequestPrimitive) ([]byte, error) {
	return json.Marshal(requestEnvelope{Request: r})
}

// DecodeRequest parses {"m2m:rqp": ...}.
func DecodeRequest(raw []byte) (RequestPrimitive, error) {
	var env requestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return RequestPrimitive{}, fmt.Errorf("decoding request primitive: %w", err)
	}

	return env.Request, nil
}

// EncodeResponse wraps r in {"m2m:rsp": ...}.
func EncodeResponse(r ResponsePrimitive) ([]byte, error) {
	return json.Marshal(responseEnvelope{Response: r})
}

// DecodeResponse parses {"m2m:rsp": ...}. A payload without a request id is rejected since
// it cannot be routed to a call.
func DecodeResponse(raw []byte) (ResponsePrimitive, error) {
	var env responseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ResponsePrimitive{}, fmt.Errorf("decoding response primitive: %w", err)
	}

	if env.Response.RequestID == "" {
		return ResponsePrimitive{}, fmt.Errorf("decoding response primitive: missing m2m:rqi in %q", truncate(raw))
	}

	return env.Response, nil
}
