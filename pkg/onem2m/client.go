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

// Package onem2m is the resource client both processes use to talk to the broker. The broker
// stores a tree of applications, containers and messages. Client hides which binding (REST
// or MQTT) carries the request.
package onem2m

import (
	"context"
	"errors"
	"strings"

	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// ResourceType is the oneM2M type code of a resource.
type ResourceType int

const (
	TypeApplication     ResourceType = 2
	TypeContainer       ResourceType = 3
	TypeContentInstance ResourceType = 4
)

func (t ResourceType) String() string {
	switch t {
	case TypeApplication:
		return "application"
	case TypeContainer:
		return "container"
	case TypeContentInstance:
		return "message"
	default:
		return "unknown"
	}
}

// Operation is the oneM2M operation code of a request primitive.
type Operation int

const (
	OperationCreate   Operation = 1
	OperationRetrieve Operation = 2
	OperationDelete   Operation = 4
)

// Client performs the four broker operations the protocol needs. Implementations return
// errors wrapping standarderrors.ErrUnreachable, ErrNotFound or ErrRejected.
type Client interface {
	// Create creates res under parent and returns the name the broker gave it.
	Create(ctx context.Context, parent string, res Resource) (string, error)
	// List returns the names of the children of parent with type ty, in broker order.
	List(ctx context.Context, parent string, ty ResourceType) ([]string, error)
	// Read retrieves the resource at path.
	Read(ctx context.Context, path string) (Resource, error)
	// Delete removes the resource at path.
	Delete(ctx context.Context, path string) error
}

// ListOrEmpty lists the children of parent and treats ErrNotFound as an empty result.
func ListOrEmpty(ctx context.Context, c Client, parent string, ty ResourceType) ([]string, error) {
	names, err := c.List(ctx, parent, ty)
	if errors.Is(err, standarderrors.ErrNotFound) {
		return nil, nil
	}

	return names, err
}

// LastPathItem returns everything after the last '/' of uri.
func LastPathItem(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}

	return uri
}

// Tree builds resource paths below a CSE.
type Tree struct {
	CSE  string
	Name string
}

// Root is "/{cse}/{name}", the parent of all applications.
func (t Tree) Root() string {
	return "/" + t.CSE + "/" + t.Name
}

// App is the path of application app.
func (t Tree) App(app string) string {
	return t.Root() + "/" + app
}

// Container is the path of container cnt of application app.
func (t Tree) Container(app, cnt string) string {
	return t.App(app) + "/" + cnt
}

// Child joins a parent path and a resource name.
func Child(parent, name string) string {
	return strings.TrimRight(parent, "/") + "/" + name
}
