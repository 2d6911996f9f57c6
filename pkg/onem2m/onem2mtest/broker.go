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

// Package onem2mtest provides an in-memory broker for tests. It keeps children in creation
// order and can simulate an unreachable broker.
package onem2mtest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

type node struct {
	res      onem2m.Resource
	children []string
}

// Broker is a goroutine-safe in-memory resource tree implementing onem2m.Client.
type Broker struct {
	mu          sync.Mutex
	nodes       map[string]*node
	nextID      int
	unreachable bool
	requests    map[onem2m.Operation]int
}

var _ onem2m.Client = (*Broker)(nil)

// NewBroker returns a broker whose tree already contains the root of tree.
func NewBroker(tree onem2m.Tree) *Broker {
	b := &Broker{
		nodes:    map[string]*node{},
		requests: map[onem2m.Operation]int{},
	}
	b.nodes[tree.Root()] = &node{res: onem2m.Resource{Name: tree.Name}}

	return b
}

// SetUnreachable makes every following operation fail with ErrUnreachable until reset.
func (b *Broker) SetUnreachable(unreachable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreachable = unreachable
}

// Requests returns how many operations of kind op were served.
func (b *Broker) Requests(op onem2m.Operation) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.requests[op]
}

// Exists reports whether a resource exists at path.
func (b *Broker) Exists(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.nodes[path]

	return ok
}

// Contents returns the content of every message under parent, in creation order.
func (b *Broker) Contents(parent string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[parent]
	if !ok {
		return nil
	}

	var out []string

	for _, name := range n.children {
		child := b.nodes[onem2m.Child(parent, name)]
		if child.res.Type == onem2m.TypeContentInstance {
			out = append(out, child.res.Content)
		}
	}

	return out
}

// Create implements onem2m.Client.
func (b *Broker) Create(_ context.Context, parent string, res onem2m.Resource) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(onem2m.OperationCreate); err != nil {
		return "", err
	}

	p, ok := b.nodes[parent]
	if !ok {
		return "", fmt.Errorf("create under %s: %w", parent, standarderrors.ErrNotFound)
	}

	b.nextID++
	if res.Name == "" {
		res.Name = "cin_" + strconv.Itoa(b.nextID)
	}

	path := onem2m.Child(parent, res.Name)
	if _, exists := b.nodes[path]; exists {
		return "", fmt.Errorf("create %s: %w (already exists)", path, standarderrors.ErrRejected)
	}

	res.ID = "ri-" + strconv.Itoa(b.nextID)
	b.nodes[path] = &node{res: res}
	p.children = append(p.children, res.Name)

	return res.Name, nil
}

// List implements onem2m.Client.
func (b *Broker) List(_ context.Context, parent string, ty onem2m.ResourceType) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(onem2m.OperationRetrieve); err != nil {
		return nil, err
	}

	p, ok := b.nodes[parent]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", parent, standarderrors.ErrNotFound)
	}

	names := []string{}

	for _, name := range p.children {
		if b.nodes[onem2m.Child(parent, name)].res.Type == ty {
			names = append(names, name)
		}
	}

	return names, nil
}

// Read implements onem2m.Client.
func (b *Broker) Read(_ context.Context, path string) (onem2m.Resource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(onem2m.OperationRetrieve); err != nil {
		return onem2m.Resource{}, err
	}

	n, ok := b.nodes[path]
	if !ok {
		return onem2m.Resource{}, fmt.Errorf("read %s: %w", path, standarderrors.ErrNotFound)
	}

	return n.res, nil
}

// Delete implements onem2m.Client. Deleting a resource removes its subtree.
func (b *Broker) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(onem2m.OperationDelete); err != nil {
		return err
	}

	if _, ok := b.nodes[path]; !ok {
		return fmt.Errorf("delete %s: %w", path, standarderrors.ErrNotFound)
	}

	for p := range b.nodes {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(b.nodes, p)
		}
	}

	parentPath := path[:strings.LastIndexByte(path, '/')]
	if parent, ok := b.nodes[parentPath]; ok {
		name := onem2m.LastPathItem(path)
		for i, child := range parent.children {
			if child == name {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)

				break
			}
		}
	}

	return nil
}

func (b *Broker) begin(op onem2m.Operation) error {
	if b.unreachable {
		return fmt.Errorf("in-memory broker: %w", standarderrors.ErrUnreachable)
	}

	b.requests[op]++

	return nil
}

// Serve executes a request primitive and builds the response an MQTT broker would publish.
func (b *Broker) Serve(req onem2m.RequestPrimitive) onem2m.ResponsePrimitive {
	rsp := onem2m.ResponsePrimitive{RequestID: req.RequestID, From: "/in-cse", To: req.From}
	ctx := context.Background()

	var (
		content any
		err     error
	)

	switch {
	case req.Operation == onem2m.OperationCreate:
		var res onem2m.Resource

		res, err = onem2m.DecodeResource(req.Content)
		if err == nil {
			if req.ResourceType != 0 {
				res.Type = req.ResourceType
			}

			var name string

			name, err = b.Create(ctx, req.To, res)
			if err == nil {
				res.Name = name
				content = json.RawMessage(mustEncode(res))
				rsp.StatusCode = onem2m.StatusCreated
			}
		}
	case req.IsDiscovery():
		var names []string

		names, err = b.List(ctx, req.To, req.FilterCriteria.ResourceType)
		if err == nil {
			uris := make([]string, 0, len(names))
			for _, name := range names {
				uris = append(uris, onem2m.Child(req.To, name))
			}

			content = map[string]any{"m2m:uril": map[string]any{"m2m:uril": uris}}
			rsp.StatusCode = onem2m.StatusOK
		}
	case req.Operation == onem2m.OperationRetrieve:
		var res onem2m.Resource

		res, err = b.Read(ctx, req.To)
		if err == nil {
			content = json.RawMessage(mustEncode(res))
			rsp.StatusCode = onem2m.StatusOK
		}
	case req.Operation == onem2m.OperationDelete:
		err = b.Delete(ctx, req.To)
		rsp.StatusCode = onem2m.StatusDeleted
	default:
		err = standarderrors.ErrRejected
	}

	if err != nil {
		rsp.StatusCode = onem2m.StatusBadReq
		if errors.Is(err, standarderrors.ErrNotFound) {
			rsp.StatusCode = onem2m.StatusNotFound
		}

		return rsp
	}

	if content != nil {
		rsp.Content, _ = json.Marshal(content)
	}

	return rsp
}

func mustEncode(res onem2m.Resource) []byte {
	raw, err := onem2m.EncodeResource(res)
	if err != nil {
		panic(err)
	}

	return raw
}
