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

// Package reliable turns an at-least-once, lossy request/response transport into a blocking
// call with a bounded wait.
package reliable

import (
	"sync"
	"time"
)

// PendingCall is the state of exactly one outstanding request. The transport's receive path
// completes it, the caller polls it. Nothing is shared between calls.
type PendingCall[T any] struct {
	// ID correlates responses with this call. It is stable across retransmissions.
	ID string

	mu        sync.Mutex
	done      chan struct{}
	result    T
	completed bool

	firstSend time.Time
	lastSend  time.Time
	attempts  int
}

// NewPendingCall returns a fresh call with no response.
func NewPendingCall[T any](id string) *PendingCall[T] {
	return &PendingCall[T]{ID: id, done: make(chan struct{})}
}

// Complete stores the response. Only the first response counts; duplicates caused by
// retransmission are dropped and Complete returns false for them.
func (p *PendingCall[T]) Complete(result T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.completed {
		return false
	}

	p.result = result
	p.completed = true
	close(p.done)

	return true
}

// Result returns the response without blocking.
func (p *PendingCall[T]) Result() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.result, p.completed
}

// Done is closed once a response arrived.
func (p *PendingCall[T]) Done() <-chan struct{} {
	return p.done
}

// Attempts returns how often the request was dispatched.
func (p *PendingCall[T]) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.attempts
}

func (p *PendingCall[T]) markSent(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attempts == 0 {
		p.firstSend = now
	}

	p.lastSend = now
	p.attempts++
}

func (p *PendingCall[T]) sendTimes() (first, last time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.firstSend, p.lastSend
}
