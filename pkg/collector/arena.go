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

package collector

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/metrics"
)

// SessionKey identifies a sync session. Indexes are only unique per device.
type SessionKey struct {
	Device string `json:"device"`
	Index  uint64 `json:"index"`
}

// SessionStatus is the lifecycle position of a session.
type SessionStatus int

const (
	StatusPending SessionStatus = iota
	StatusAcknowledged
	StatusConsumed
)

func (s SessionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// Session is one START/TIMERBEGIN/DATA exchange. Anchor is set once, when the START is seen.
type Session struct {
	SessionKey
	Anchor time.Time
	Status SessionStatus
}

// arena holds the anchors of open sessions. It is bounded, when it is full the least recently
// touched session is dropped and its buffer will later be discarded as missing its anchor.
type arena struct {
	sessions *lru.Cache[SessionKey, *Session]

	mu sync.Mutex
	// legacy counts buffers without a DATA header per device. They are paired by arrival order.
	legacy map[string]uint64
	// consumed is the highest consumed index per device. Those indexes are never anchored again.
	consumed map[string]uint64
}

func newArena(size int, log *zap.SugaredLogger) (*arena, error) {
	sessions, err := lru.NewWithEvict(size, func(key SessionKey, s *Session) {
		if s.Status != StatusConsumed {
			log.Warnf("Session %s/%d dropped from a full arena before its data arrived", key.Device, key.Index)
		}
	})
	if err != nil {
		return nil, err
	}

	return &arena{sessions: sessions, legacy: map[string]uint64{}, consumed: map[string]uint64{}}, nil
}

// anchor returns the session for key and creates it anchored at now if it does not exist.
// An existing anchor is never overwritten. assigned reports whether this call set it.
func (a *arena) anchor(key SessionKey, now time.Time) (s *Session, assigned bool) {
	if existing, ok := a.sessions.Get(key); ok {
		return existing, false
	}

	s = &Session{SessionKey: key, Anchor: now, Status: StatusPending}
	a.sessions.Add(key, s)
	metrics.SetOpenSessions(a.sessions.Len())

	return s, true
}

func (a *arena) acknowledge(s *Session) {
	s.Status = StatusAcknowledged
}

// lookup returns the session for key without changing it.
func (a *arena) lookup(key SessionKey) (Session, bool) {
	s, ok := a.sessions.Peek(key)
	if !ok {
		return Session{}, false
	}

	return *s, true
}

// consume marks the session consumed and evicts it.
func (a *arena) consume(key SessionKey) {
	if s, ok := a.sessions.Peek(key); ok {
		s.Status = StatusConsumed
		a.sessions.Remove(key)
	}

	a.mu.Lock()
	if last, ok := a.consumed[key.Device]; !ok || key.Index > last {
		a.consumed[key.Device] = key.Index
	}
	a.mu.Unlock()

	metrics.SetOpenSessions(a.sessions.Len())
}

// used reports whether key's index is at or below the highest consumed index of its device.
func (a *arena) used(key SessionKey) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	last, ok := a.consumed[key.Device]

	return ok && key.Index <= last
}

// forget drops the index history of device, e.g. after its application was deleted.
func (a *arena) forget(device string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.consumed, device)
	delete(a.legacy, device)
}

// nextLegacyIndex returns the index a headerless buffer of device belongs to.
func (a *arena) nextLegacyIndex(device string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.legacy[device]++

	return a.legacy[device]
}

// observeIndex keeps the legacy counter in step with buffers that named their index.
func (a *arena) observeIndex(device string, index uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index > a.legacy[device] {
		a.legacy[device] = index
	}
}

func (a *arena) len() int {
	return a.sessions.Len()
}

// snapshot copies all open sessions, oldest first.
func (a *arena) snapshot() []Session {
	keys := a.sessions.Keys()
	out := make([]Session, 0, len(keys))

	for _, key := range keys {
		if s, ok := a.sessions.Peek(key); ok {
			out = append(out, *s)
		}
	}

	return out
}
