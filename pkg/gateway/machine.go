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

package gateway

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/metrics"
)

// Handshake states. A device is idle between cycles and only ever leaves the cycle at idle.
const (
	StateIdle        = "idle"
	StateAwaitingAck = "awaiting_ack"
	StateSampling    = "sampling"
	StateSending     = "sending"
)

// Handshake events.
const (
	EventStart       = "start"
	EventAcknowledge = "acknowledge"
	EventSeal        = "seal"
	EventSent        = "sent"
	// EventAbort returns to idle after a cycle failed without taking the process down.
	EventAbort = "abort"
)

var allStates = []string{StateIdle, StateAwaitingAck, StateSampling, StateSending}

// machine is the handshake state machine of one device.
type machine struct {
	fsm    *fsm.FSM
	device string
}

func newMachine(device string, log *zap.SugaredLogger) *machine {
	m := &machine{device: device}

	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateAwaitingAck},
			{Name: EventAcknowledge, Src: []string{StateAwaitingAck}, Dst: StateSampling},
			{Name: EventSeal, Src: []string{StateSampling}, Dst: StateSending},
			{Name: EventSent, Src: []string{StateSending}, Dst: StateIdle},
			{Name: EventAbort, Src: []string{StateAwaitingAck, StateSampling, StateSending}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("Device %s: %s -> %s (%s)", device, e.Src, e.Dst, e.Event)
				metrics.SetGatewayState(device, allStates, e.Dst)
			},
		},
	)

	metrics.SetGatewayState(device, allStates, StateIdle)

	return m
}

func (m *machine) event(ctx context.Context, name string) error {
	return m.fsm.Event(ctx, name)
}

// abort moves the machine back to idle from wherever the failed cycle left it.
func (m *machine) abort(ctx context.Context) {
	if m.fsm.Can(EventAbort) {
		_ = m.fsm.Event(ctx, EventAbort)
	}
}

func (m *machine) current() string {
	return m.fsm.Current()
}
