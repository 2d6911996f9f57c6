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

// Package gateway runs the device side of the start handshake. Each cycle announces a session
// with START, waits for the collector's TIMERBEGIN, samples the sensor and ships the buffer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/metrics"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
	"github.com/united-manufacturing-hub/sensorsync/pkg/sensor"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// AppID is the application id a gateway registers with.
const AppID = "app-sensor"

// Config is the runtime configuration of a gateway.
type Config struct {
	Profile protocol.DeviceProfile
	Tree    onem2m.Tree
	// DataContainer and EventsContainer are the container names below the device application.
	DataContainer   string
	EventsContainer string
	// WaitTime is the polling interval of the events container and of idle waits.
	WaitTime time.Duration
	// AckTimeout bounds the wait for TIMERBEGIN. Zero waits forever.
	AckTimeout time.Duration
	// StateDir holds the session index and the outbox.
	StateDir string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Profile.Validate(); err != nil {
		return err
	}

	switch {
	case c.Tree.CSE == "" || c.Tree.Name == "":
		return errors.New("gateway: cse and cse name are required")
	case c.DataContainer == "" || c.EventsContainer == "":
		return errors.New("gateway: data and events container names are required")
	case c.DataContainer == c.EventsContainer:
		return fmt.Errorf("gateway: data and events container must differ, both are %q", c.DataContainer)
	case c.WaitTime <= 0:
		return fmt.Errorf("gateway: wait time must be positive, got %s", c.WaitTime)
	case c.AckTimeout < 0:
		return fmt.Errorf("gateway: ack timeout must not be negative, got %s", c.AckTimeout)
	case c.StateDir == "":
		return errors.New("gateway: state directory is required")
	}

	return nil
}

// Gateway is one device.
type Gateway struct {
	cfg     Config
	client  onem2m.Client
	sensor  sensor.Sensor
	clock   schedule.Clock
	machine *machine
	index   *indexStore
	outbox  *outbox
	log     *zap.SugaredLogger
}

// New opens the state directory and returns a gateway in the idle state.
func New(cfg Config, client onem2m.Client, src sensor.Sensor, clock schedule.Clock, log *zap.SugaredLogger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if clock == nil {
		clock = schedule.RealClock{}
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	index, err := openIndexStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	box, err := openOutbox(cfg.StateDir, log)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		cfg:     cfg,
		client:  client,
		sensor:  src,
		clock:   clock,
		machine: newMachine(cfg.Profile.Name, log),
		index:   index,
		outbox:  box,
		log:     log,
	}, nil
}

// Close releases the outbox.
func (g *Gateway) Close() error {
	return g.outbox.close()
}

// State returns the current handshake state.
func (g *Gateway) State() string {
	return g.machine.current()
}

// LastIndex returns the index of the latest session.
func (g *Gateway) LastIndex() uint64 {
	return g.index.current()
}

// Pending returns the number of sealed buffers not yet delivered.
func (g *Gateway) Pending() uint64 {
	return g.outbox.length()
}

func (g *Gateway) appPath() string { return g.cfg.Tree.App(g.cfg.Profile.Name) }

func (g *Gateway) eventsPath() string {
	return g.cfg.Tree.Container(g.cfg.Profile.Name, g.cfg.EventsContainer)
}

func (g *Gateway) dataPath() string {
	return g.cfg.Tree.Container(g.cfg.Profile.Name, g.cfg.DataContainer)
}

// Register creates the device application and its containers if they do not exist yet.
// The application carries the device profile as labels, which is how the collector learns it.
func (g *Gateway) Register(ctx context.Context) error {
	name := g.cfg.Profile.Name

	apps, err := onem2m.ListOrEmpty(ctx, g.client, g.cfg.Tree.Root(), onem2m.TypeApplication)
	if err != nil {
		return fmt.Errorf("listing applications: %w", err)
	}

	if slices.Contains(apps, name) {
		g.log.Infof("Application %s exists already", name)
	} else {
		app := onem2m.NewApplication(name, AppID, g.cfg.Profile.Labels())
		if _, err := g.client.Create(ctx, g.cfg.Tree.Root(), app); err != nil {
			return fmt.Errorf("creating application %s: %w", name, err)
		}

		g.log.Infof("Created application %s", name)
	}

	containers, err := onem2m.ListOrEmpty(ctx, g.client, g.appPath(), onem2m.TypeContainer)
	if err != nil {
		return fmt.Errorf("listing containers of %s: %w", name, err)
	}

	for _, cnt := range []string{g.cfg.DataContainer, g.cfg.EventsContainer} {
		if slices.Contains(containers, cnt) {
			continue
		}

		if _, err := g.client.Create(ctx, g.appPath(), onem2m.NewContainer(cnt)); err != nil {
			return fmt.Errorf("creating container %s/%s: %w", name, cnt, err)
		}

		g.log.Infof("Created container %s/%s", name, cnt)
	}

	return nil
}

// Run registers the device, delivers buffers left over from an earlier run and then runs one
// cycle per period until ctx is done. Cancellation is honored only between cycles. Run returns
// nil after a graceful stop and the error of the first fatal failure otherwise.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Register(ctx); err != nil {
		return err
	}

	if n, err := g.outbox.flush(ctx, g.sendBuffer); err != nil {
		return fmt.Errorf("delivering queued buffers: %w", err)
	} else if n > 0 {
		g.log.Infof("Delivered %d buffers queued by an earlier run", n)
	}

	periods := schedule.Every(g.clock.Now(), g.cfg.Profile.CyclePeriod())
	k := 0

	for {
		if ctx.Err() != nil {
			g.log.Infof("Stopping device %s at idle after session %d", g.cfg.Profile.Name, g.index.current())

			return nil
		}

		// A started cycle always runs to the end.
		if err := g.RunCycle(context.WithoutCancel(ctx)); err != nil {
			category := standarderrors.CategoryOf(err)
			metrics.IncErrorCountAndLog(metrics.ComponentGateway, category.String(), err, g.log)

			if category == standarderrors.CategoryFatal {
				return err
			}

			g.log.Warnf("Cycle of %s failed, retrying next period: %v", g.cfg.Profile.Name, err)
		}

		next := k + 1
		if now := g.clock.Now(); now.After(periods.At(next)) {
			next = periods.NextAfter(next, now)
			skipped := next - k - 1
			metrics.AddPeriodOverruns(g.cfg.Profile.Name, skipped)
			g.log.Warnf("Cycle of %s overran its period, skipping %d period(s)", g.cfg.Profile.Name, skipped)
		}

		k = next

		if err := schedule.WaitUntil(ctx, g.clock, periods.At(k), g.cfg.WaitTime); err != nil {
			g.log.Debugf("Idle wait of %s interrupted: %v", g.cfg.Profile.Name, err)
		}
	}
}

// RunCycle runs one handshake cycle from idle back to idle.
func (g *Gateway) RunCycle(ctx context.Context) error {
	if err := g.cycle(ctx); err != nil {
		g.machine.abort(ctx)

		return err
	}

	return nil
}

func (g *Gateway) cycle(ctx context.Context) error {
	device := g.cfg.Profile.Name

	if err := g.machine.event(ctx, EventStart); err != nil {
		return err
	}

	index, err := g.index.next()
	if err != nil {
		return standarderrors.NewFatalError(err)
	}

	requested := g.clock.Now()

	if _, err := g.client.Create(ctx, g.eventsPath(), onem2m.NewMessage(protocol.Start(device, index).Encode())); err != nil {
		return fmt.Errorf("sending START %d: %w", index, err)
	}

	g.log.Infof("Sent START for session %d, waiting for TIMERBEGIN", index)

	if err := g.awaitAck(ctx, index); err != nil {
		return err
	}

	metrics.ObserveHandshake(device, g.clock.Now().Sub(requested))

	if err := g.machine.event(ctx, EventAcknowledge); err != nil {
		return err
	}

	start := g.clock.Now()

	samples, err := sample(ctx, g.clock, g.sensor, g.cfg.Profile, start)
	if err != nil {
		return err
	}

	metrics.AddSamples(device, len(samples))
	g.log.Debugf("Read %d samples for session %d", len(samples), index)

	if err := g.machine.event(ctx, EventSeal); err != nil {
		return err
	}

	buf := protocol.DataBuffer{Device: device, Index: index, HasHeader: true, Samples: samples}
	if err := g.outbox.push(buf); err != nil {
		return err
	}

	if _, err := g.outbox.flush(ctx, g.sendBuffer); err != nil {
		return err
	}

	return g.machine.event(ctx, EventSent)
}

// awaitAck polls the events container until TIMERBEGIN for index shows up and deletes it.
// TIMERs of older sessions of this device are deleted as well. Everything else stays.
func (g *Gateway) awaitAck(ctx context.Context, index uint64) error {
	device := g.cfg.Profile.Name
	started := g.clock.Now()

	for {
		acked, err := g.scanEvents(ctx, index)
		if err != nil {
			return err
		}

		if acked {
			return nil
		}

		if g.cfg.AckTimeout > 0 && g.clock.Now().Sub(started) >= g.cfg.AckTimeout {
			return fmt.Errorf("%w: no TIMERBEGIN for %s/%d within %s",
				standarderrors.ErrTimeoutExceeded, device, index, g.cfg.AckTimeout)
		}

		if err := g.clock.Sleep(ctx, g.cfg.WaitTime); err != nil {
			return err
		}
	}
}

func (g *Gateway) scanEvents(ctx context.Context, index uint64) (bool, error) {
	device := g.cfg.Profile.Name

	names, err := onem2m.ListOrEmpty(ctx, g.client, g.eventsPath(), onem2m.TypeContentInstance)
	if err != nil {
		return false, fmt.Errorf("listing events: %w", err)
	}

	acked := false

	for _, name := range names {
		path := onem2m.Child(g.eventsPath(), name)

		res, err := g.client.Read(ctx, path)
		if errors.Is(err, standarderrors.ErrNotFound) {
			continue
		}

		if err != nil {
			return false, fmt.Errorf("reading event %s: %w", name, err)
		}

		msg, err := protocol.Parse(res.Content)
		if err != nil || msg.Kind != protocol.KindTimer || msg.Device != device || msg.Index > index {
			continue
		}

		if msg.Index < index {
			g.log.Infof("Deleting stale TIMERBEGIN of session %d", msg.Index)
		}

		if err := g.delete(ctx, path); err != nil {
			return false, err
		}

		if msg.Index == index {
			acked = true
		}
	}

	return acked, nil
}

func (g *Gateway) sendBuffer(ctx context.Context, buf protocol.DataBuffer) error {
	if _, err := g.client.Create(ctx, g.dataPath(), onem2m.NewMessage(buf.Encode())); err != nil {
		return fmt.Errorf("sending buffer %d: %w", buf.Index, err)
	}

	metrics.IncBuffersSent(buf.Device)
	g.log.Infof("Sent buffer of session %d with %d samples", buf.Index, len(buf.Samples))

	return nil
}

// delete removes path. A message that is already gone counts as deleted.
func (g *Gateway) delete(ctx context.Context, path string) error {
	err := g.client.Delete(ctx, path)
	if err != nil && !errors.Is(err, standarderrors.ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", path, err)
	}

	return nil
}
