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

// Package collector runs the server side of the start handshake. It anchors every START at
// its own wall clock, acknowledges it with TIMERBEGIN and turns the buffers that follow into
// timestamped records.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/internal/backoff"
	"github.com/united-manufacturing-hub/sensorsync/pkg/metrics"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
	"github.com/united-manufacturing-hub/sensorsync/pkg/record"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// Config is the runtime configuration of a collector.
type Config struct {
	Tree            onem2m.Tree
	DataContainer   string
	EventsContainer string
	// WaitTime is the pause between passes.
	WaitTime time.Duration
	// TimePrecision is the number of fractional second digits of reconstructed timestamps.
	TimePrecision int
	// ArenaSize bounds the number of open sessions.
	ArenaSize int
	// ProfileTTL is how long a device profile stays cached.
	ProfileTTL time.Duration
	// PurgeOnStart deletes all applications before the first pass.
	PurgeOnStart bool
	// StatsInterval is how often the flight time summary is logged. Zero disables it.
	StatsInterval time.Duration
	// BackoffSlot and BackoffMax shape the wait after a failed pass.
	BackoffSlot time.Duration
	BackoffMax  time.Duration
}

// Validate checks the configuration and fills in defaults for optional fields.
func (c *Config) Validate() error {
	switch {
	case c.Tree.CSE == "" || c.Tree.Name == "":
		return errors.New("collector: cse and cse name are required")
	case c.DataContainer == "" || c.EventsContainer == "":
		return errors.New("collector: data and events container names are required")
	case c.WaitTime < 0:
		return fmt.Errorf("collector: wait time must not be negative, got %s", c.WaitTime)
	case c.TimePrecision < 0:
		return fmt.Errorf("collector: time precision must not be negative, got %d", c.TimePrecision)
	}

	if c.ArenaSize <= 0 {
		c.ArenaSize = 4096
	}

	if c.ProfileTTL <= 0 {
		c.ProfileTTL = time.Minute
	}

	if c.BackoffSlot <= 0 {
		c.BackoffSlot = 100 * time.Millisecond
	}

	if c.BackoffMax <= 0 {
		c.BackoffMax = 10 * time.Second
	}

	return nil
}

// Collector serves all devices registered below the CSE.
type Collector struct {
	cfg      Config
	client   onem2m.Client
	sink     record.Sink
	clock    schedule.Clock
	arena    *arena
	profiles *profiles
	flights  flightStats
	snapshot atomic.Pointer[Snapshot]
	log      *zap.SugaredLogger

	lastStats time.Time
}

// New returns a collector. The clock supplies both the anchors and the pass timing.
func New(cfg Config, client onem2m.Client, sink record.Sink, clock schedule.Clock, log *zap.SugaredLogger) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if clock == nil {
		clock = schedule.RealClock{}
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	sessions, err := newArena(cfg.ArenaSize, log)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		cfg:      cfg,
		client:   client,
		sink:     sink,
		clock:    clock,
		arena:    sessions,
		profiles: newProfiles(client, cfg.Tree, cfg.ProfileTTL),
		log:      log,
	}
	c.snapshot.Store(&Snapshot{Devices: []DeviceStatus{}, Sessions: []SessionView{}})

	return c, nil
}

// Run makes passes until ctx is done. A pass that has started always finishes. Fatal errors end
// the loop, other pass failures are logged and retried after an exponential backoff.
func (c *Collector) Run(ctx context.Context) error {
	if c.cfg.PurgeOnStart {
		if err := c.Purge(context.WithoutCancel(ctx)); err != nil {
			if standarderrors.IsFatal(err) {
				return err
			}

			c.log.Warnf("Purging old applications failed: %v", err)
		}
	}

	failures := int64(0)

	for {
		if ctx.Err() != nil {
			c.log.Infof("Stopping collector with %d open sessions", c.arena.len())

			return nil
		}

		wait := c.cfg.WaitTime

		err := c.Pass(context.WithoutCancel(ctx))

		switch {
		case err == nil:
			failures = 0
		case standarderrors.IsFatal(err):
			return err
		default:
			failures++
			wait = backoff.GetBackoffTime(failures, c.cfg.BackoffSlot, c.cfg.BackoffMax)
			metrics.IncErrorCountAndLog(metrics.ComponentCollector, standarderrors.CategoryOf(err).String(), err, c.log)
			c.log.Warnf("Pass failed (%d in a row), next pass in %s: %v", failures, wait, err)
		}

		if err := c.clock.Sleep(ctx, wait); err != nil {
			c.log.Debugf("Collector sleep interrupted: %v", err)
		}
	}
}

// Purge deletes every application below the CSE. Old applications carry messages of sessions
// whose anchors this process never saw.
func (c *Collector) Purge(ctx context.Context) error {
	apps, err := onem2m.ListOrEmpty(ctx, c.client, c.cfg.Tree.Root(), onem2m.TypeApplication)
	if err != nil {
		return fmt.Errorf("listing applications: %w", err)
	}

	for _, app := range apps {
		if err := c.client.Delete(ctx, c.cfg.Tree.App(app)); err != nil && !errors.Is(err, standarderrors.ErrNotFound) {
			return fmt.Errorf("deleting application %s: %w", app, err)
		}

		c.profiles.forget(app)
		c.arena.forget(app)
		c.log.Infof("Deleted old application %s", app)
	}

	return nil
}

// Pass handles every registered device once: events first, then at most one data buffer.
// A recoverable failure of one device does not stop the pass for the others.
func (c *Collector) Pass(ctx context.Context) error {
	devices, err := onem2m.ListOrEmpty(ctx, c.client, c.cfg.Tree.Root(), onem2m.TypeApplication)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	var passErr error

	for _, device := range devices {
		err := c.handleDevice(ctx, device)
		if err == nil {
			continue
		}

		category := standarderrors.CategoryOf(err)

		switch {
		case category == standarderrors.CategoryFatal:
			return err
		case errors.Is(err, standarderrors.ErrUnreachable):
			// The next device would fail the same way.
			return err
		case category == standarderrors.CategoryRecoverable:
			metrics.IncErrorCountAndLog(metrics.ComponentCollector, category.String(), err, c.log)
			c.log.Warnf("Device %s: %v", device, err)
		default:
			passErr = errors.Join(passErr, fmt.Errorf("device %s: %w", device, err))
		}
	}

	c.publish(devices)
	c.maybeLogStats()

	return passErr
}

func (c *Collector) handleDevice(ctx context.Context, device string) error {
	if err := c.drainEvents(ctx, device); err != nil {
		return err
	}

	return c.takeData(ctx, device)
}

// drainEvents anchors and acknowledges every START of device and deletes it. Other messages stay.
func (c *Collector) drainEvents(ctx context.Context, device string) error {
	events := c.cfg.Tree.Container(device, c.cfg.EventsContainer)

	names, err := onem2m.ListOrEmpty(ctx, c.client, events, onem2m.TypeContentInstance)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}

	for _, name := range names {
		path := onem2m.Child(events, name)

		res, err := c.client.Read(ctx, path)
		if errors.Is(err, standarderrors.ErrNotFound) {
			continue
		}

		if err != nil {
			return fmt.Errorf("reading event %s: %w", name, err)
		}

		msg, err := protocol.Parse(res.Content)

		switch {
		case msg.Kind != protocol.KindStart:
			continue
		case err != nil:
			c.log.Warnf("Deleting malformed START %s of %s: %v", name, device, err)
		case msg.Device != device:
			c.log.Debugf("Ignoring START of %s in the events of %s", msg.Device, device)

			continue
		case c.arena.used(SessionKey{Device: device, Index: msg.Index}):
			c.log.Infof("Deleting START %d of %s, the session was already consumed", msg.Index, device)
		default:
			if err := c.acknowledge(ctx, events, SessionKey{Device: device, Index: msg.Index}); err != nil {
				return err
			}
		}

		if err := c.delete(ctx, path); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) acknowledge(ctx context.Context, events string, key SessionKey) error {
	session, assigned := c.arena.anchor(key, c.clock.Now())
	if assigned {
		metrics.IncAnchorsAssigned(key.Device)
		c.log.Debugf("Anchored %s/%d at %s", key.Device, key.Index, session.Anchor.Format(time.RFC3339Nano))
	}

	if session.Status != StatusPending {
		return nil
	}

	if _, err := c.client.Create(ctx, events, onem2m.NewMessage(protocol.Timer(key.Device, key.Index).Encode())); err != nil {
		return fmt.Errorf("sending TIMERBEGIN %d: %w", key.Index, err)
	}

	c.arena.acknowledge(session)

	return nil
}

// takeData reconstructs the first listed buffer of device.
func (c *Collector) takeData(ctx context.Context, device string) error {
	data := c.cfg.Tree.Container(device, c.cfg.DataContainer)

	names, err := onem2m.ListOrEmpty(ctx, c.client, data, onem2m.TypeContentInstance)
	if err != nil {
		return fmt.Errorf("listing data: %w", err)
	}

	if len(names) == 0 {
		return nil
	}

	name := names[0]
	path := onem2m.Child(data, name)

	res, err := c.client.Read(ctx, path)
	if errors.Is(err, standarderrors.ErrNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("reading buffer %s: %w", name, err)
	}

	arrived := c.clock.Now()

	buf, err := protocol.ParseData(res.Content)
	if err != nil {
		if delErr := c.delete(ctx, path); delErr != nil {
			return delErr
		}

		return standarderrors.NewRecoverableError(fmt.Errorf("discarded buffer %s: %w", name, err))
	}

	profile, err := c.profiles.get(ctx, device)
	if err != nil {
		return err
	}

	var key SessionKey

	if buf.HasHeader {
		key = SessionKey{Device: device, Index: buf.Index}
		c.arena.observeIndex(device, buf.Index)
	} else {
		key = SessionKey{Device: device, Index: c.arena.nextLegacyIndex(device)}
	}

	session, ok := c.arena.lookup(key)
	if !ok {
		metrics.IncMissingAnchor(device)

		if err := c.delete(ctx, path); err != nil {
			return err
		}

		return fmt.Errorf("%w: discarded buffer %s of session %s/%d", standarderrors.ErrMissingAnchor, name, device, key.Index)
	}

	flight := arrived.Sub(session.Anchor)
	metrics.ObserveFlightTime(device, flight)
	c.flights.add(flight)

	records, skipped, err := reconstruct(buf.Samples, session.Anchor, profile, c.cfg.TimePrecision)
	if err != nil {
		return err
	}

	for _, s := range skipped {
		if errors.Is(s.Err, standarderrors.ErrTagCountMismatch) {
			metrics.IncTagMismatch(device)
		}

		c.log.Warnf("Skipping line %d of %s/%d: %v", s.Line, device, key.Index, s.Err)
	}

	if err := c.sink.Write(ctx, record.Batch{Device: device, Index: key.Index, Records: records}); err != nil {
		return fmt.Errorf("writing records of %s/%d: %w", device, key.Index, err)
	}

	if err := c.delete(ctx, path); err != nil {
		return err
	}

	c.arena.consume(key)
	metrics.AddRecords(device, len(records))

	c.log.Infof("Session %s/%d: %d records, flight %s, written after %s",
		device, key.Index, len(records), flight, c.clock.Now().Sub(session.Anchor))

	return nil
}

// delete removes path. A resource that is already gone counts as deleted.
func (c *Collector) delete(ctx context.Context, path string) error {
	err := c.client.Delete(ctx, path)
	if err != nil && !errors.Is(err, standarderrors.ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", path, err)
	}

	return nil
}

func (c *Collector) maybeLogStats() {
	if c.cfg.StatsInterval <= 0 {
		return
	}

	now := c.clock.Now()
	if now.Sub(c.lastStats) < c.cfg.StatsInterval {
		return
	}

	c.lastStats = now

	if s := c.flights.summary(); s.Count > 0 {
		c.log.Infof("Flight time over %d buffers: mean %.3fs, stddev %.3fs, p95 %.3fs", s.Count, s.Mean, s.StdDev, s.P95)
	}
}

// Sessions returns the open sessions, oldest first.
func (c *Collector) Sessions() []Session {
	return c.arena.snapshot()
}

// Flights summarizes recent flight times.
func (c *Collector) Flights() FlightSummary {
	return c.flights.summary()
}

// Snapshot returns the state published at the end of the latest pass.
func (c *Collector) Snapshot() *Snapshot {
	return c.snapshot.Load()
}
