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

package reliable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/metrics"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// Config bounds a reliable call.
type Config struct {
	// PollInterval is how often the response slot is checked.
	PollInterval time.Duration `yaml:"pollInterval"`
	// RetryInterval is how long to wait after a send before sending again.
	RetryInterval time.Duration `yaml:"retryInterval"`
	// MaxWait is how long after the first send the call gives up with ErrTimeoutExceeded.
	MaxWait time.Duration `yaml:"maxWait"`
}

// DefaultConfig returns 100ms / 1s / 6s.
func DefaultConfig() Config {
	return Config{
		PollInterval:  100 * time.Millisecond,
		RetryInterval: time.Second,
		MaxWait:       6 * time.Second,
	}
}

// Validate rejects intervals the loop cannot make progress with.
func (c Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	case c.RetryInterval <= 0:
		return fmt.Errorf("retry interval must be positive, got %s", c.RetryInterval)
	case c.MaxWait < c.RetryInterval:
		return fmt.Errorf("max wait %s is shorter than the retry interval %s", c.MaxWait, c.RetryInterval)
	}

	return nil
}

// Caller runs reliable calls with one configuration and clock.
type Caller struct {
	cfg   Config
	clock schedule.Clock
	log   *zap.SugaredLogger
}

// NewCaller returns a caller. A nil clock means the real clock.
func NewCaller(cfg Config, clock schedule.Clock, log *zap.SugaredLogger) *Caller {
	if clock == nil {
		clock = schedule.RealClock{}
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Caller{cfg: cfg, clock: clock, log: log}
}

// Config returns the caller's configuration.
func (c *Caller) Config() Config {
	return c.cfg
}

// Await dispatches call and blocks until its response arrives. The request is re-dispatched
// unchanged whenever RetryInterval passed since the last send without an answer. If nothing
// arrives within MaxWait of the first send, Await fails with ErrTimeoutExceeded. Failed
// dispatches (for example ErrUnreachable) count as sends and are retried on the same schedule.
func Await[T any](ctx context.Context, c *Caller, call *PendingCall[T], dispatch func(context.Context) error) (T, error) {
	var zero T

	send := func() {
		call.markSent(c.clock.Now())
		metrics.IncReliableDispatch()

		if err := dispatch(ctx); err != nil {
			c.log.Debugf("Dispatch of %s failed (attempt %d): %v", call.ID, call.Attempts(), err)
		}
	}

	send()

	for {
		if result, ok := call.Result(); ok {
			first, _ := call.sendTimes()
			metrics.ObserveReliableCall("ok", c.clock.Now().Sub(first))

			return result, nil
		}

		now := c.clock.Now()
		first, last := call.sendTimes()

		if now.Sub(first) >= c.cfg.MaxWait {
			metrics.ObserveReliableCall("timeout", now.Sub(first))

			return zero, fmt.Errorf("%w: no response to %s within %s after %d attempts",
				standarderrors.ErrTimeoutExceeded, call.ID, c.cfg.MaxWait, call.Attempts())
		}

		if now.Sub(last) >= c.cfg.RetryInterval {
			c.log.Debugf("No response to %s after %s, sending again", call.ID, now.Sub(last))
			send()

			continue
		}

		if err := c.clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
			metrics.ObserveReliableCall("error", now.Sub(first))

			return zero, err
		}
	}
}

// Do runs op directly, the degenerate form of Await for a synchronous transport. Only
// ErrUnreachable is retried, with exponential backoff bounded by MaxWait. A transport that
// stays unreachable for MaxWait fails with ErrTimeoutExceeded. Waits and elapsed time use the
// caller's clock.
func Do[T any](ctx context.Context, c *Caller, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.PollInterval
	b.MaxInterval = c.cfg.RetryInterval
	b.MaxElapsedTime = c.cfg.MaxWait
	b.Clock = c.clock
	b.Reset()

	policy := backoff.WithContext(b, ctx)
	start := c.clock.Now()
	attempts := 0

	for {
		attempts++
		metrics.IncReliableDispatch()

		result, err := op(ctx)
		if err == nil {
			metrics.ObserveReliableCall("ok", c.clock.Now().Sub(start))

			return result, nil
		}

		if !errors.Is(err, standarderrors.ErrUnreachable) || ctx.Err() != nil {
			metrics.ObserveReliableCall("error", c.clock.Now().Sub(start))

			return result, err
		}

		next := policy.NextBackOff()
		if next == backoff.Stop {
			elapsed := c.clock.Now().Sub(start)
			if ctx.Err() != nil {
				metrics.ObserveReliableCall("error", elapsed)

				return result, err
			}

			metrics.ObserveReliableCall("timeout", elapsed)

			return result, fmt.Errorf("%w: broker unreachable for %s after %d attempts: %w",
				standarderrors.ErrTimeoutExceeded, c.cfg.MaxWait, attempts, err)
		}

		c.log.Debugf("Broker unreachable (attempt %d), retrying in %s: %v", attempts, next, err)

		if sleepErr := c.clock.Sleep(ctx, next); sleepErr != nil {
			metrics.ObserveReliableCall("error", c.clock.Now().Sub(start))

			return result, err
		}
	}
}
