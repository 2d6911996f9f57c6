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

package reliable_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/reliable"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// dropTransport loses the responses to the first drops dispatches and answers the next one at once.
type dropTransport struct {
	drops      int
	dispatches int
	sendTimes  []time.Time
	clock      schedule.Clock
}

func (d *dropTransport) dispatcher(call *reliable.PendingCall[string]) func(context.Context) error {
	return func(context.Context) error {
		d.dispatches++
		d.sendTimes = append(d.sendTimes, d.clock.Now())

		if d.dispatches > d.drops {
			call.Complete(fmt.Sprintf("response to %s", call.ID))
		}

		return nil
	}
}

var _ = Describe("PendingCall", func() {
	It("keeps the first response only", func() {
		call := reliable.NewPendingCall[int]("rq-1")
		_, ok := call.Result()
		Expect(ok).To(BeFalse())

		Expect(call.Complete(1)).To(BeTrue())
		Expect(call.Complete(2)).To(BeFalse())

		result, ok := call.Result()
		Expect(ok).To(BeTrue())
		Expect(result).To(Equal(1))
		Eventually(call.Done()).Should(BeClosed())
	})
})

var _ = Describe("Await", func() {
	var (
		clock  *schedule.FakeClock
		caller *reliable.Caller
		start  time.Time
	)

	BeforeEach(func() {
		start = time.Unix(1700000000, 0)
		clock = schedule.NewFakeClock(start)
		caller = reliable.NewCaller(reliable.DefaultConfig(), clock, nil)
	})

	It("returns the response of the first send", func() {
		transport := &dropTransport{clock: clock}
		call := reliable.NewPendingCall[string]("rq-ok")

		result, err := reliable.Await(context.Background(), caller, call, transport.dispatcher(call))
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("response to rq-ok"))
		Expect(call.Attempts()).To(Equal(1))
		Expect(clock.Slept()).To(BeZero())
	})

	DescribeTable("drops k responses",
		func(k int, succeeds bool) {
			transport := &dropTransport{drops: k, clock: clock}
			call := reliable.NewPendingCall[string]("rq-drop")

			_, err := reliable.Await(context.Background(), caller, call, transport.dispatcher(call))
			if succeeds {
				Expect(err).NotTo(HaveOccurred())
				Expect(transport.dispatches).To(Equal(k + 1))
			} else {
				Expect(errors.Is(err, standarderrors.ErrTimeoutExceeded)).To(BeTrue())
				Expect(standarderrors.IsFatal(err)).To(BeTrue())
				Expect(clock.Now().Sub(start)).To(Equal(6 * time.Second))
			}

			for i, sent := range transport.sendTimes {
				Expect(sent.Sub(start)).To(Equal(time.Duration(i) * time.Second))
			}
		},
		Entry("k=0", 0, true),
		Entry("k=3", 3, true),
		Entry("k=5, last retry before max wait", 5, true),
		Entry("k=6, retry would land on max wait", 6, false),
		Entry("k=20", 20, false),
	)

	It("retries failed dispatches on the same schedule", func() {
		failures := 2
		call := reliable.NewPendingCall[string]("rq-unreachable")

		result, err := reliable.Await(context.Background(), caller, call, func(context.Context) error {
			if failures > 0 {
				failures--

				return standarderrors.ErrUnreachable
			}

			call.Complete("ok")

			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("ok"))
		Expect(call.Attempts()).To(Equal(3))
		Expect(clock.Now().Sub(start)).To(Equal(2 * time.Second))
	})

	It("picks up a response that arrives between polls", func() {
		call := reliable.NewPendingCall[string]("rq-late")
		clock.OnSleep(func(now time.Time) {
			if now.Sub(start) >= 300*time.Millisecond {
				call.Complete("late")
			}
		})

		result, err := reliable.Await(context.Background(), caller, call, func(context.Context) error { return nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("late"))
		Expect(call.Attempts()).To(Equal(1))
	})

	It("keeps calls independent of each other", func() {
		first := reliable.NewPendingCall[string]("rq-a")
		second := reliable.NewPendingCall[string]("rq-b")

		_, err := reliable.Await(context.Background(), caller, first, func(context.Context) error {
			second.Complete("stray")
			first.Complete("a")

			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		result, ok := first.Result()
		Expect(ok).To(BeTrue())
		Expect(result).To(Equal("a"))
	})
})

var _ = Describe("Do", func() {
	var caller *reliable.Caller

	BeforeEach(func() {
		caller = reliable.NewCaller(reliable.Config{
			PollInterval:  time.Millisecond,
			RetryInterval: 5 * time.Millisecond,
			MaxWait:       50 * time.Millisecond,
		}, nil, nil)
	})

	It("calls through on success", func() {
		result, err := reliable.Do(context.Background(), caller, func(context.Context) (int, error) { return 42, nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(42))
	})

	It("retries an unreachable broker", func() {
		calls := 0
		result, err := reliable.Do(context.Background(), caller, func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", standarderrors.ErrUnreachable
			}

			return "created", nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("created"))
		Expect(calls).To(Equal(3))
	})

	It("does not retry a broker answer", func() {
		calls := 0
		_, err := reliable.Do(context.Background(), caller, func(context.Context) (string, error) {
			calls++

			return "", fmt.Errorf("read: %w", standarderrors.ErrNotFound)
		})
		Expect(errors.Is(err, standarderrors.ErrNotFound)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})

	It("turns a permanently unreachable broker into a timeout", func() {
		_, err := reliable.Do(context.Background(), caller, func(context.Context) (string, error) {
			return "", standarderrors.ErrUnreachable
		})
		Expect(errors.Is(err, standarderrors.ErrTimeoutExceeded)).To(BeTrue())
		Expect(errors.Is(err, standarderrors.ErrUnreachable)).To(BeTrue())
	})
})

var _ = Describe("Do on an injected clock", func() {
	var (
		clock  *schedule.FakeClock
		caller *reliable.Caller
	)

	BeforeEach(func() {
		clock = schedule.NewFakeClock(time.Unix(1700000000, 0))
		caller = reliable.NewCaller(reliable.DefaultConfig(), clock, nil)
	})

	It("waits between attempts on the caller's clock", func() {
		calls := 0
		_, err := reliable.Do(context.Background(), caller, func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, standarderrors.ErrUnreachable
			}

			return 1, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(calls).To(Equal(3))
		Expect(clock.Slept()).To(BeNumerically(">", 0))
		Expect(clock.Slept()).To(BeNumerically("<", time.Second))
	})

	It("times out once MaxWait passed on the caller's clock", func() {
		cfg := reliable.DefaultConfig()
		started := time.Now()

		_, err := reliable.Do(context.Background(), caller, func(context.Context) (int, error) {
			return 0, standarderrors.ErrUnreachable
		})
		Expect(errors.Is(err, standarderrors.ErrTimeoutExceeded)).To(BeTrue())
		Expect(clock.Slept()).To(BeNumerically(">=", cfg.MaxWait))
		Expect(clock.Slept()).To(BeNumerically("<=", cfg.MaxWait+2*cfg.RetryInterval))
		Expect(time.Since(started)).To(BeNumerically("<", time.Second))
	})

	It("stops retrying when the context ends", func() {
		ctx, cancel := context.WithCancel(context.Background())
		clock.OnSleep(func(time.Time) { cancel() })

		calls := 0
		_, err := reliable.Do(ctx, caller, func(context.Context) (int, error) {
			calls++

			return 0, standarderrors.ErrUnreachable
		})
		Expect(errors.Is(err, standarderrors.ErrUnreachable)).To(BeTrue())
		Expect(errors.Is(err, standarderrors.ErrTimeoutExceeded)).To(BeFalse())
		Expect(calls).To(Equal(2))
	})
})

var _ = Describe("Config", func() {
	It("accepts the defaults", func() {
		Expect(reliable.DefaultConfig().Validate()).To(Succeed())
	})

	It("rejects a max wait below the retry interval", func() {
		cfg := reliable.DefaultConfig()
		cfg.MaxWait = 500 * time.Millisecond
		Expect(cfg.Validate()).NotTo(Succeed())
	})
})
