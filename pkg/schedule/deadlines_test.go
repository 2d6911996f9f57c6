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

package schedule_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
)

var _ = Describe("Deadlines", func() {
	origin := time.Unix(1700000000, 0)

	It("derives every deadline from the origin", func() {
		d := schedule.AtFrequency(origin, 3)
		Expect(d.At(0)).To(Equal(origin))
		Expect(d.At(1).Sub(origin)).To(Equal(333_333_333 * time.Nanosecond))
		Expect(d.At(3000).Sub(origin)).To(Equal(1000 * time.Second))
	})

	It("finds the next period boundary after an overrun", func() {
		d := schedule.Every(origin, 5*time.Second)
		Expect(d.NextAfter(1, origin.Add(2*time.Second))).To(Equal(1))
		Expect(d.NextAfter(1, origin.Add(12*time.Second))).To(Equal(3))
		Expect(d.NextAfter(1, origin.Add(15*time.Second))).To(Equal(4))
	})
})

var _ = Describe("WaitUntil", func() {
	It("does not return before the deadline and sleeps in bounded steps", func() {
		clock := schedule.NewFakeClock(time.Unix(0, 0))
		steps := 0
		clock.OnSleep(func(time.Time) { steps++ })

		deadline := time.Unix(0, 0).Add(time.Millisecond)
		Expect(schedule.WaitUntil(context.Background(), clock, deadline, 100*time.Microsecond)).To(Succeed())
		Expect(clock.Now()).To(Equal(deadline))
		Expect(steps).To(Equal(10))
	})

	It("returns at once for a past deadline", func() {
		clock := schedule.NewFakeClock(time.Unix(10, 0))
		Expect(schedule.WaitUntil(context.Background(), clock, time.Unix(5, 0), time.Second)).To(Succeed())
		Expect(clock.Slept()).To(BeZero())
	})

	It("stops when the context ends", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := schedule.WaitUntil(ctx, schedule.RealClock{}, time.Now().Add(time.Hour), time.Second)
		Expect(err).To(MatchError(context.Canceled))
	})
})
