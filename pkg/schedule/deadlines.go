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

package schedule

import (
	"context"
	"time"

	"github.com/united-manufacturing-hub/sensorsync/pkg/precisetime"
)

// Deadlines is a series of instants origin + offset(k). Every deadline is computed from the
// origin, never from the previous deadline, so waiting late for one does not shift the rest.
type Deadlines struct {
	origin time.Time
	offset func(k int) time.Duration
}

// AtFrequency returns the deadlines origin + k/frequency.
func AtFrequency(origin time.Time, frequency float64) Deadlines {
	return Deadlines{
		origin: origin,
		offset: func(k int) time.Duration { return precisetime.Offset(k, frequency) },
	}
}

// Every returns the deadlines origin + k*interval.
func Every(origin time.Time, interval time.Duration) Deadlines {
	return Deadlines{
		origin: origin,
		offset: func(k int) time.Duration { return time.Duration(k) * interval },
	}
}

// Origin returns deadline 0.
func (d Deadlines) Origin() time.Time {
	return d.origin
}

// At returns deadline k.
func (d Deadlines) At(k int) time.Time {
	return d.origin.Add(d.offset(k))
}

// NextAfter returns the smallest k >= from whose deadline is after now.
func (d Deadlines) NextAfter(from int, now time.Time) int {
	k := from
	for !d.At(k).After(now) {
		k++
	}

	return k
}

// WaitUntil sleep-polls clock until deadline has passed. Each sleep lasts at most granularity,
// which bounds how late the wait can return.
func WaitUntil(ctx context.Context, clock Clock, deadline time.Time, granularity time.Duration) error {
	for {
		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			return nil
		}

		step := remaining
		if granularity > 0 && granularity < step {
			step = granularity
		}

		if err := clock.Sleep(ctx, step); err != nil {
			return err
		}
	}
}
