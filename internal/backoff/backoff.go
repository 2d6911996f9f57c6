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

// Package backoff computes randomized exponential wait times for loops that retry a whole
// pass after a failure.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

const int64Max = 1<<63 - 1

// GetBackoffTime returns a random duration in [0, 2^retries) * slotTime, capped at maximum.
func GetBackoffTime(retries int64, slotTime time.Duration, maximum time.Duration) (backoff time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			backoff = maximum
		}
	}()

	if slotTime <= 0 || retries <= 0 {
		return 0
	}

	if retries >= 63 {
		return maximum
	}

	n := rand.Int63n(int64(1) << retries)

	if n > 0 && slotTime.Nanoseconds() > int64Max/n {
		return maximum
	}

	backoff = time.Duration(n) * slotTime
	if backoff > maximum {
		backoff = maximum
	}

	return backoff
}

// Sleeper is the subset of schedule.Clock the backoff needs.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepBackedOff sleeps for GetBackoffTime on s. It returns early when ctx ends.
func SleepBackedOff(ctx context.Context, s Sleeper, retries int64, slotTime time.Duration, maximum time.Duration) error {
	return s.Sleep(ctx, GetBackoffTime(retries, slotTime, maximum))
}
