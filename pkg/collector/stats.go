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
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const flightWindow = 512

// FlightSummary describes the time between anchoring a session and receiving its buffer.
type FlightSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"meanSeconds"`
	StdDev float64 `json:"stdDevSeconds"`
	P95    float64 `json:"p95Seconds"`
}

// flightStats keeps the latest flight times in a ring.
type flightStats struct {
	mu     sync.Mutex
	window []float64
	next   int
}

func (f *flightStats) add(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.window) < flightWindow {
		f.window = append(f.window, d.Seconds())

		return
	}

	f.window[f.next] = d.Seconds()
	f.next = (f.next + 1) % flightWindow
}

func (f *flightStats) summary() FlightSummary {
	f.mu.Lock()
	values := slices.Clone(f.window)
	f.mu.Unlock()

	if len(values) == 0 {
		return FlightSummary{}
	}

	slices.Sort(values)
	mean, std := stat.MeanStdDev(values, nil)

	if len(values) == 1 {
		std = 0
	}

	return FlightSummary{
		Count:  len(values),
		Mean:   mean,
		StdDev: std,
		P95:    stat.Quantile(0.95, stat.Empirical, values, nil),
	}
}
