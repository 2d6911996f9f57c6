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

// Package record holds the timestamped records the collector reconstructs and the sinks that
// store them.
package record

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/sensorsync/pkg/precisetime"
)

// Record is one reconstructed reading.
type Record struct {
	Time      precisetime.Timestamp
	DeviceTag string
	SensorTag string
	Value     float64
}

// Fields returns the four output columns: ISO-8601 time in loc with its fractional digits,
// device tag, sensor tag and the value with valuePrecision decimals.
func (r Record) Fields(loc *time.Location, valuePrecision int) []string {
	return []string{
		r.Time.Format(loc),
		r.DeviceTag,
		r.SensorTag,
		strconv.FormatFloat(r.Value, 'f', valuePrecision, 64),
	}
}

// Line returns the record as a newline terminated output line.
func (r Record) Line(loc *time.Location, valuePrecision int) string {
	f := r.Fields(loc, valuePrecision)

	return f[0] + "," + f[1] + "," + f[2] + "," + f[3] + "\n"
}

// Batch is the output of one reconstructed buffer.
type Batch struct {
	Device  string
	Index   uint64
	Records []Record
}

// Sink receives reconstructed batches.
type Sink interface {
	Write(ctx context.Context, batch Batch) error
}

// MemorySink keeps every batch in memory.
type MemorySink struct {
	mu      sync.Mutex
	batches []Batch
}

// Write implements Sink.
func (m *MemorySink) Write(_ context.Context, batch Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches = append(m.batches, batch)

	return nil
}

// Batches returns a copy of the batches written so far.
func (m *MemorySink) Batches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Batch(nil), m.batches...)
}
