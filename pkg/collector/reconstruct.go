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
	"fmt"
	"strconv"
	"time"

	"github.com/united-manufacturing-hub/sensorsync/pkg/precisetime"
	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
	"github.com/united-manufacturing-hub/sensorsync/pkg/record"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// lineError describes a sample line that produced no records.
type lineError struct {
	Line int
	Err  error
}

// reconstruct stamps sample k of samples with anchor + k/F. Each value of a line becomes one
// record for the sensor tag at the same position. Empty lines, lines whose value count does not
// match the tags and lines with values that are not numbers are returned as lineErrors and
// skipped. Line positions keep their timestamps, so a skipped line does not shift the lines after it.
func reconstruct(samples []string, anchor time.Time, profile protocol.DeviceProfile, precision int) ([]record.Record, []lineError, error) {
	records := make([]record.Record, 0, len(samples)*len(profile.SensorTags))

	var skipped []lineError

	for k, line := range samples {
		ts, err := precisetime.Reconstruct(anchor, 0, precisetime.Offset(k, profile.Frequency), precision)
		if err != nil {
			return nil, nil, err
		}

		if line == "" {
			skipped = append(skipped, lineError{Line: k, Err: fmt.Errorf("line %d is empty", k)})

			continue
		}

		values := protocol.SplitValues(line)
		if len(values) != len(profile.SensorTags) {
			skipped = append(skipped, lineError{Line: k, Err: fmt.Errorf("%w: line %d has %d values for %d sensor tags",
				standarderrors.ErrTagCountMismatch, k, len(values), len(profile.SensorTags))})

			continue
		}

		lineRecords := make([]record.Record, 0, len(values))

		for i, raw := range values {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				lineRecords = nil
				skipped = append(skipped, lineError{Line: k, Err: fmt.Errorf("line %d: value %q: %w", k, raw, err)})

				break
			}

			lineRecords = append(lineRecords, record.Record{
				Time:      ts,
				DeviceTag: profile.DeviceTag,
				SensorTag: profile.SensorTags[i],
				Value:     v * profile.ValueConversion,
			})
		}

		records = append(records, lineRecords...)
	}

	return records, skipped, nil
}
