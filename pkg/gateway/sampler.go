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

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
	"github.com/united-manufacturing-hub/sensorsync/pkg/sensor"
)

// sample reads floor(F*t) values. Reading k happens at start + k/F. Every deadline is computed
// from start, so a late reading does not shift the ones after it. The call returns at start + N/F.
func sample(ctx context.Context, clock schedule.Clock, src sensor.Sensor, profile protocol.DeviceProfile, start time.Time) ([]string, error) {
	n := profile.SampleCount()
	deadlines := schedule.AtFrequency(start, profile.Frequency)
	granularity := profile.SamplePeriod() / 10

	samples := make([]string, 0, n)

	for k := range n {
		value, err := src.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading sample %d: %w", k, err)
		}

		samples = append(samples, value)

		if err := schedule.WaitUntil(ctx, clock, deadlines.At(k+1), granularity); err != nil {
			return nil, err
		}
	}

	return samples, nil
}
