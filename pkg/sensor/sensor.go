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

// Package sensor provides the readings a gateway samples. Real sensor drivers live outside this
// module, Simulated replays recorded readings from text files.
package sensor

import "context"

// Sensor returns one reading per call. Multi-sensor readings are comma-delimited, one value
// per sensor tag of the device.
type Sensor interface {
	Read(ctx context.Context) (string, error)
}

// Func adapts a function to the Sensor interface.
type Func func(ctx context.Context) (string, error)

func (f Func) Read(ctx context.Context) (string, error) { return f(ctx) }
