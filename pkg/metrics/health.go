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

package metrics

import (
	"github.com/heptiolabs/healthcheck"
)

// maxGoroutines is the liveness threshold. Both binaries run a handful of loops, anything far
// above this means goroutines leak.
const maxGoroutines = 1000

// NewHealthHandler returns a health handler with a goroutine liveness check and ready as
// readiness check. ready may be nil.
func NewHealthHandler(ready func() error) healthcheck.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))

	if ready != nil {
		health.AddReadinessCheck("broker", ready)
	}

	return health
}
