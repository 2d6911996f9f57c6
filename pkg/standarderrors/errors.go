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

// Package standarderrors holds the error taxonomy shared by the gateway and the collector
// and the category that decides how each error is handled.
package standarderrors

import "errors"

var (
	// ErrUnreachable is returned when the broker cannot be contacted. The reliable call layer retries it.
	ErrUnreachable = errors.New("broker unreachable")

	// ErrNotFound is returned when the broker reports that a resource does not exist.
	// Listing a missing container means "no children".
	ErrNotFound = errors.New("resource not found")

	// ErrRejected is returned for any other non-success status the broker answers with.
	ErrRejected = errors.New("request rejected by broker")

	// ErrTimeoutExceeded is returned when a reliable call got no response within its maximum wait.
	// It is fatal to the process that issued the call.
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrMissingAnchor is returned when a data buffer arrives for a session the collector holds no anchor for.
	ErrMissingAnchor = errors.New("missing anchor for session")

	// ErrTagCountMismatch is returned when a multi-sensor line has a different number of values than sensor tags.
	ErrTagCountMismatch = errors.New("value count does not match sensor tag count")

	// ErrClockInvariantViolation is returned when a monotonic clock reading goes backwards.
	ErrClockInvariantViolation = errors.New("monotonic clock went backwards")
)
