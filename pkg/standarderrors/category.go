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

package standarderrors

import "errors"

// ErrorCategory decides what the owner of a loop does with an error.
type ErrorCategory int

const (
	// CategoryIgnored errors are expected outcomes, for example listing a container that does not exist yet.
	CategoryIgnored ErrorCategory = iota

	// CategoryTransient errors go away on their own. They are retried or the pass is repeated later.
	CategoryTransient

	// CategoryRecoverable errors lose a unit of work (one buffer, one line) but the loop continues.
	CategoryRecoverable

	// CategoryFatal errors terminate the owning process.
	CategoryFatal
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryIgnored:
		return "ignored"
	case CategoryTransient:
		return "transient"
	case CategoryRecoverable:
		return "recoverable"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CategorizedError is a wrapper that includes the underlying error plus a Category.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

// Error returns the original error message.
func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// NewFatalError wraps err as CategoryFatal regardless of what it wraps.
func NewFatalError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryFatal}
}

// NewRecoverableError wraps err as CategoryRecoverable.
func NewRecoverableError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryRecoverable}
}

// CategoryOf classifies err. An explicit CategorizedError in the chain wins, otherwise the
// sentinel errors of this package decide. Unknown errors are transient.
func CategoryOf(err error) ErrorCategory {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	switch {
	case errors.Is(err, ErrTimeoutExceeded), errors.Is(err, ErrClockInvariantViolation):
		return CategoryFatal
	case errors.Is(err, ErrMissingAnchor), errors.Is(err, ErrTagCountMismatch):
		return CategoryRecoverable
	case errors.Is(err, ErrNotFound):
		return CategoryIgnored
	default:
		return CategoryTransient
	}
}

// IsFatal reports whether err must terminate the process. A nil error is never fatal.
func IsFatal(err error) bool {
	return err != nil && CategoryOf(err) == CategoryFatal
}
