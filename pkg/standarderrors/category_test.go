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

package standarderrors_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

var _ = Describe("Error categories", func() {
	DescribeTable("classifies the taxonomy",
		func(err error, expected standarderrors.ErrorCategory) {
			Expect(standarderrors.CategoryOf(err)).To(Equal(expected))
			wrapped := fmt.Errorf("creating message under /in-cse/in-name/gw1/events: %w", err)
			Expect(standarderrors.CategoryOf(wrapped)).To(Equal(expected))
		},
		Entry("unreachable", standarderrors.ErrUnreachable, standarderrors.CategoryTransient),
		Entry("rejected", standarderrors.ErrRejected, standarderrors.CategoryTransient),
		Entry("not found", standarderrors.ErrNotFound, standarderrors.CategoryIgnored),
		Entry("timeout", standarderrors.ErrTimeoutExceeded, standarderrors.CategoryFatal),
		Entry("clock", standarderrors.ErrClockInvariantViolation, standarderrors.CategoryFatal),
		Entry("missing anchor", standarderrors.ErrMissingAnchor, standarderrors.CategoryRecoverable),
		Entry("tag mismatch", standarderrors.ErrTagCountMismatch, standarderrors.CategoryRecoverable),
	)

	It("treats unknown errors as transient", func() {
		err := errors.New("connection reset by peer") //nolint:err113 // Test needs dynamic error
		Expect(standarderrors.CategoryOf(err)).To(Equal(standarderrors.CategoryTransient))
		Expect(standarderrors.IsFatal(err)).To(BeFalse())
	})

	It("lets an explicit category win over the sentinel", func() {
		err := standarderrors.NewFatalError(fmt.Errorf("registration: %w", standarderrors.ErrRejected))
		Expect(standarderrors.IsFatal(err)).To(BeTrue())
		Expect(errors.Is(err, standarderrors.ErrRejected)).To(BeTrue())

		downgraded := standarderrors.NewRecoverableError(standarderrors.ErrTimeoutExceeded)
		Expect(standarderrors.IsFatal(downgraded)).To(BeFalse())
		Expect(downgraded.Error()).To(Equal(standarderrors.ErrTimeoutExceeded.Error()))
	})

	It("never reports nil as fatal", func() {
		Expect(standarderrors.IsFatal(nil)).To(BeFalse())
	})
})
