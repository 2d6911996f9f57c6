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

package sensor_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/sensor"
)

var _ = Describe("Simulated", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "a.txt"), []byte("0.0\t1.5\n0.1\t2.5\n"), 0o600)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "b.txt"), []byte("0.2,3.5\r\n\n"), 0o600)).To(Succeed())
	})

	It("drops timestamps and cycles through lines and files", func() {
		s, err := sensor.NewSimulated(dir, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Len()).To(Equal(3))

		var got []string
		for range 4 {
			v, err := s.Read(context.Background())
			Expect(err).NotTo(HaveOccurred())
			got = append(got, v)
		}
		Expect(got).To(Equal([]string{"1.5", "2.5", "3.5", "1.5"}))
	})

	It("combines several lines into one multi-sensor reading", func() {
		s, err := sensor.NewSimulated(dir, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Read(context.Background())).To(Equal("1.5,2.5,3.5"))
	})

	It("rejects a directory without samples", func() {
		_, err := sensor.NewSimulated(GinkgoT().TempDir(), 1)
		Expect(err).To(MatchError(sensor.ErrNoSamples))
	})

	It("adapts plain functions", func() {
		var s sensor.Sensor = sensor.Func(func(context.Context) (string, error) { return "42", nil })
		Expect(s.Read(context.Background())).To(Equal("42"))
	})
})
