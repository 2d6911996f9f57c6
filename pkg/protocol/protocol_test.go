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

package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
)

var _ = Describe("Messages", func() {
	It("encodes START and TIMERBEGIN in the line format", func() {
		Expect(protocol.Start("gw1", 7).Encode()).To(Equal("START\ngw1\n7"))
		Expect(protocol.Timer("gw1", 7).Encode()).To(Equal("TIMERBEGIN\ngw1\n7"))
	})

	It("parses what it encodes", func() {
		msg, err := protocol.Parse(protocol.Timer("gw-2", 12).Encode())
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Kind).To(Equal(protocol.KindTimer))
		Expect(msg.Matches("gw-2", 12)).To(BeTrue())
		Expect(msg.Matches("gw-2", 11)).To(BeFalse())
	})

	It("accepts CRLF line endings and a trailing newline", func() {
		msg, err := protocol.Parse("START\r\ngw1\r\n3\r\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(Equal(protocol.Message{Kind: protocol.KindStart, Device: "gw1", Index: 3, Raw: "START\r\ngw1\r\n3\r\n"}))
	})

	It("preserves unknown payloads", func() {
		msg, err := protocol.Parse("CALIBRATE\ngw1")
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Kind).To(Equal(protocol.KindUnknown))
		Expect(msg.Encode()).To(Equal("CALIBRATE\ngw1"))
	})

	DescribeTable("flags broken known messages",
		func(raw string) {
			msg, err := protocol.Parse(raw)
			Expect(errors.Is(err, protocol.ErrMalformed)).To(BeTrue())
			Expect(msg.Kind).To(Equal(protocol.KindStart))
		},
		Entry("missing index", "START\ngw1"),
		Entry("non-numeric index", "START\ngw1\nabc"),
		Entry("zero index", "START\ngw1\n0"),
		Entry("empty device", "START\n \n1"),
	)
})

var _ = Describe("DataBuffer", func() {
	It("round-trips a headed buffer", func() {
		buf := protocol.DataBuffer{Device: "gw1", Index: 4, HasHeader: true, Samples: []string{"0.1,0.2", "0.3,0.4"}}
		Expect(buf.Encode()).To(Equal("DATA\ngw1\n4\n0.1,0.2\n0.3,0.4\n"))

		parsed, err := protocol.ParseData(buf.Encode())
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(buf))
	})

	It("reads legacy buffers without a header", func() {
		parsed, err := protocol.ParseData("1.5\n\n2.5\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.HasHeader).To(BeFalse())
		Expect(parsed.Samples).To(Equal([]string{"1.5", "", "2.5"}))
	})

	It("keeps blank sample lines in place", func() {
		buf := protocol.DataBuffer{Device: "gw1", Index: 2, HasHeader: true, Samples: []string{"1", "", "3"}}

		parsed, err := protocol.ParseData(buf.Encode())
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.Samples).To(Equal([]string{"1", "", "3"}))
	})

	It("rejects a header without index", func() {
		_, err := protocol.ParseData("DATA\ngw1\n")
		Expect(errors.Is(err, protocol.ErrMalformed)).To(BeTrue())
	})
})

var _ = Describe("DeviceProfile", func() {
	profile := protocol.DeviceProfile{
		Name:            "gw1",
		Frequency:       1000,
		SampleTime:      2,
		Period:          5,
		ValueConversion: 101.1122,
		DeviceTag:       "induction_motor",
		SensorTags:      []string{"x_accel", "y_accel", "z_accel"},
	}

	It("renders and parses the broker labels", func() {
		labels := profile.Labels()
		Expect(labels).To(ConsistOf(
			"Frequency[Hz]/1000",
			"SampleTime[s]/2",
			"Period[s]/5",
			"ValueConversion/101.1122",
			"Device/induction_motor",
			"Sensor/x_accel,y_accel,z_accel",
		))

		parsed, err := protocol.ParseLabels("gw1", append(labels, "Location/hall 3"))
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(profile))
	})

	It("defaults the value conversion to 1", func() {
		parsed, err := protocol.ParseLabels("gw1", []string{"Frequency[Hz]/10", "SampleTime[s]/1", "Period[s]/2", "Sensor/a"})
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.ValueConversion).To(Equal(1.0))
	})

	It("computes the sample count without float truncation", func() {
		p := profile
		p.Frequency, p.SampleTime = 100, 0.29
		Expect(p.SampleCount()).To(Equal(29))
		Expect(profile.SampleCount()).To(Equal(2000))
	})

	It("rejects a burst longer than the period", func() {
		p := profile
		p.SampleTime = 6
		Expect(errors.Is(p.Validate(), protocol.ErrInvalidProfile)).To(BeTrue())
	})

	It("rejects a broken label value", func() {
		_, err := protocol.ParseLabels("gw1", []string{"Frequency[Hz]/fast"})
		Expect(errors.Is(err, protocol.ErrInvalidProfile)).To(BeTrue())
	})
})
