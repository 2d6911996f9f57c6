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

package record_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/precisetime"
	"github.com/united-manufacturing-hub/sensorsync/pkg/record"
)

type fakeUploader struct {
	paths []string
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, path string) error {
	f.paths = append(f.paths, path)

	return f.err
}

var _ = Describe("Record", func() {
	ts := precisetime.Timestamp{Seconds: 1700000000, Nanos: 250_000_000, Precision: 6}

	It("renders the output line", func() {
		r := record.Record{Time: ts, DeviceTag: "ESP32", SensorTag: "accel", Value: 1.5}
		Expect(r.Line(time.UTC, 5)).To(Equal("2023-11-14T22:13:20.250000,ESP32,accel,1.50000\n"))
	})

	It("uses the given zone for the date part only", func() {
		berlin := time.FixedZone("CET", 3600)
		r := record.Record{Time: ts, DeviceTag: "d", SensorTag: "s", Value: -2}
		Expect(r.Line(berlin, 0)).To(Equal("2023-11-14T23:13:20.250000,d,s,-2\n"))
	})
})

var _ = Describe("CSVSink", func() {
	var (
		dir   string
		batch record.Batch
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		batch = record.Batch{Device: "dev1", Index: 1, Records: []record.Record{
			{Time: precisetime.Timestamp{Seconds: 1700000000, Precision: 3}, DeviceTag: "ESP32", SensorTag: "accel", Value: 0.126},
			{Time: precisetime.Timestamp{Seconds: 1700000000, Nanos: 1_000_000, Precision: 3}, DeviceTag: "ESP32", SensorTag: "accel", Value: 0.5},
		}}
	})

	It("writes one numbered file per batch", func() {
		sink, err := record.NewCSVSink(record.CSVConfig{Dir: dir, Location: time.UTC, ValuePrecision: 2}, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(sink.Write(context.Background(), batch)).To(Succeed())
		Expect(sink.Write(context.Background(), batch)).To(Succeed())

		raw, err := os.ReadFile(filepath.Join(dir, "sample_0_dev1.csv"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(Equal("ID,,,\n" +
			"2023-11-14T22:13:20.000,ESP32,accel,0.13\n" +
			"2023-11-14T22:13:20.001,ESP32,accel,0.50\n"))
		Expect(filepath.Join(dir, "sample_1_dev1.csv")).To(BeAnExistingFile())
	})

	It("continues numbering after existing files", func() {
		Expect(os.WriteFile(filepath.Join(dir, "sample_7_other.csv"), []byte("ID,,,\n"), 0o600)).To(Succeed())

		sink, err := record.NewCSVSink(record.CSVConfig{Dir: dir}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(sink.Write(context.Background(), batch)).To(Succeed())
		Expect(filepath.Join(dir, "sample_8_dev1.csv")).To(BeAnExistingFile())
	})

	It("removes a file after uploading it", func() {
		up := &fakeUploader{}
		sink, err := record.NewCSVSink(record.CSVConfig{Dir: dir, Uploader: up}, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(sink.Write(context.Background(), batch)).To(Succeed())
		Expect(up.paths).To(ConsistOf(filepath.Join(dir, "sample_0_dev1.csv")))
		Expect(up.paths[0]).NotTo(BeAnExistingFile())
	})

	It("keeps the file when the upload fails", func() {
		up := &fakeUploader{err: errors.New("warehouse down")}
		sink, err := record.NewCSVSink(record.CSVConfig{Dir: dir, Uploader: up}, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(sink.Write(context.Background(), batch)).To(Succeed())
		Expect(up.paths[0]).To(BeAnExistingFile())
	})
})

var _ = Describe("MemorySink", func() {
	It("keeps batches in order", func() {
		sink := &record.MemorySink{}
		Expect(sink.Write(context.Background(), record.Batch{Device: "a", Index: 1})).To(Succeed())
		Expect(sink.Write(context.Background(), record.Batch{Device: "b", Index: 1})).To(Succeed())
		Expect(sink.Batches()).To(HaveLen(2))
		Expect(sink.Batches()[1].Device).To(Equal("b"))
	})
})
