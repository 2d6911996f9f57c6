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

package collector_test

import (
	"context"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/collector"
	"github.com/united-manufacturing-hub/sensorsync/pkg/gateway"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m/onem2mtest"
	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
	"github.com/united-manufacturing-hub/sensorsync/pkg/record"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
	"github.com/united-manufacturing-hub/sensorsync/pkg/sensor"
)

// These specs run a gateway and a collector against one in-memory broker. Both share a fake
// clock, and the collector makes a pass whenever the gateway sleeps.
var _ = Describe("Gateway and collector", func() {
	var (
		ctx    context.Context
		tree   onem2m.Tree
		broker *onem2mtest.Broker
		clock  *schedule.FakeClock
		sink   *record.MemorySink
		coll   *collector.Collector
		t0     time.Time
	)

	profile := func(name string, frequency, sampleTime float64) protocol.DeviceProfile {
		return protocol.DeviceProfile{
			Name:            name,
			Frequency:       frequency,
			SampleTime:      sampleTime,
			Period:          sampleTime + 1,
			ValueConversion: 1,
			DeviceTag:       "tag-" + name,
			SensorTags:      []string{"value"},
		}
	}

	newGateway := func(p protocol.DeviceProfile) *gateway.Gateway {
		n := 0
		src := sensor.Func(func(context.Context) (string, error) {
			n++

			return strconv.Itoa(n), nil
		})

		gw, err := gateway.New(gateway.Config{
			Profile:         p,
			Tree:            tree,
			DataContainer:   "sampling",
			EventsContainer: "events",
			WaitTime:        100 * time.Millisecond,
			StateDir:        GinkgoT().TempDir(),
		}, broker, src, clock, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(gw.Close)
		Expect(gw.Register(ctx)).To(Succeed())

		return gw
	}

	newCollector := func() *collector.Collector {
		c, err := collector.New(collector.Config{
			Tree:            tree,
			DataContainer:   "sampling",
			EventsContainer: "events",
			TimePrecision:   6,
		}, broker, sink, clock, nil)
		Expect(err).NotTo(HaveOccurred())

		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		tree = onem2m.Tree{CSE: "in-cse", Name: "in-name"}
		broker = onem2mtest.NewBroker(tree)
		t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		clock = schedule.NewFakeClock(t0)
		sink = &record.MemorySink{}
		coll = newCollector()

		clock.OnSleep(func(time.Time) {
			Expect(coll.Pass(ctx)).To(Succeed())
		})
	})

	It("reconstructs 2000 samples at exactly anchor + k ms", func() {
		gw := newGateway(profile("dev1", 1000, 2))
		Expect(gw.RunCycle(ctx)).To(Succeed())
		Expect(coll.Pass(ctx)).To(Succeed())

		batches := sink.Batches()
		Expect(batches).To(HaveLen(1))

		records := batches[0].Records
		Expect(records).To(HaveLen(2000))

		// The collector saw START during the gateway's first acknowledgment poll.
		anchor := t0.Add(100 * time.Millisecond)

		for k, r := range records {
			Expect(r.Time.Time()).To(Equal(anchor.Add(time.Duration(k) * time.Millisecond)))
			Expect(r.Value).To(Equal(float64(k + 1)))
		}

		Expect(records[1999].Line(time.UTC, 5)).To(Equal("2024-03-01T12:00:02.099000,tag-dev1,value,2000.00000\n"))
		Expect(coll.Sessions()).To(BeEmpty())
		Expect(broker.Contents(tree.Container("dev1", "events"))).To(BeEmpty())
	})

	It("keeps two devices using the same index apart", func() {
		first := newGateway(profile("dev1", 100, 0.05))
		second := newGateway(profile("dev2", 100, 0.05))

		Expect(first.RunCycle(ctx)).To(Succeed())
		Expect(second.RunCycle(ctx)).To(Succeed())
		Expect(first.LastIndex()).To(Equal(second.LastIndex()))

		Expect(coll.Pass(ctx)).To(Succeed())

		batches := sink.Batches()
		Expect(batches).To(HaveLen(2))

		byDevice := map[string]record.Batch{}
		for _, b := range batches {
			byDevice[b.Device] = b
		}

		Expect(byDevice).To(HaveKey("dev1"))
		Expect(byDevice).To(HaveKey("dev2"))
		Expect(byDevice["dev1"].Records).To(HaveLen(5))
		Expect(byDevice["dev2"].Records).To(HaveLen(5))
		Expect(byDevice["dev1"].Records[0].Time.Before(byDevice["dev2"].Records[0].Time)).To(BeTrue())
	})

	It("discards data whose anchor the collector lost", func() {
		gw := newGateway(profile("dev1", 100, 0.05))
		Expect(gw.RunCycle(ctx)).To(Succeed())

		// A restarted collector never saw the START.
		restarted := newCollector()
		Expect(restarted.Pass(ctx)).To(Succeed())

		Expect(sink.Batches()).To(BeEmpty())
		Expect(broker.Contents(tree.Container("dev1", "sampling"))).To(BeEmpty())
	})
})
