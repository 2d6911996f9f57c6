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

package mqtt_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m/mqtt"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m/onem2mtest"
	"github.com/united-manufacturing-hub/sensorsync/pkg/reliable"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

var _ = Describe("MQTT client", func() {
	var (
		tree   onem2m.Tree
		broker *onem2mtest.Broker
		conn   *fakeConnection
		client *mqtt.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		tree = onem2m.Tree{CSE: "in-cse", Name: "in-name"}
		broker = onem2mtest.NewBroker(tree)
		conn = newFakeConnection(broker)

		caller := reliable.NewCaller(reliable.Config{
			PollInterval:  time.Millisecond,
			RetryInterval: 20 * time.Millisecond,
			MaxWait:       200 * time.Millisecond,
		}, nil, nil)

		var err error
		client, err = mqtt.New(conn, mqtt.Config{Originator: "gw1", CSE: "in-cse", Origin: "admin:admin", QoS: 1}, caller, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("uses the oneM2M request and response topics", func() {
		Expect(mqtt.RequestTopic("gw1", "in-cse")).To(Equal("/oneM2M/req/gw1/in-cse/json"))
		Expect(mqtt.ResponseTopic("gw1", "in-cse")).To(Equal("/oneM2M/resp/in-cse/gw1/json"))
	})

	It("performs the four operations", func() {
		name, err := client.Create(ctx, tree.Root(), onem2m.NewApplication("gw1", "app-sensor", []string{"Device/motor"}))
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("gw1"))

		_, err = client.Create(ctx, tree.App("gw1"), onem2m.NewContainer("events"))
		Expect(err).NotTo(HaveOccurred())

		msg, err := client.Create(ctx, tree.Container("gw1", "events"), onem2m.NewMessage("START\ngw1\n1"))
		Expect(err).NotTo(HaveOccurred())

		names, err := client.List(ctx, tree.Container("gw1", "events"), onem2m.TypeContentInstance)
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{msg}))

		res, err := client.Read(ctx, onem2m.Child(tree.Container("gw1", "events"), msg))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Content).To(Equal("START\ngw1\n1"))

		Expect(client.Delete(ctx, onem2m.Child(tree.Container("gw1", "events"), msg))).To(Succeed())
		Expect(broker.Contents(tree.Container("gw1", "events"))).To(BeEmpty())

		Expect(conn.publishedTopics()).To(HaveEach("/oneM2M/req/gw1/in-cse/json"))
	})

	It("maps a 4004 response to ErrNotFound", func() {
		_, err := client.Read(ctx, tree.App("ghost"))
		Expect(errors.Is(err, standarderrors.ErrNotFound)).To(BeTrue())
	})

	It("retransmits when responses are lost", func() {
		conn.drop(2)
		names, err := client.List(ctx, tree.Root(), onem2m.TypeApplication)
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(BeEmpty())
		Expect(conn.publishedTopics()).To(HaveLen(3))
	})

	It("ignores duplicate responses", func() {
		conn.duplicate = true
		_, err := client.Create(ctx, tree.Root(), onem2m.NewApplication("gw2", "app-sensor", nil))
		Expect(err).NotTo(HaveOccurred())
		names, err := client.List(ctx, tree.Root(), onem2m.TypeApplication)
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"gw2"}))
	})

	It("does not hand a response to the wrong call", func() {
		stray, err := onem2m.EncodeResponse(onem2m.ResponsePrimitive{StatusCode: onem2m.StatusNotFound, RequestID: "someone-else"})
		Expect(err).NotTo(HaveOccurred())
		conn.strays = [][]byte{stray, []byte("not json")}

		_, err = client.Create(ctx, tree.Root(), onem2m.NewApplication("gw3", "app-sensor", nil))
		Expect(err).NotTo(HaveOccurred())
	})

	It("times out fatally when no response ever arrives", func() {
		conn.drop(1000)
		_, err := client.List(ctx, tree.Root(), onem2m.TypeApplication)
		Expect(errors.Is(err, standarderrors.ErrTimeoutExceeded)).To(BeTrue())
		Expect(standarderrors.IsFatal(err)).To(BeTrue())
	})

	It("reports an unreachable broker while disconnected", func() {
		conn.setConnected(false)
		Expect(errors.Is(client.Ready(), standarderrors.ErrUnreachable)).To(BeTrue())

		go func() {
			time.Sleep(50 * time.Millisecond)
			conn.setConnected(true)
		}()

		_, err := client.List(ctx, tree.Root(), onem2m.TypeApplication)
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Ready()).To(Succeed())
	})
})
