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

package onem2m_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m/onem2mtest"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

var _ = Describe("Resource codec", func() {
	It("encodes a message as m2m:cin", func() {
		raw, err := onem2m.EncodeResource(onem2m.NewMessage("START\ngw1\n1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{"m2m:cin":{"cnf":"message","con":"START\ngw1\n1"}}`))
	})

	It("encodes an application with its labels", func() {
		raw, err := onem2m.EncodeResource(onem2m.NewApplication("gw1", "app-sensor", []string{"Frequency[Hz]/1000"}))
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{"m2m:ae":{"rn":"gw1","api":"app-sensor","rr":false,"lbl":["Frequency[Hz]/1000"]}}`))
	})

	It("decodes what it encodes", func() {
		raw, err := onem2m.EncodeResource(onem2m.NewContainer("events"))
		Expect(err).NotTo(HaveOccurred())
		res, err := onem2m.DecodeResource(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Type).To(Equal(onem2m.TypeContainer))
		Expect(res.Name).To(Equal("events"))
	})

	It("unwraps legacy quoted content", func() {
		res, err := onem2m.DecodeResource([]byte(`{"m2m:cin":{"rn":"cin_1","con":"\"TIMERBEGIN\ngw1\n2\""}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Content).To(Equal("TIMERBEGIN\ngw1\n2"))
	})

	It("rejects a payload without a known resource", func() {
		_, err := onem2m.DecodeResource([]byte(`{"m2m:sub":{}}`))
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("decodes every uri list shape",
		func(raw string, expected []string) {
			names, err := onem2m.DecodeURIList([]byte(raw))
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal(expected))
		},
		Entry("array", `{"m2m:uril":["/in-cse/in-name/gw1","/in-cse/in-name/gw2"]}`, []string{"gw1", "gw2"}),
		Entry("space separated", `{"m2m:uril":"/in-cse/cin-1 /in-cse/cin-2"}`, []string{"cin-1", "cin-2"}),
		Entry("nested", `{"m2m:uril":{"m2m:uril":["/in-cse/in-name/gw1/events/cin_4"]}}`, []string{"cin_4"}),
		Entry("empty string", `{"m2m:uril":""}`, []string{}),
	)

	It("returns nothing for an empty discovery", func() {
		names, err := onem2m.DecodeURIList(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(BeEmpty())
	})

	It("maps status codes to the error taxonomy", func() {
		Expect(onem2m.StatusError(onem2m.StatusCreated)).To(Succeed())
		Expect(errors.Is(onem2m.StatusError(onem2m.StatusNotFound), standarderrors.ErrNotFound)).To(BeTrue())
		Expect(errors.Is(onem2m.StatusError(5000), standarderrors.ErrRejected)).To(BeTrue())
	})
})

var _ = Describe("Request primitives", func() {
	It("builds a discovery request with filter criteria", func() {
		req := onem2m.NewDiscoveryRequest("admin:admin", "/in-cse/in-name/gw1/events", "rq-1", onem2m.TypeContentInstance)
		raw, err := onem2m.EncodeRequest(req)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{"m2m:rqp":{"m2m:fr":"admin:admin","m2m:to":"/in-cse/in-name/gw1/events","m2m:op":2,"m2m:rqi":"rq-1","m2m:fc":{"m2m:fu":1,"m2m:ty":4}}}`))

		decoded, err := onem2m.DecodeRequest(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.IsDiscovery()).To(BeTrue())
	})

	It("refuses responses that cannot be routed", func() {
		_, err := onem2m.DecodeResponse([]byte(`{"m2m:rsp":{"m2m:rsc":2000}}`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Paths and listing", func() {
	tree := onem2m.Tree{CSE: "in-cse", Name: "in-name"}

	It("builds the resource tree paths", func() {
		Expect(tree.Root()).To(Equal("/in-cse/in-name"))
		Expect(tree.Container("gw1", "sampling")).To(Equal("/in-cse/in-name/gw1/sampling"))
		Expect(onem2m.LastPathItem("/in-cse/in-name/gw1/")).To(Equal("gw1"))
	})

	It("treats a missing parent as an empty list", func() {
		broker := onem2mtest.NewBroker(tree)
		names, err := onem2m.ListOrEmpty(context.Background(), broker, tree.Container("gw1", "events"), onem2m.TypeContentInstance)
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(BeEmpty())
	})

	It("still reports an unreachable broker", func() {
		broker := onem2mtest.NewBroker(tree)
		broker.SetUnreachable(true)
		_, err := onem2m.ListOrEmpty(context.Background(), broker, tree.Root(), onem2m.TypeApplication)
		Expect(errors.Is(err, standarderrors.ErrUnreachable)).To(BeTrue())
	})
})

var _ = Describe("In-memory broker", func() {
	tree := onem2m.Tree{CSE: "in-cse", Name: "in-name"}

	It("serves request primitives the way the MQTT broker does", func() {
		broker := onem2mtest.NewBroker(tree)

		create, err := onem2m.NewCreateRequest("admin:admin", tree.Root(), "rq-1", onem2m.NewApplication("gw1", "app-sensor", nil))
		Expect(err).NotTo(HaveOccurred())
		rsp := broker.Serve(create)
		Expect(rsp.StatusCode).To(Equal(onem2m.StatusCreated))
		Expect(rsp.RequestID).To(Equal("rq-1"))

		rsp = broker.Serve(onem2m.NewDiscoveryRequest("admin:admin", tree.Root(), "rq-2", onem2m.TypeApplication))
		Expect(rsp.StatusCode).To(Equal(onem2m.StatusOK))
		names, err := onem2m.DecodeURIList(rsp.Content)
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"gw1"}))

		rsp = broker.Serve(onem2m.NewDeleteRequest("admin:admin", tree.App("gw1"), "rq-3"))
		Expect(rsp.StatusCode).To(Equal(onem2m.StatusDeleted))

		rsp = broker.Serve(onem2m.NewRetrieveRequest("admin:admin", tree.App("gw1"), "rq-4"))
		Expect(rsp.StatusCode).To(Equal(onem2m.StatusNotFound))
	})
})
