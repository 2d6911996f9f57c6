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

package rest_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m/rest"
	"github.com/united-manufacturing-hub/sensorsync/pkg/reliable"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

const brokerURL = "http://broker.local:8080"

var _ = Describe("REST client", func() {
	var (
		httpClient *http.Client
		client     *rest.Client
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		httpClient = rest.NewHTTPClient(time.Second)
		gock.InterceptClient(httpClient)

		caller := reliable.NewCaller(reliable.Config{
			PollInterval:  time.Millisecond,
			RetryInterval: 5 * time.Millisecond,
			MaxWait:       40 * time.Millisecond,
		}, nil, nil)
		client = rest.NewClient(rest.Config{BaseURL: brokerURL + "/", Origin: "admin:admin"}, httpClient, caller, nil)
	})

	AfterEach(func() {
		Expect(gock.IsDone()).To(BeTrue())
		gock.Off()
		gock.RestoreClient(httpClient)
	})

	It("creates an application with the oneM2M headers", func() {
		gock.New(brokerURL).
			Post("/~/in-cse/in-name").
			MatchHeader("X-M2M-Origin", "admin:admin").
			MatchHeader("Content-Type", `application/json;ty=2`).
			Reply(http.StatusCreated).
			JSON(map[string]any{"m2m:ae": map[string]any{"rn": "gw1", "ri": "/in-cse/CAE123"}})

		name, err := client.Create(ctx, "/in-cse/in-name", onem2m.NewApplication("gw1", "app-sensor", []string{"Device/motor"}))
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("gw1"))
	})

	It("falls back to the resource id for unnamed messages", func() {
		gock.New(brokerURL).
			Post("/~/in-cse/in-name/gw1/events").
			MatchHeader("Content-Type", `application/json;ty=4`).
			Reply(http.StatusCreated).
			JSON(map[string]any{"m2m:cin": map[string]any{"ri": "/in-cse/cin-991", "con": "START\ngw1\n1"}})

		name, err := client.Create(ctx, "/in-cse/in-name/gw1/events", onem2m.NewMessage("START\ngw1\n1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("cin-991"))
	})

	It("lists children through discovery", func() {
		gock.New(brokerURL).
			Get("/~/in-cse/in-name/gw1/sampling").
			MatchParam("fu", "1").
			MatchParam("ty", "4").
			Reply(http.StatusOK).
			JSON(map[string]any{"m2m:uril": []string{"/in-cse/in-name/gw1/sampling/cin_1", "/in-cse/in-name/gw1/sampling/cin_2"}})

		names, err := client.List(ctx, "/in-cse/in-name/gw1/sampling", onem2m.TypeContentInstance)
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(Equal([]string{"cin_1", "cin_2"}))
	})

	It("reads a message", func() {
		gock.New(brokerURL).
			Get("/~/in-cse/in-name/gw1/events/cin_1").
			Reply(http.StatusOK).
			JSON(map[string]any{"m2m:cin": map[string]any{"rn": "cin_1", "con": "TIMERBEGIN\ngw1\n1"}})

		res, err := client.Read(ctx, "/in-cse/in-name/gw1/events/cin_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Content).To(Equal("TIMERBEGIN\ngw1\n1"))
	})

	It("maps 404 to ErrNotFound without retrying", func() {
		gock.New(brokerURL).
			Delete("/~/in-cse/in-name/gw1/events/cin_1").
			Reply(http.StatusNotFound)

		err := client.Delete(ctx, "/in-cse/in-name/gw1/events/cin_1")
		Expect(errors.Is(err, standarderrors.ErrNotFound)).To(BeTrue())
	})

	It("retries an unreachable broker until it answers", func() {
		gock.New(brokerURL).
			Delete("/~/in-cse/in-name/gw1").
			Times(2).
			ReplyError(errors.New("dial tcp: connection refused")) //nolint:err113 // Test needs dynamic error
		gock.New(brokerURL).
			Delete("/~/in-cse/in-name/gw1").
			Reply(http.StatusOK)

		Expect(client.Delete(ctx, "/in-cse/in-name/gw1")).To(Succeed())
	})

	It("gives up with a fatal timeout when the broker stays away", func() {
		gock.New(brokerURL).
			Get("/~/in-cse/in-name").
			Persist().
			ReplyError(errors.New("dial tcp: connection refused")) //nolint:err113 // Test needs dynamic error

		_, err := client.List(ctx, "/in-cse/in-name", onem2m.TypeApplication)
		Expect(errors.Is(err, standarderrors.ErrTimeoutExceeded)).To(BeTrue())
		Expect(standarderrors.IsFatal(err)).To(BeTrue())
		gock.Off()
	})

	It("rejects other status codes", func() {
		gock.New(brokerURL).
			Post("/~/in-cse/in-name/gw1").
			Reply(http.StatusForbidden).
			BodyString("access denied")

		_, err := client.Create(ctx, "/in-cse/in-name/gw1", onem2m.NewContainer("events"))
		Expect(errors.Is(err, standarderrors.ErrRejected)).To(BeTrue())
	})
})
