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

// Package metrics holds the Prometheus metrics of both binaries and the HTTP endpoint that
// serves them together with the health checks.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/logger"
	"github.com/united-manufacturing-hub/sensorsync/pkg/sentry"
)

const (
	// Component labels.
	ComponentGateway   = "gateway"
	ComponentCollector = "collector"
	ComponentMQTT      = "mqtt_binding"
	ComponentHTTP      = "http_binding"
	ComponentXRepo     = "xrepo"
)

var namespace = "sensorsync"

var (
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component and category",
		},
		[]string{"component", "category"},
	)

	// Reliable call layer.
	reliableCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reliable",
			Name:      "calls_total",
			Help:      "Reliable calls by outcome (ok, timeout, error)",
		},
		[]string{"outcome"},
	)
	reliableDispatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reliable",
			Name:      "dispatches_total",
			Help:      "Requests put on the wire, including retries",
		},
	)
	reliableLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reliable",
			Name:      "call_duration_seconds",
			Help:      "Time from first send to response",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
	)

	// Gateway.
	gatewayState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "state",
			Help:      "1 for the handshake state the device is currently in",
		},
		[]string{"device", "state"},
	)
	handshakeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "handshake_duration_seconds",
			Help:      "Time from sending START to receiving TIMERBEGIN",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"device"},
	)
	samplesTaken = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "samples_total",
			Help:      "Sensor readings taken",
		},
		[]string{"device"},
	)
	buffersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "buffers_sent_total",
			Help:      "Sample buffers delivered to the data container",
		},
		[]string{"device"},
	)
	periodOverruns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "period_overruns_total",
			Help:      "Period boundaries skipped because a cycle took longer than its period",
		},
		[]string{"device"},
	)

	// Collector.
	anchorsAssigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "anchors_assigned_total",
			Help:      "Sessions that received a wall-clock anchor",
		},
		[]string{"device"},
	)
	missingAnchors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "missing_anchor_total",
			Help:      "Data buffers discarded because their session had no anchor",
		},
		[]string{"device"},
	)
	tagMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "tag_count_mismatch_total",
			Help:      "Sample lines skipped because their value count did not match the sensor tags",
		},
		[]string{"device"},
	)
	recordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "records_total",
			Help:      "Timestamped records emitted",
		},
		[]string{"device"},
	)
	openSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "open_sessions",
			Help:      "Sessions with an anchor that were not consumed yet",
		},
	)
	flightTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "flight_time_seconds",
			Help:      "Time between anchoring a session and receiving its data buffer",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"device"},
	)
)

// SetupMetricsEndpoint starts an HTTP server serving /metrics, the /live and /ready checks of
// health (if not nil) and api under /api/ (if not nil).
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string, health healthcheck.Handler, api http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if health != nil {
		mux.HandleFunc("/live", health.LiveEndpoint)
		mux.HandleFunc("/ready", health.ReadyEndpoint)
	}

	if api != nil {
		mux.Handle("/api/", api)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}

// IncErrorCountAndLog increments the error counter and logs err at debug level if log is set.
func IncErrorCountAndLog(component, category string, err error, log *zap.SugaredLogger) {
	errorCounter.WithLabelValues(component, category).Inc()

	if log != nil {
		log.Debugf("Component %s failed (%s): %v", component, category, err)
	}
}

func ObserveReliableCall(outcome string, duration time.Duration) {
	reliableCalls.WithLabelValues(outcome).Inc()

	if outcome == "ok" {
		reliableLatency.Observe(duration.Seconds())
	}
}

func IncReliableDispatch() { reliableDispatches.Inc() }

// SetGatewayState marks state as the current handshake state of device.
func SetGatewayState(device string, states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}

		gatewayState.WithLabelValues(device, s).Set(v)
	}
}

func ObserveHandshake(device string, d time.Duration) {
	handshakeDuration.WithLabelValues(device).Observe(d.Seconds())
}

func AddSamples(device string, n int) { samplesTaken.WithLabelValues(device).Add(float64(n)) }

func IncBuffersSent(device string) { buffersSent.WithLabelValues(device).Inc() }

func AddPeriodOverruns(device string, n int) {
	periodOverruns.WithLabelValues(device).Add(float64(n))
}

func IncAnchorsAssigned(device string) { anchorsAssigned.WithLabelValues(device).Inc() }

func IncMissingAnchor(device string) { missingAnchors.WithLabelValues(device).Inc() }

func IncTagMismatch(device string) { tagMismatches.WithLabelValues(device).Inc() }

func AddRecords(device string, n int) { recordsWritten.WithLabelValues(device).Add(float64(n)) }

func SetOpenSessions(n int) { openSessions.Set(float64(n)) }

func ObserveFlightTime(device string, d time.Duration) {
	flightTime.WithLabelValues(device).Observe(d.Seconds())
}
