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

package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/sensorsync/internal/broker"
	"github.com/united-manufacturing-hub/sensorsync/internal/shutdown"
	"github.com/united-manufacturing-hub/sensorsync/pkg/config"
	"github.com/united-manufacturing-hub/sensorsync/pkg/gateway"
	"github.com/united-manufacturing-hub/sensorsync/pkg/logger"
	"github.com/united-manufacturing-hub/sensorsync/pkg/metrics"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
	"github.com/united-manufacturing-hub/sensorsync/pkg/sensor"
	"github.com/united-manufacturing-hub/sensorsync/pkg/sentry"
)

// Set at build time.
var appVersion string

func main() {
	os.Exit(run())
}

func run() int {
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentGateway)
	log.Infof("This is sensorsync gateway version %s", appVersion)

	path, err := config.Path("")
	if err != nil {
		log.Errorf("Failed to read CONFIG_PATH: %s", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Errorf("Failed to load config: %s", err)
		return 1
	}

	if err := cfg.Validate(config.RoleGateway); err != nil {
		log.Errorf("Invalid config: %s", err)
		return 1
	}

	sentry.InitSentry(cfg.SentryDSN, "sensorsync-gateway", appVersion)

	profile := cfg.Gateway.Device

	src, err := sensor.NewSimulated(cfg.Gateway.SamplesDir, len(profile.SensorTags))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open sensor samples: %w", err)
		return 1
	}

	log.Infof("Replaying %d recorded readings from %s", src.Len(), cfg.Gateway.SamplesDir)

	conn, err := broker.Dial(cfg, profile.Name, schedule.RealClock{})
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to connect to broker: %w", err)
		return 1
	}
	defer conn.Close()

	gw, err := gateway.New(cfg.GatewayConfig(), conn, src, schedule.RealClock{}, log)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create gateway: %w", err)
		return 1
	}

	defer func() {
		if err := gw.Close(); err != nil {
			log.Warnf("Failed to close gateway state: %s", err)
		}
	}()

	server := metrics.SetupMetricsEndpoint(cfg.MetricsAddr, metrics.NewHealthHandler(conn.Ready), nil)

	gs := shutdown.NewGracefulShutdown(shutdown.DefaultTimeout, logger.For(logger.ComponentShutdown))
	defer gs.Done()

	g, ctx := errgroup.WithContext(gs.Context())

	g.Go(func() error {
		return gw.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	log.Infof("Gateway %s started, period %vs, %d samples per cycle", profile.Name, profile.Period, profile.SampleCount())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Gateway stopped: %w", err)
		return 1
	}

	log.Infof("Gateway stopped after session %d, %d buffers pending", gw.LastIndex(), gw.Pending())

	return 0
}
