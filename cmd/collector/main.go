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
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/sensorsync/internal/broker"
	"github.com/united-manufacturing-hub/sensorsync/internal/shutdown"
	"github.com/united-manufacturing-hub/sensorsync/pkg/collector"
	"github.com/united-manufacturing-hub/sensorsync/pkg/config"
	"github.com/united-manufacturing-hub/sensorsync/pkg/logger"
	"github.com/united-manufacturing-hub/sensorsync/pkg/metrics"
	"github.com/united-manufacturing-hub/sensorsync/pkg/record"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
	"github.com/united-manufacturing-hub/sensorsync/pkg/sentry"
	"github.com/united-manufacturing-hub/sensorsync/pkg/xrepo"
)

// Set at build time.
var appVersion string

func main() {
	os.Exit(run())
}

func run() int {
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentCollector)
	log.Infof("This is sensorsync collector version %s", appVersion)

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

	if err := cfg.Validate(config.RoleCollector); err != nil {
		log.Errorf("Invalid config: %s", err)
		return 1
	}

	sentry.InitSentry(cfg.SentryDSN, "sensorsync-collector", appVersion)

	clock := schedule.RealClock{}

	conn, err := broker.Dial(cfg, config.CollectorOriginator, clock)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to connect to broker: %w", err)
		return 1
	}
	defer conn.Close()

	csvConfig, err := cfg.CSVConfig()
	if err != nil {
		log.Errorf("Invalid config: %s", err)
		return 1
	}

	if cfg.Collector.XRepo.Enabled {
		csvConfig.Uploader = xrepo.New(cfg.XRepoConfig(), &http.Client{Timeout: time.Minute}, conn.Caller, clock, logger.For(logger.ComponentXRepo))
		log.Infof("Uploading sample files to %s", cfg.Collector.XRepo.BaseURL)
	}

	sink, err := record.NewCSVSink(csvConfig, logger.For(logger.ComponentRecordSink))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open output directory: %w", err)
		return 1
	}

	coll, err := collector.New(cfg.CollectorConfig(), conn, sink, clock, log)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create collector: %w", err)
		return 1
	}

	server := metrics.SetupMetricsEndpoint(
		cfg.MetricsAddr,
		metrics.NewHealthHandler(conn.Ready),
		coll.Handler(zap.L().Named(logger.ComponentStatusAPI)),
	)

	gs := shutdown.NewGracefulShutdown(shutdown.DefaultTimeout, logger.For(logger.ComponentShutdown))
	defer gs.Done()

	g, ctx := errgroup.WithContext(gs.Context())

	g.Go(func() error {
		return coll.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	log.Infof("Collector started on %s, status API on %s", cfg.Tree().Root(), cfg.MetricsAddr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Collector stopped: %w", err)
		return 1
	}

	log.Info("Collector stopped")

	return 0
}
