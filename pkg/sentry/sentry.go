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

// Package sentry forwards fatal errors and debounced errors/warnings to Sentry.
// Without a DSN every report only goes to the logger.
package sentry

import (
	"strings"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

var enabled atomic.Bool

// InitSentry enables reporting to dsn. An empty dsn leaves reporting disabled.
func InitSentry(dsn, appName, appVersion string) {
	if dsn == "" {
		zap.S().Debug("Sentry disabled, no DSN configured")

		return
	}

	environment := "production"
	if appVersion == "" || strings.Contains(appVersion, "-") {
		environment = "development"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   environment,
		Release:       appName + "@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return
	}

	enabled.Store(true)
}

// getMeaningfulErrorTitle takes the message up to the first '.', ',' or ':'.
func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error, tags map[string]string) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Tags = tags
	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}

	if op, ok := tags["operation"]; ok {
		event.Fingerprint = append(event.Fingerprint, "operation: "+op)
	}

	return event
}

func sendSentryEvent(event *sentry.Event) {
	if !enabled.Load() {
		return
	}

	sentry.CaptureEvent(event)
}
