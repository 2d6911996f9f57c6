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

package sentry

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// debounceWindow is how long an error or warning with the same title is not sent again.
const debounceWindow = 10 * time.Minute

var (
	lastSent   = map[string]time.Time{}
	lastSentMu sync.Mutex
)

// ReportIssue logs err and sends it to Sentry. Fatal issues are flushed synchronously; the
// caller is expected to terminate afterwards.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

// ReportIssuef formats an error message and reports it.
func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports err with tags (device, operation, ...) attached to the event.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, tags map[string]string) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		log.Errorf("Fatal error, terminating: %s", err)
		log.Debugf("Stack trace: %s", string(debug.Stack()))
		sendSentryEvent(createSentryEvent(sentry.LevelFatal, err, tags))
		sentry.Flush(5 * time.Second)
	case IssueTypeError:
		log.Error(err)

		if shouldSend(err) {
			sendSentryEvent(createSentryEvent(sentry.LevelError, err, tags))
		}
	case IssueTypeWarning:
		log.Warn(err)

		if shouldSend(err) {
			sendSentryEvent(createSentryEvent(sentry.LevelWarning, err, tags))
		}
	}
}

func shouldSend(err error) bool {
	title := getMeaningfulErrorTitle(err)

	lastSentMu.Lock()
	defer lastSentMu.Unlock()

	if time.Since(lastSent[title]) < debounceWindow {
		return false
	}

	lastSent[title] = time.Now()

	return true
}
