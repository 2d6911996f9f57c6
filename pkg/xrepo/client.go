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

// Package xrepo uploads finished CSV files to an XRepo data warehouse: authenticate, post the
// file as multipart form and optionally wait for the resulting batch task.
package xrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/metrics"
	"github.com/united-manufacturing-hub/sensorsync/pkg/reliable"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// Batch task states reported by the warehouse.
const (
	TaskCompleted = "COMPLETED"
	TaskError     = "ERROR"
)

var (
	// ErrUnauthorized is returned when the warehouse rejects the credentials or the token.
	ErrUnauthorized = errors.New("xrepo: unauthorized")
	// ErrTaskFailed is returned when a batch task ends in the ERROR state.
	ErrTaskFailed = errors.New("xrepo: batch task failed")
)

const tokenKey = "token"

// Config configures the warehouse client.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	SamplingID string
	// WaitForTask makes Upload poll the batch task until it completes.
	WaitForTask  bool
	PollInterval time.Duration
	// MaxWait bounds the wait for a batch task.
	MaxWait time.Duration
	// TokenTTL is how long a token is reused.
	TokenTTL time.Duration
}

// Client talks to one warehouse.
type Client struct {
	cfg    Config
	http   *http.Client
	caller *reliable.Caller
	clock  schedule.Clock
	tokens *cache.Cache
	log    *zap.SugaredLogger
}

// New returns a client. Requests that cannot reach the warehouse are retried through caller.
func New(cfg Config, httpClient *http.Client, caller *reliable.Caller, clock schedule.Clock, log *zap.SugaredLogger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	if clock == nil {
		clock = schedule.RealClock{}
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if caller == nil {
		caller = reliable.NewCaller(reliable.DefaultConfig(), clock, log)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * time.Minute
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		caller: caller,
		clock:  clock,
		tokens: cache.New(cfg.TokenTTL, cfg.TokenTTL),
		log:    log,
	}
}

// Upload sends the file at path. It implements record.Uploader. A failed upload never takes
// the collector down, so every error comes back as recoverable.
func (c *Client) Upload(ctx context.Context, path string) error {
	if err := c.upload(ctx, path); err != nil {
		err = standarderrors.NewRecoverableError(err)
		metrics.IncErrorCountAndLog(metrics.ComponentXRepo, standarderrors.CategoryOf(err).String(), err, c.log)

		return err
	}

	return nil
}

func (c *Client) upload(ctx context.Context, path string) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	taskID, err := c.Send(ctx, token, path)
	if errors.Is(err, ErrUnauthorized) {
		// The cached token expired on the warehouse side.
		c.tokens.Delete(tokenKey)

		if token, err = c.token(ctx); err != nil {
			return err
		}

		taskID, err = c.Send(ctx, token, path)
	}

	if err != nil {
		return err
	}

	c.log.Infof("Uploaded %s to XRepo", filepath.Base(path))

	if !c.cfg.WaitForTask || taskID == "" {
		return nil
	}

	return c.WaitTask(ctx, token, taskID)
}

func (c *Client) token(ctx context.Context) (string, error) {
	if cached, ok := c.tokens.Get(tokenKey); ok {
		return cached.(string), nil
	}

	token, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}

	c.tokens.SetDefault(tokenKey, token)

	return token, nil
}

// Authenticate exchanges the configured credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]any{
		"username":   c.cfg.Username,
		"password":   c.cfg.Password,
		"rememberMe": false,
	})
	if err != nil {
		return "", err
	}

	raw, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/authenticate", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")

		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("authenticating: %w", err)
	}

	var rsp struct {
		IDToken string `json:"id_token"`
	}
	if err := json.Unmarshal(raw, &rsp); err != nil {
		return "", fmt.Errorf("decoding token: %w", err)
	}

	if rsp.IDToken == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	return rsp.IDToken, nil
}

// Send posts the file at path for the configured sampling and returns the batch task id, if
// the warehouse reported one.
func (c *Client) Send(ctx context.Context, token, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var form bytes.Buffer

	w := multipart.NewWriter(&form)
	if err := w.WriteField("samplingId", c.cfg.SamplingID); err != nil {
		return "", err
	}

	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}

	if _, err := part.Write(content); err != nil {
		return "", err
	}

	if err := w.Close(); err != nil {
		return "", err
	}

	raw, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/samples-files-2", bytes.NewReader(form.Bytes()))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)

		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", filepath.Base(path), err)
	}

	var rsp struct {
		BatchTaskID string `json:"batchTaskId"`
	}

	// Older warehouses answer with an empty body.
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &rsp); err != nil {
			c.log.Debugf("Upload response of %s is not JSON: %v", filepath.Base(path), err)
		}
	}

	return rsp.BatchTaskID, nil
}

// TaskState returns the state of batch task id.
func (c *Client) TaskState(ctx context.Context, token, id string) (string, error) {
	raw, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/batch-tasks/"+id, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "Bearer "+token)

		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("reading batch task %s: %w", id, err)
	}

	var rsp struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &rsp); err != nil {
		return "", fmt.Errorf("decoding batch task %s: %w", id, err)
	}

	return rsp.State, nil
}

// WaitTask polls batch task id until it is COMPLETED. It fails on ERROR and after MaxWait.
func (c *Client) WaitTask(ctx context.Context, token, id string) error {
	started := c.clock.Now()

	for {
		if err := c.clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}

		state, err := c.TaskState(ctx, token, id)
		if err != nil {
			return err
		}

		switch state {
		case TaskCompleted:
			c.log.Infof("Batch task %s completed after %s", id, c.clock.Now().Sub(started))

			return nil
		case TaskError:
			return fmt.Errorf("%w: task %s", ErrTaskFailed, id)
		}

		if c.clock.Now().Sub(started) >= c.cfg.MaxWait {
			return fmt.Errorf("%w: batch task %s still %s after %s", standarderrors.ErrTimeoutExceeded, id, state, c.cfg.MaxWait)
		}
	}
}

// do sends the request built by build and returns the body of a 2xx response. Transport
// failures and 5xx answers are retried until the caller's MaxWait.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	return reliable.Do(ctx, c.caller, func(ctx context.Context) ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}

		rsp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", standarderrors.ErrUnreachable, err)
		}
		defer rsp.Body.Close()

		raw, err := io.ReadAll(rsp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %w", standarderrors.ErrUnreachable, err)
		}

		switch {
		case rsp.StatusCode >= 200 && rsp.StatusCode < 300:
			return raw, nil
		case rsp.StatusCode == http.StatusUnauthorized || rsp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w (status %d)", ErrUnauthorized, rsp.StatusCode)
		case rsp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d", standarderrors.ErrUnreachable, rsp.StatusCode)
		default:
			return nil, fmt.Errorf("%w: status %d: %s", standarderrors.ErrRejected, rsp.StatusCode, strings.TrimSpace(string(raw)))
		}
	})
}
