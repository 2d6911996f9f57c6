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

// Package rest is the synchronous HTTP binding of the resource client:
// POST/GET/DELETE {base}/~{path} with the oneM2M headers.
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/reliable"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// Config configures the REST binding.
type Config struct {
	// BaseURL is the broker address, e.g. "http://10.0.0.5:8080".
	BaseURL string
	// Origin is sent as X-M2M-Origin, e.g. "admin:admin".
	Origin string
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
}

// Client implements onem2m.Client over HTTP.
type Client struct {
	baseURL string
	origin  string
	http    *http.Client
	caller  *reliable.Caller
	log     *zap.SugaredLogger
}

var _ onem2m.Client = (*Client)(nil)

// NewHTTPClient returns an HTTP client with HTTP/2 disabled. Brokers in the field are plain
// HTTP/1.1 servers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Transport: &http.Transport{
			ForceAttemptHTTP2: false,
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
		},
		Timeout: timeout,
	}
}

// NewClient returns a REST client. Every operation runs through caller in synchronous mode,
// so an unreachable broker is retried until the caller's MaxWait.
func NewClient(cfg Config, httpClient *http.Client, caller *reliable.Caller, log *zap.SugaredLogger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeout)
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if caller == nil {
		caller = reliable.NewCaller(reliable.DefaultConfig(), nil, log)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		origin:  cfg.Origin,
		http:    httpClient,
		caller:  caller,
		log:     log,
	}
}

// Create implements onem2m.Client.
func (c *Client) Create(ctx context.Context, parent string, res onem2m.Resource) (string, error) {
	body, err := onem2m.EncodeResource(res)
	if err != nil {
		return "", err
	}

	return reliable.Do(ctx, c.caller, func(ctx context.Context) (string, error) {
		raw, err := c.request(ctx, http.MethodPost, parent, nil, res.Type, body)
		if err != nil {
			return "", fmt.Errorf("create %s under %s: %w", res.Type, parent, err)
		}

		created, err := onem2m.DecodeResource(raw)
		if err != nil {
			return "", err
		}

		if created.Name != "" {
			return created.Name, nil
		}

		return onem2m.LastPathItem(created.ID), nil
	})
}

// List implements onem2m.Client.
func (c *Client) List(ctx context.Context, parent string, ty onem2m.ResourceType) ([]string, error) {
	query := url.Values{}
	query.Set("fu", strconv.Itoa(onem2m.FilterUsageDiscovery))
	query.Set("ty", strconv.Itoa(int(ty)))

	return reliable.Do(ctx, c.caller, func(ctx context.Context) ([]string, error) {
		raw, err := c.request(ctx, http.MethodGet, parent, query, 0, nil)
		if err != nil {
			return nil, fmt.Errorf("list %s under %s: %w", ty, parent, err)
		}

		return onem2m.DecodeURIList(raw)
	})
}

// Read implements onem2m.Client.
func (c *Client) Read(ctx context.Context, path string) (onem2m.Resource, error) {
	return reliable.Do(ctx, c.caller, func(ctx context.Context) (onem2m.Resource, error) {
		raw, err := c.request(ctx, http.MethodGet, path, nil, 0, nil)
		if err != nil {
			return onem2m.Resource{}, fmt.Errorf("read %s: %w", path, err)
		}

		return onem2m.DecodeResource(raw)
	})
}

// Delete implements onem2m.Client.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := reliable.Do(ctx, c.caller, func(ctx context.Context) (struct{}, error) {
		if _, err := c.request(ctx, http.MethodDelete, path, nil, 0, nil); err != nil {
			return struct{}{}, fmt.Errorf("delete %s: %w", path, err)
		}

		return struct{}{}, nil
	})

	return err
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, ty onem2m.ResourceType, body []byte) ([]byte, error) {
	target := c.baseURL + "/~" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-M2M-Origin", c.origin)
	req.Header.Set("X-M2M-RI", uuid.NewString())
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json;ty="+strconv.Itoa(int(ty)))
	}

	response, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", standarderrors.ErrUnreachable, enhanceConnectionError(err))
	}

	defer func() {
		if err := response.Body.Close(); err != nil {
			c.log.Debugf("Error closing response body: %v", err)
		}
	}()

	bodyBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %w", standarderrors.ErrUnreachable, err)
	}

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return bodyBytes, nil
	case response.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w (%s)", standarderrors.ErrNotFound, response.Status)
	case response.StatusCode == http.StatusBadGateway,
		response.StatusCode == http.StatusServiceUnavailable,
		response.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w (%s)", standarderrors.ErrUnreachable, response.Status)
	default:
		return nil, fmt.Errorf("%w (%s): %s", standarderrors.ErrRejected, response.Status, truncate(bodyBytes))
	}
}

func enhanceConnectionError(err error) error {
	switch msg := err.Error(); {
	case strings.Contains(msg, "EOF"):
		return fmt.Errorf("connection closed unexpectedly before receiving response: %w", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("request timed out: %w", err)
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("connection refused: %w (broker down or wrong URL)", err)
	default:
		return fmt.Errorf("connection error: %w", err)
	}
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}

	return string(b)
}
