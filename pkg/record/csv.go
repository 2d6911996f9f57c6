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

package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Uploader ships a finished file somewhere else.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// CSVConfig configures a CSVSink.
type CSVConfig struct {
	Dir string
	// Location is the time zone of the time column. Nil means the local zone.
	Location       *time.Location
	ValuePrecision int
	// Uploader is optional. A file is removed after it was uploaded.
	Uploader Uploader
}

// CSVSink writes one file per batch, named sample_{n}_{device}.csv. n counts up across
// devices and continues after the highest number already present in Dir.
type CSVSink struct {
	cfg  CSVConfig
	mu   sync.Mutex
	next int
	log  *zap.SugaredLogger
}

var _ Sink = (*CSVSink)(nil)

// NewCSVSink creates Dir if needed.
func NewCSVSink(cfg CSVConfig, log *zap.SugaredLogger) (*CSVSink, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	next, err := nextFileNumber(cfg.Dir)
	if err != nil {
		return nil, err
	}

	return &CSVSink{cfg: cfg, next: next, log: log}, nil
}

// Write implements Sink.
func (s *CSVSink) Write(ctx context.Context, batch Batch) error {
	path, err := s.writeFile(batch)
	if err != nil {
		return err
	}

	s.log.Infof("%s CSV file created with %d records", batch.Device, len(batch.Records))

	if s.cfg.Uploader == nil {
		return nil
	}

	// A failed upload leaves the file in place for an operator. It does not fail the batch.
	if err := s.cfg.Uploader.Upload(ctx, path); err != nil {
		s.log.Warnf("Uploading %s failed, keeping the file: %v", filepath.Base(path), err)

		return nil
	}

	if err := os.Remove(path); err != nil {
		s.log.Warnf("Removing uploaded file %s: %v", path, err)
	}

	return nil
}

func (s *CSVSink) writeFile(batch Batch) (string, error) {
	s.mu.Lock()
	n := s.next
	s.next++
	s.mu.Unlock()

	path := filepath.Join(s.cfg.Dir, "sample_"+strconv.Itoa(n)+"_"+batch.Device+".csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}

	w := csv.NewWriter(f)

	if err := w.Write([]string{"ID", "", "", ""}); err != nil {
		_ = f.Close()

		return "", fmt.Errorf("writing %s: %w", path, err)
	}

	for _, r := range batch.Records {
		if err := w.Write(r.Fields(s.cfg.Location, s.cfg.ValuePrecision)); err != nil {
			_ = f.Close()

			return "", fmt.Errorf("writing %s: %w", path, err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		_ = f.Close()

		return "", fmt.Errorf("writing %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}

	return path, nil
}

func nextFileNumber(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading output directory: %w", err)
	}

	next := 0

	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Name(), "sample_")
		if !ok || !strings.HasSuffix(rest, ".csv") {
			continue
		}

		number, _, _ := strings.Cut(rest, "_")
		if n, err := strconv.Atoi(number); err == nil && n >= next {
			next = n + 1
		}
	}

	return next, nil
}
