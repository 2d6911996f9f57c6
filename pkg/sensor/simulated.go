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

package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNoSamples is returned by NewSimulated when the sample directory holds no readable lines.
var ErrNoSamples = errors.New("no sample lines found")

// Simulated replays recorded sample files. Every line of a file is "timestamp<TAB>value" or
// "timestamp,value". The timestamp is dropped. Each Read joins the next ValuesPerRead lines with
// commas, cycling through the lines of every file and then through the files.
type Simulated struct {
	mu        sync.Mutex
	lines     []string
	next      int
	perRead   int
	directory string
}

// NewSimulated loads every regular file in dir in name order. valuesPerRead is the number of
// lines combined into one reading, normally the device's sensor tag count.
func NewSimulated(dir string, valuesPerRead int) (*Simulated, error) {
	if valuesPerRead < 1 {
		valuesPerRead = 1
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading sample directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	var lines []string

	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading sample file %s: %w", name, err)
		}

		for _, line := range strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}

			lines = append(lines, valueOf(line))
		}
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSamples, dir)
	}

	return &Simulated{lines: lines, perRead: valuesPerRead, directory: dir}, nil
}

// Read returns the next reading.
func (s *Simulated) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]string, s.perRead)
	for i := range values {
		values[i] = s.lines[s.next]
		s.next = (s.next + 1) % len(s.lines)
	}

	return strings.Join(values, ","), nil
}

// Len is the number of recorded lines.
func (s *Simulated) Len() int { return len(s.lines) }

func valueOf(line string) string {
	sep := strings.IndexByte(line, '\t')
	if sep < 0 {
		sep = strings.IndexByte(line, ',')
	}

	return strings.TrimSpace(line[sep+1:])
}
