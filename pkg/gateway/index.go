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

package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const indexFileName = "session.index"

// indexStore hands out session indexes. The last index is written to disk before it is used,
// so a restarted gateway continues above it and never reuses an index.
type indexStore struct {
	mu   sync.Mutex
	path string
	last uint64
}

func openIndexStore(dir string) (*indexStore, error) {
	s := &indexStore{path: filepath.Join(dir, indexFileName)}

	raw, err := os.ReadFile(s.path)

	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading session index: %w", err)
	}

	s.last, err = strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing session index %s: %w", s.path, err)
	}

	return s, nil
}

// next persists and returns the next index. Indexes start at 1.
func (s *indexStore) next() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.last + 1

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(index, 10)+"\n"), 0o600); err != nil {
		return 0, fmt.Errorf("writing session index: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return 0, fmt.Errorf("writing session index: %w", err)
	}

	s.last = index

	return index, nil
}

func (s *indexStore) current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}
