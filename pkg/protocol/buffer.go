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

package protocol

import (
	"strconv"
	"strings"
)

// DataBuffer is the sealed sample buffer of one session. Samples are ordered, sample k was
// taken k/F seconds after the session's start instant.
type DataBuffer struct {
	Device string
	Index  uint64
	// HasHeader is false for legacy buffers that carry only sample lines. Those are paired with
	// a session through the collector's per-device counter.
	HasHeader bool
	Samples   []string
}

// Encode returns "DATA\ndevice\nindex\n" followed by one sample per line.
func (b DataBuffer) Encode() string {
	var sb strings.Builder

	if b.HasHeader {
		sb.WriteString(headerData)
		sb.WriteByte('\n')
		sb.WriteString(b.Device)
		sb.WriteByte('\n')
		sb.WriteString(strconv.FormatUint(b.Index, 10))
		sb.WriteByte('\n')
	}

	for _, s := range b.Samples {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}

	return sb.String()
}

// ParseData decodes a data payload. Blank sample lines are kept as empty samples so every
// sample stays at its position k. Trailing newlines are dropped.
func ParseData(raw string) (DataBuffer, error) {
	lines := splitLines(raw)

	var buf DataBuffer

	if len(lines) > 0 && lines[0] == headerData {
		device, index, err := parseSessionLines(lines)
		if err != nil {
			return DataBuffer{}, err
		}

		buf = DataBuffer{Device: device, Index: index, HasHeader: true}
		lines = lines[3:]
	}

	buf.Samples = make([]string, 0, len(lines))

	for _, line := range lines {
		buf.Samples = append(buf.Samples, strings.TrimSpace(line))
	}

	return buf, nil
}
