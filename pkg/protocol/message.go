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

// Package protocol defines the text payloads exchanged through the broker: the START request,
// the TIMERBEGIN acknowledgment and the DATA buffer.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags a Message.
type Kind int

const (
	// KindUnknown is any payload this protocol does not recognize. Such messages are left alone.
	KindUnknown Kind = iota
	// KindStart is sent by a device to open session (device, index).
	KindStart
	// KindTimer is the collector's acknowledgment of a START.
	KindTimer
	// KindData carries the sample buffer of a session.
	KindData
)

const (
	headerStart = "START"
	headerTimer = "TIMERBEGIN"
	headerData  = "DATA"
)

// ErrMalformed is returned when a payload carries a known header but its device or index line is invalid.
var ErrMalformed = errors.New("malformed protocol message")

func (k Kind) String() string {
	switch k {
	case KindStart:
		return headerStart
	case KindTimer:
		return headerTimer
	case KindData:
		return headerData
	default:
		return "UNKNOWN"
	}
}

// Message is a parsed control payload. For KindUnknown only Raw is set.
type Message struct {
	Kind   Kind
	Device string
	Index  uint64
	Raw    string
}

// Start builds the START message for session (device, index).
func Start(device string, index uint64) Message {
	return Message{Kind: KindStart, Device: device, Index: index}
}

// Timer builds the TIMERBEGIN acknowledgment for session (device, index).
func Timer(device string, index uint64) Message {
	return Message{Kind: KindTimer, Device: device, Index: index}
}

// Encode returns the wire form "HEADER\ndevice\nindex". Unknown messages encode to their raw text.
func (m Message) Encode() string {
	if m.Kind == KindUnknown {
		return m.Raw
	}

	return m.Kind.String() + "\n" + m.Device + "\n" + strconv.FormatUint(m.Index, 10)
}

// Matches reports whether m belongs to session (device, index).
func (m Message) Matches(device string, index uint64) bool {
	return m.Device == device && m.Index == index
}

// Parse decodes a control payload. Payloads with an unknown header come back as KindUnknown
// without an error. A known header with a broken body returns the kind together with ErrMalformed.
func Parse(raw string) (Message, error) {
	lines := splitLines(raw)
	if len(lines) == 0 {
		return Message{Kind: KindUnknown, Raw: raw}, nil
	}

	var kind Kind

	switch lines[0] {
	case headerStart:
		kind = KindStart
	case headerTimer:
		kind = KindTimer
	case headerData:
		kind = KindData
	default:
		return Message{Kind: KindUnknown, Raw: raw}, nil
	}

	device, index, err := parseSessionLines(lines)
	if err != nil {
		return Message{Kind: kind, Raw: raw}, err
	}

	return Message{Kind: kind, Device: device, Index: index, Raw: raw}, nil
}

func parseSessionLines(lines []string) (string, uint64, error) {
	if len(lines) < 3 {
		return "", 0, fmt.Errorf("%w: %s needs a device and an index line", ErrMalformed, lines[0])
	}

	device := strings.TrimSpace(lines[1])
	if device == "" {
		return "", 0, fmt.Errorf("%w: empty device name", ErrMalformed)
	}

	index, err := strconv.ParseUint(strings.TrimSpace(lines[2]), 10, 64)
	if err != nil || index == 0 {
		return "", 0, fmt.Errorf("%w: invalid index %q", ErrMalformed, lines[2])
	}

	return device, index, nil
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.TrimRight(raw, "\n")

	if raw == "" {
		return nil
	}

	return strings.Split(raw, "\n")
}
