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

// Package precisetime turns a coarse wall-clock anchor plus a monotonic duration into a
// reproducible absolute timestamp. All arithmetic is done on integer nanoseconds so that
// adding thousands of sample offsets never drifts.
package precisetime

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// MaxPrecision is the number of fractional digits a Timestamp can carry. Go clocks tick in
// nanoseconds, so anything beyond 9 digits would be invented.
const MaxPrecision = 9

const nanosPerSecond = int64(time.Second)

// Timestamp is an absolute point in time split into whole Unix seconds and a rounded fraction.
type Timestamp struct {
	// Seconds is floor(unix time).
	Seconds int64
	// Nanos is the fraction in nanoseconds, already rounded to Precision digits. 0 <= Nanos < 1e9.
	Nanos int64
	// Precision is the number of fractional digits that are significant.
	Precision int
}

var processStart = time.Now()

// Monotonic returns the time elapsed on the monotonic clock since the process started.
// Use it for the anchorMono and nowMono arguments of Reconstruct.
func Monotonic() time.Duration {
	return time.Since(processStart)
}

// Reconstruct returns anchorWall + (nowMono - anchorMono), rounded half-to-even to precision
// fractional digits. The integer and fractional parts of both terms are summed separately and
// the fractional overflow is carried. A nowMono before anchorMono is rejected with
// ErrClockInvariantViolation.
func Reconstruct(anchorWall time.Time, anchorMono, nowMono time.Duration, precision int) (Timestamp, error) {
	if nowMono < anchorMono {
		return Timestamp{}, fmt.Errorf("%w: now %d ns is before anchor %d ns",
			standarderrors.ErrClockInvariantViolation, nowMono, anchorMono)
	}

	precision = clampPrecision(precision)
	elapsed := int64(nowMono - anchorMono)

	seconds := anchorWall.Unix() + elapsed/nanosPerSecond
	nanos := int64(anchorWall.Nanosecond()) + elapsed%nanosPerSecond

	if nanos >= nanosPerSecond {
		seconds++
		nanos -= nanosPerSecond
	}

	nanos = roundHalfEven(seconds, nanos, precision)
	if nanos == nanosPerSecond {
		seconds++
		nanos = 0
	}

	return Timestamp{Seconds: seconds, Nanos: nanos, Precision: precision}, nil
}

// Offset returns the exact offset of sample k in a burst sampled at frequency Hz, that is
// k/frequency seconds rounded half-to-even to the nanosecond. It is computed per k so that
// offsets never accumulate rounding error.
func Offset(k int, frequency float64) time.Duration {
	if k <= 0 || frequency <= 0 {
		return 0
	}

	f := new(big.Rat)
	if f.SetFloat64(frequency) == nil {
		return 0
	}

	r := new(big.Rat).SetInt64(int64(k))
	r.Mul(r, big.NewRat(nanosPerSecond, 1))
	r.Quo(r, f)

	q, m := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	twice := m.Lsh(m, 1)

	switch twice.Cmp(r.Denom()) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}

	return time.Duration(q.Int64())
}

func clampPrecision(precision int) int {
	if precision < 0 {
		return 0
	}

	if precision > MaxPrecision {
		return MaxPrecision
	}

	return precision
}

// roundHalfEven rounds nanos to precision digits. At precision 0 the kept digit is the last
// digit of seconds, so a tie is broken on its parity.
func roundHalfEven(seconds, nanos int64, precision int) int64 {
	unit := int64(1)
	for i := precision; i < MaxPrecision; i++ {
		unit *= 10
	}

	q, r := nanos/unit, nanos%unit

	last := q
	if unit == nanosPerSecond {
		last = seconds
	}

	if 2*r > unit || (2*r == unit && last%2 != 0) {
		q++
	}

	return q * unit
}

// Time returns the timestamp as a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, ts.Nanos).UTC()
}

// Fraction returns the fractional digits, zero padded to Precision. It is empty for precision 0.
func (ts Timestamp) Fraction() string {
	if ts.Precision == 0 {
		return ""
	}

	digits := fmt.Sprintf("%09d", ts.Nanos)

	return digits[:ts.Precision]
}

// String returns the canonical "seconds.fraction" form, e.g. "1700000000.250000".
func (ts Timestamp) String() string {
	if ts.Precision == 0 {
		return strconv.FormatInt(ts.Seconds, 10)
	}

	return strconv.FormatInt(ts.Seconds, 10) + "." + ts.Fraction()
}

// Format returns the ISO-8601 form in loc with the fractional seconds appended,
// e.g. "2023-11-14T23:13:20.250000".
func (ts Timestamp) Format(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder

	b.WriteString(time.Unix(ts.Seconds, 0).In(loc).Format("2006-01-02T15:04:05"))

	if ts.Precision > 0 {
		b.WriteByte('.')
		b.WriteString(ts.Fraction())
	}

	return b.String()
}

// Before reports whether ts is strictly earlier than other.
func (ts Timestamp) Before(other Timestamp) bool {
	if ts.Seconds != other.Seconds {
		return ts.Seconds < other.Seconds
	}

	return ts.Nanos < other.Nanos
}

// Sub returns ts - other.
func (ts Timestamp) Sub(other Timestamp) time.Duration {
	return time.Duration((ts.Seconds-other.Seconds)*nanosPerSecond + ts.Nanos - other.Nanos)
}
