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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Label keys under which a device publishes its profile on the broker.
const (
	LabelFrequency       = "Frequency[Hz]"
	LabelSampleTime      = "SampleTime[s]"
	LabelPeriod          = "Period[s]"
	LabelValueConversion = "ValueConversion"
	LabelDevice          = "Device"
	LabelSensor          = "Sensor"
)

// ErrInvalidProfile is returned when a device profile is incomplete or inconsistent.
var ErrInvalidProfile = errors.New("invalid device profile")

// DeviceProfile describes how a device samples. It is fixed once the device has registered.
type DeviceProfile struct {
	Name string `yaml:"name"`
	// Frequency is the sampling frequency F in Hz.
	Frequency float64 `yaml:"frequency"`
	// SampleTime is the burst duration t in seconds.
	SampleTime float64 `yaml:"sampleTime"`
	// Period is the cycle period T in seconds.
	Period float64 `yaml:"period"`
	// ValueConversion multiplies every raw reading.
	ValueConversion float64 `yaml:"valueConversion"`
	DeviceTag       string  `yaml:"deviceTag"`
	// SensorTags has one entry per value of a multi-sensor line.
	SensorTags []string `yaml:"sensorTags"`
}

// Validate checks the profile for values the sampling loop cannot work with.
func (p DeviceProfile) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: empty device name", ErrInvalidProfile)
	case strings.ContainsAny(p.Name, "/\n"):
		return fmt.Errorf("%w: device name %q contains '/' or a newline", ErrInvalidProfile, p.Name)
	case p.Frequency <= 0 || math.IsInf(p.Frequency, 0) || math.IsNaN(p.Frequency):
		return fmt.Errorf("%w: frequency must be positive, got %v", ErrInvalidProfile, p.Frequency)
	case p.SampleTime <= 0:
		return fmt.Errorf("%w: sample time must be positive, got %v", ErrInvalidProfile, p.SampleTime)
	case p.Period <= 0:
		return fmt.Errorf("%w: period must be positive, got %v", ErrInvalidProfile, p.Period)
	case p.SampleTime > p.Period:
		return fmt.Errorf("%w: sample time %v exceeds period %v", ErrInvalidProfile, p.SampleTime, p.Period)
	case len(p.SensorTags) == 0:
		return fmt.Errorf("%w: no sensor tags", ErrInvalidProfile)
	case p.SampleCount() == 0:
		return fmt.Errorf("%w: frequency %v and sample time %v give no samples", ErrInvalidProfile, p.Frequency, p.SampleTime)
	}

	return nil
}

// SampleCount is N = floor(F*t). The epsilon absorbs float products such as 0.29*100 = 28.999999999999996.
func (p DeviceProfile) SampleCount() int {
	return int(math.Floor(p.Frequency*p.SampleTime + 1e-9))
}

// SamplePeriod returns 1/F rounded to the nanosecond.
func (p DeviceProfile) SamplePeriod() time.Duration {
	return time.Duration(math.Round(float64(time.Second) / p.Frequency))
}

// CyclePeriod returns T.
func (p DeviceProfile) CyclePeriod() time.Duration {
	return time.Duration(math.Round(p.Period * float64(time.Second)))
}

// Labels renders the profile as broker labels, e.g. "Frequency[Hz]/1000".
func (p DeviceProfile) Labels() []string {
	return []string{
		LabelFrequency + "/" + formatFloat(p.Frequency),
		LabelSampleTime + "/" + formatFloat(p.SampleTime),
		LabelPeriod + "/" + formatFloat(p.Period),
		LabelValueConversion + "/" + formatFloat(p.ValueConversion),
		LabelDevice + "/" + p.DeviceTag,
		LabelSensor + "/" + strings.Join(p.SensorTags, ","),
	}
}

// ParseLabels rebuilds the profile of device name from its broker labels. Unknown labels are
// ignored and a missing value conversion defaults to 1.
func ParseLabels(name string, labels []string) (DeviceProfile, error) {
	p := DeviceProfile{Name: name, ValueConversion: 1}

	for _, label := range labels {
		key, value, ok := strings.Cut(label, "/")
		if !ok {
			continue
		}

		var err error

		switch key {
		case LabelFrequency:
			p.Frequency, err = strconv.ParseFloat(value, 64)
		case LabelSampleTime:
			p.SampleTime, err = strconv.ParseFloat(value, 64)
		case LabelPeriod:
			p.Period, err = strconv.ParseFloat(value, 64)
		case LabelValueConversion:
			p.ValueConversion, err = strconv.ParseFloat(value, 64)
		case LabelDevice:
			p.DeviceTag = value
		case LabelSensor:
			p.SensorTags = SplitValues(value)
		}

		if err != nil {
			return DeviceProfile{}, fmt.Errorf("%w: label %q: %w", ErrInvalidProfile, label, err)
		}
	}

	if err := p.Validate(); err != nil {
		return DeviceProfile{}, err
	}

	return p, nil
}

// SplitValues splits a comma-delimited list and trims every element.
func SplitValues(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
