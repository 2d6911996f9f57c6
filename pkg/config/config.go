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

// Package config loads the YAML configuration of both binaries and applies environment
// overrides on top of it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/sensorsync/pkg/protocol"
	"github.com/united-manufacturing-hub/sensorsync/pkg/reliable"
)

// Transports.
const (
	TransportMQTT = "mqtt"
	TransportHTTP = "http"
)

// Role selects which part of the configuration Validate checks.
type Role int

const (
	RoleGateway Role = iota
	RoleCollector
)

// Config is the whole configuration file. Each binary reads the sections it needs.
type Config struct {
	Broker      BrokerConfig    `yaml:"broker"`
	Reliable    reliable.Config `yaml:"reliable"`
	MetricsAddr string          `yaml:"metricsAddr"`
	SentryDSN   string          `yaml:"sentryDSN"`
	Gateway     GatewayConfig   `yaml:"gateway"`
	Collector   CollectorConfig `yaml:"collector"`
}

// BrokerConfig locates the oneM2M broker and the resource tree.
type BrokerConfig struct {
	// Transport is "mqtt" or "http".
	Transport string `yaml:"transport"`
	MQTTURL   string `yaml:"mqttURL"`
	HTTPURL   string `yaml:"httpURL"`
	// Origin is the oneM2M originator credential, e.g. "admin:admin".
	Origin string `yaml:"origin"`
	// Originator names the MQTT topics of this process. Gateways default to the device name.
	Originator      string        `yaml:"originator"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	QoS             byte          `yaml:"qos"`
	CSE             string        `yaml:"cse"`
	CSEName         string        `yaml:"cseName"`
	DataContainer   string        `yaml:"dataContainer"`
	EventsContainer string        `yaml:"eventsContainer"`
	HTTPTimeout     time.Duration `yaml:"httpTimeout"`
}

// GatewayConfig is the device side.
type GatewayConfig struct {
	Device protocol.DeviceProfile `yaml:"device"`
	// SamplesDir holds recorded readings replayed by the simulated sensor.
	SamplesDir string        `yaml:"samplesDir"`
	StateDir   string        `yaml:"stateDir"`
	WaitTime   time.Duration `yaml:"waitTime"`
	AckTimeout time.Duration `yaml:"ackTimeout"`
}

// CollectorConfig is the server side.
type CollectorConfig struct {
	WaitTime       time.Duration `yaml:"waitTime"`
	TimePrecision  int           `yaml:"timePrecision"`
	ValuePrecision int           `yaml:"valuePrecision"`
	OutputDir      string        `yaml:"outputDir"`
	// Timezone names the zone of the CSV time column, e.g. "Europe/Berlin". Empty means local.
	Timezone      string        `yaml:"timezone"`
	ArenaSize     int           `yaml:"arenaSize"`
	ProfileTTL    time.Duration `yaml:"profileTTL"`
	PurgeOnStart  bool          `yaml:"purgeOnStart"`
	StatsInterval time.Duration `yaml:"statsInterval"`
	XRepo         XRepoConfig   `yaml:"xrepo"`
}

// XRepoConfig enables the optional warehouse upload.
type XRepoConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"baseURL"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	SamplingID   string        `yaml:"samplingId"`
	WaitForTask  bool          `yaml:"waitForTask"`
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxWait      time.Duration `yaml:"maxWait"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Broker: BrokerConfig{
			Transport:       TransportMQTT,
			MQTTURL:         "tcp://127.0.0.1:1883",
			HTTPURL:         "http://127.0.0.1:8080",
			Origin:          "admin:admin",
			CSE:             "in-cse",
			CSEName:         "in-name",
			DataContainer:   "sampling",
			EventsContainer: "events",
			HTTPTimeout:     10 * time.Second,
		},
		Reliable:    reliable.DefaultConfig(),
		MetricsAddr: ":2112",
		Gateway: GatewayConfig{
			Device: protocol.DeviceProfile{
				Frequency:       1000,
				SampleTime:      2,
				Period:          10,
				ValueConversion: 1,
			},
			SamplesDir: "./samples",
			StateDir:   "./state",
			WaitTime:   100 * time.Millisecond,
		},
		Collector: CollectorConfig{
			WaitTime:       50 * time.Millisecond,
			TimePrecision:  6,
			ValuePrecision: 5,
			OutputDir:      "./output",
			ArenaSize:      4096,
			ProfileTTL:     time.Minute,
			StatsInterval:  time.Minute,
			XRepo: XRepoConfig{
				PollInterval: time.Second,
				MaxWait:      5 * time.Minute,
			},
		},
	}
}

// Load reads the file at path over the defaults and applies environment overrides. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}

		if err := decode(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Path returns CONFIG_PATH, or fallback when it is unset.
func Path(fallback string) (string, error) {
	return env.GetAsString("CONFIG_PATH", false, fallback)
}

func decode(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

func (c *Config) applyEnv() error {
	var err error

	overrides := []struct {
		key    string
		target *string
	}{
		{"DEVICE_NAME", &c.Gateway.Device.Name},
		{"BROKER_TRANSPORT", &c.Broker.Transport},
		{"BROKER_MQTT_URL", &c.Broker.MQTTURL},
		{"BROKER_HTTP_URL", &c.Broker.HTTPURL},
		{"BROKER_ORIGIN", &c.Broker.Origin},
		{"METRICS_ADDR", &c.MetricsAddr},
		{"SENTRY_DSN", &c.SentryDSN},
	}

	for _, s := range overrides {
		if *s.target, err = env.GetAsString(s.key, false, *s.target); err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
	}

	if c.Gateway.Device.Frequency, err = env.GetAsFloat64("DEVICE_FREQUENCY", false, c.Gateway.Device.Frequency); err != nil {
		return err
	}

	// SENSOR_TAGS is a JSON array, e.g. ["x","y","z"].
	if err = env.GetAsType("SENSOR_TAGS", &c.Gateway.Device.SensorTags, false, c.Gateway.Device.SensorTags); err != nil {
		return err
	}

	if c.Collector.TimePrecision, err = env.GetAsInt("TIME_PRECISION", false, c.Collector.TimePrecision); err != nil {
		return err
	}

	if c.Collector.PurgeOnStart, err = env.GetAsBool("PURGE_ON_START", false, c.Collector.PurgeOnStart); err != nil {
		return err
	}

	return nil
}

// Validate checks the broker settings and the section of role.
func (c Config) Validate(role Role) error {
	switch c.Broker.Transport {
	case TransportMQTT:
		if c.Broker.MQTTURL == "" {
			return errors.New("broker.mqttURL is required for the mqtt transport")
		}
	case TransportHTTP:
		if c.Broker.HTTPURL == "" {
			return errors.New("broker.httpURL is required for the http transport")
		}
	default:
		return fmt.Errorf("unknown broker transport %q, want %q or %q", c.Broker.Transport, TransportMQTT, TransportHTTP)
	}

	if err := c.Reliable.Validate(); err != nil {
		return fmt.Errorf("reliable: %w", err)
	}

	switch role {
	case RoleGateway:
		if err := c.GatewayConfig().Validate(); err != nil {
			return err
		}
	case RoleCollector:
		cc := c.CollectorConfig()
		if err := cc.Validate(); err != nil {
			return err
		}

		if c.Collector.ValuePrecision < 0 {
			return fmt.Errorf("collector.valuePrecision must not be negative, got %d", c.Collector.ValuePrecision)
		}

		if _, err := c.Location(); err != nil {
			return err
		}

		if x := c.Collector.XRepo; x.Enabled && (x.BaseURL == "" || x.SamplingID == "") {
			return errors.New("collector.xrepo needs baseURL and samplingId when enabled")
		}
	}

	return nil
}

// Location resolves collector.timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Collector.Timezone == "" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(c.Collector.Timezone)
	if err != nil {
		return nil, fmt.Errorf("collector.timezone: %w", err)
	}

	return loc, nil
}
