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

package config

import (
	"github.com/united-manufacturing-hub/sensorsync/pkg/collector"
	"github.com/united-manufacturing-hub/sensorsync/pkg/gateway"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m/mqtt"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m/rest"
	"github.com/united-manufacturing-hub/sensorsync/pkg/record"
	"github.com/united-manufacturing-hub/sensorsync/pkg/xrepo"
)

// CollectorOriginator is the MQTT originator of the collector when none is configured.
const CollectorOriginator = "sensorsync-collector"

// Tree is the resource tree both sides agree on.
func (c Config) Tree() onem2m.Tree {
	return onem2m.Tree{CSE: c.Broker.CSE, Name: c.Broker.CSEName}
}

// GatewayConfig builds the gateway section.
func (c Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Profile:         c.Gateway.Device,
		Tree:            c.Tree(),
		DataContainer:   c.Broker.DataContainer,
		EventsContainer: c.Broker.EventsContainer,
		WaitTime:        c.Gateway.WaitTime,
		AckTimeout:      c.Gateway.AckTimeout,
		StateDir:        c.Gateway.StateDir,
	}
}

// CollectorConfig builds the collector section. Backoff bounds derive from the reliable
// section so a failing pass never waits longer than one reliable call.
func (c Config) CollectorConfig() collector.Config {
	return collector.Config{
		Tree:            c.Tree(),
		DataContainer:   c.Broker.DataContainer,
		EventsContainer: c.Broker.EventsContainer,
		WaitTime:        c.Collector.WaitTime,
		TimePrecision:   c.Collector.TimePrecision,
		ArenaSize:       c.Collector.ArenaSize,
		ProfileTTL:      c.Collector.ProfileTTL,
		PurgeOnStart:    c.Collector.PurgeOnStart,
		StatsInterval:   c.Collector.StatsInterval,
		BackoffSlot:     c.Reliable.PollInterval,
		BackoffMax:      c.Reliable.MaxWait,
	}
}

// RESTConfig builds the HTTP binding settings.
func (c Config) RESTConfig() rest.Config {
	return rest.Config{
		BaseURL: c.Broker.HTTPURL,
		Origin:  c.Broker.Origin,
		Timeout: c.Broker.HTTPTimeout,
	}
}

// MQTTConfig builds the MQTT binding settings. originator is used when broker.originator is
// empty.
func (c Config) MQTTConfig(originator string) mqtt.Config {
	if c.Broker.Originator != "" {
		originator = c.Broker.Originator
	}

	return mqtt.Config{
		BrokerURL:  c.Broker.MQTTURL,
		ClientID:   originator,
		Username:   c.Broker.Username,
		Password:   c.Broker.Password,
		Originator: originator,
		CSE:        c.Broker.CSE,
		Origin:     c.Broker.Origin,
		QoS:        c.Broker.QoS,
	}
}

// XRepoConfig builds the upload client settings.
func (c Config) XRepoConfig() xrepo.Config {
	x := c.Collector.XRepo

	return xrepo.Config{
		BaseURL:      x.BaseURL,
		Username:     x.Username,
		Password:     x.Password,
		SamplingID:   x.SamplingID,
		WaitForTask:  x.WaitForTask,
		PollInterval: x.PollInterval,
		MaxWait:      x.MaxWait,
	}
}

// CSVConfig builds the sink settings. The uploader is attached by the caller.
func (c Config) CSVConfig() (record.CSVConfig, error) {
	loc, err := c.Location()
	if err != nil {
		return record.CSVConfig{}, err
	}

	return record.CSVConfig{
		Dir:            c.Collector.OutputDir,
		Location:       loc,
		ValuePrecision: c.Collector.ValuePrecision,
	}, nil
}
