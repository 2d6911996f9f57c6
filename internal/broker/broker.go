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

// Package broker opens the oneM2M client both binaries share.
package broker

import (
	"fmt"

	"github.com/united-manufacturing-hub/sensorsync/pkg/config"
	"github.com/united-manufacturing-hub/sensorsync/pkg/logger"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m/mqtt"
	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m/rest"
	"github.com/united-manufacturing-hub/sensorsync/pkg/reliable"
	"github.com/united-manufacturing-hub/sensorsync/pkg/schedule"
)

var newHTTPClient = rest.NewHTTPClient

// Conn is a broker client with its lifecycle hooks.
type Conn struct {
	onem2m.Client
	// Caller is the reliable caller behind Client. It can be shared with other remote calls.
	Caller *reliable.Caller

	ready func() error
	close func()
}

// Ready reports whether the transport is usable. HTTP has no standing connection and is
// always ready.
func (c *Conn) Ready() error {
	if c.ready == nil {
		return nil
	}

	return c.ready()
}

// Close releases the transport.
func (c *Conn) Close() {
	if c.close != nil {
		c.close()
	}
}

// Dial opens the transport named in cfg. originator names the MQTT topics unless the
// configuration fixes one.
func Dial(cfg config.Config, originator string, clock schedule.Clock) (*Conn, error) {
	caller := reliable.NewCaller(cfg.Reliable, clock, logger.For(logger.ComponentReliableCall))

	switch cfg.Broker.Transport {
	case config.TransportHTTP:
		rc := cfg.RESTConfig()
		client := rest.NewClient(rc, newHTTPClient(rc.Timeout), caller, logger.For(logger.ComponentHTTPBinding))

		return &Conn{Client: client, Caller: caller}, nil
	case config.TransportMQTT:
		client, err := mqtt.Connect(cfg.MQTTConfig(originator), caller, logger.For(logger.ComponentMQTTBinding))
		if err != nil {
			return nil, err
		}

		return &Conn{Client: client, Caller: caller, ready: client.Ready, close: client.Disconnect}, nil
	default:
		return nil, fmt.Errorf("unknown broker transport %q", cfg.Broker.Transport)
	}
}
