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

// Package mqtt is the asynchronous MQTT binding of the resource client. Requests are published
// as oneM2M request primitives and the answers are routed back to the waiting call by request id.
package mqtt

import (
	"context"
	"fmt"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/sensorsync/pkg/onem2m"
	"github.com/united-manufacturing-hub/sensorsync/pkg/reliable"
	"github.com/united-manufacturing-hub/sensorsync/pkg/standarderrors"
)

// Config configures the MQTT binding.
type Config struct {
	// BrokerURL is the MQTT broker, e.g. "tcp://10.0.0.5:1883".
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// Originator names this client in the request and response topics, usually the device name.
	Originator string
	// CSE is the id of the broker's common services entity, e.g. "in-cse".
	CSE string
	// Origin is the m2m:fr of every request, e.g. "admin:admin".
	Origin string
	QoS    byte
}

// Connection is the part of MQTT.Client the binding uses.
type Connection interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
	Subscribe(topic string, qos byte, callback MQTT.MessageHandler) MQTT.Token
}

type pendingCall = reliable.PendingCall[onem2m.ResponsePrimitive]

// Client implements onem2m.Client over MQTT.
type Client struct {
	cfg           Config
	conn          Connection
	caller        *reliable.Caller
	log           *zap.SugaredLogger
	pending       *expiremap.ExpireMap[string, *pendingCall]
	requestTopic  string
	responseTopic string
}

var _ onem2m.Client = (*Client)(nil)

// RequestTopic is where requests of originator are published.
func RequestTopic(originator, cse string) string {
	return "/oneM2M/req/" + originator + "/" + cse + "/json"
}

// ResponseTopic is where the broker answers originator.
func ResponseTopic(originator, cse string) string {
	return "/oneM2M/resp/" + cse + "/" + originator + "/json"
}

func newClient(cfg Config, caller *reliable.Caller, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if caller == nil {
		caller = reliable.NewCaller(reliable.DefaultConfig(), nil, log)
	}

	// Entries outlive their call so that late duplicates still find a completed call and are dropped.
	retention := 2 * caller.Config().MaxWait

	return &Client{
		cfg:           cfg,
		caller:        caller,
		log:           log,
		pending:       expiremap.NewEx[string, *pendingCall](retention, retention),
		requestTopic:  RequestTopic(cfg.Originator, cfg.CSE),
		responseTopic: ResponseTopic(cfg.Originator, cfg.CSE),
	}
}

// New returns a client on an existing connection and subscribes to the response topic.
func New(conn Connection, cfg Config, caller *reliable.Caller, log *zap.SugaredLogger) (*Client, error) {
	c := newClient(cfg, caller, log)
	c.conn = conn

	if err := c.subscribe(conn); err != nil {
		return nil, err
	}

	return c, nil
}

// Connect dials the broker with auto reconnect. The response topic is subscribed again after
// every reconnect.
func Connect(cfg Config, caller *reliable.Caller, log *zap.SugaredLogger) (*Client, error) {
	c := newClient(cfg, caller, log)

	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(mc MQTT.Client) {
		c.log.Infof("Connected to MQTT broker %s as %s", cfg.BrokerURL, cfg.ClientID)

		if err := c.subscribe(mc); err != nil {
			c.log.Errorf("Failed to subscribe to %s: %s", c.responseTopic, err)
		}
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		c.log.Warnf("Connection to MQTT broker lost, reconnecting: %v", err)
	})

	mc := MQTT.NewClient(opts)
	c.conn = mc

	if token := mc.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", standarderrors.ErrUnreachable, cfg.BrokerURL, token.Error())
	}

	return c, nil
}

// Disconnect closes the underlying connection if it is a paho client.
func (c *Client) Disconnect() {
	if mc, ok := c.conn.(MQTT.Client); ok {
		mc.Disconnect(250)
	}
}

// Ready reports whether the connection is up. It is used as readiness check.
func (c *Client) Ready() error {
	if c.conn == nil || !c.conn.IsConnected() {
		return fmt.Errorf("%w: mqtt not connected", standarderrors.ErrUnreachable)
	}

	return nil
}

func (c *Client) subscribe(conn Connection) error {
	token := conn.Subscribe(c.responseTopic, c.cfg.QoS, c.handleResponse)
	if !token.WaitTimeout(c.caller.Config().MaxWait) {
		return fmt.Errorf("%w: subscribing to %s timed out", standarderrors.ErrUnreachable, c.responseTopic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.responseTopic, err)
	}

	c.log.Debugf("Subscribed to %s", c.responseTopic)

	return nil
}

// handleResponse runs on paho's router goroutine. It only touches the call the response belongs to.
func (c *Client) handleResponse(_ MQTT.Client, msg MQTT.Message) {
	rsp, err := onem2m.DecodeResponse(msg.Payload())
	if err != nil {
		c.log.Warnf("Dropping undecodable message on %s: %v", msg.Topic(), err)

		return
	}

	call, ok := c.pending.Load(rsp.RequestID)
	if !ok {
		c.log.Debugf("Dropping response to unknown request %s", rsp.RequestID)

		return
	}

	if !(*call).Complete(rsp) {
		c.log.Debugf("Dropping duplicate response to %s", rsp.RequestID)
	}
}

func (c *Client) publish(payload []byte) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("%w: mqtt not connected", standarderrors.ErrUnreachable)
	}

	token := c.conn.Publish(c.requestTopic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(c.caller.Config().RetryInterval) {
		return fmt.Errorf("%w: publish to %s not acknowledged", standarderrors.ErrUnreachable, c.requestTopic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", standarderrors.ErrUnreachable, err)
	}

	return nil
}

// roundTrip sends req reliably and maps the response status to the error taxonomy.
func (c *Client) roundTrip(ctx context.Context, req onem2m.RequestPrimitive) (onem2m.ResponsePrimitive, error) {
	payload, err := onem2m.EncodeRequest(req)
	if err != nil {
		return onem2m.ResponsePrimitive{}, err
	}

	call := reliable.NewPendingCall[onem2m.ResponsePrimitive](req.RequestID)
	c.pending.Set(req.RequestID, call)

	rsp, err := reliable.Await(ctx, c.caller, call, func(context.Context) error {
		return c.publish(payload)
	})
	if err != nil {
		return onem2m.ResponsePrimitive{}, err
	}

	return rsp, onem2m.StatusError(rsp.StatusCode)
}

func newRequestID() string {
	return uuid.NewString()
}

// Create implements onem2m.Client.
func (c *Client) Create(ctx context.Context, parent string, res onem2m.Resource) (string, error) {
	req, err := onem2m.NewCreateRequest(c.cfg.Origin, parent, newRequestID(), res)
	if err != nil {
		return "", err
	}

	rsp, err := c.roundTrip(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create %s under %s: %w", res.Type, parent, err)
	}

	created, err := onem2m.DecodeResource(rsp.Content)
	if err != nil {
		return "", err
	}

	if created.Name != "" {
		return created.Name, nil
	}

	return onem2m.LastPathItem(created.ID), nil
}

// List implements onem2m.Client.
func (c *Client) List(ctx context.Context, parent string, ty onem2m.ResourceType) ([]string, error) {
	rsp, err := c.roundTrip(ctx, onem2m.NewDiscoveryRequest(c.cfg.Origin, parent, newRequestID(), ty))
	if err != nil {
		return nil, fmt.Errorf("list %s under %s: %w", ty, parent, err)
	}

	return onem2m.DecodeURIList(rsp.Content)
}

// Read implements onem2m.Client.
func (c *Client) Read(ctx context.Context, path string) (onem2m.Resource, error) {
	rsp, err := c.roundTrip(ctx, onem2m.NewRetrieveRequest(c.cfg.Origin, path, newRequestID()))
	if err != nil {
		return onem2m.Resource{}, fmt.Errorf("read %s: %w", path, err)
	}

	return onem2m.DecodeResource(rsp.Content)
}

// Delete implements onem2m.Client. Deleting a resource that is already gone is reported as
// ErrNotFound, which happens when a retransmitted delete overtakes the first answer.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.roundTrip(ctx, onem2m.NewDeleteRequest(c.cfg.Origin, path, newRequestID()))
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}

	return nil
}
