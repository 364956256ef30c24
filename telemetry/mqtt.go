// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

const subscribeTimeout = 10 * time.Second

// Client is an MQTT connection that reconnects on its own. It publishes
// telemetry and forwards the bytes published on <prefix>/commands as
// console commands.
type Client struct {
	config   autopaho.ClientConfig
	conn     *autopaho.ConnectionManager
	logger   *log.Logger
	topic    string
	commands chan byte
}

// NewClient returns a Client for broker, e.g. mqtt://10.0.0.2:1883.
func NewClient(broker, clientID, prefix string, logger *log.Logger) (*Client, error) {
	addr, err := url.Parse(broker)
	if err != nil {
		return nil, fmt.Errorf("telemetry: broker url: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		logger:   logger,
		topic:    prefix + commandSubtopic,
		commands: make(chan byte, 16),
	}
	c.config = autopaho.ClientConfig{
		ServerUrls:            []*url.URL{addr},
		KeepAlive:             20,
		SessionExpiryInterval: 60,
		OnConnectionUp:        c.onConnUp,
		OnConnectError:        c.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           clientID,
			OnClientError:      c.onConnError,
			OnServerDisconnect: c.onSrvDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.onPublishRecv},
		},
	}
	return c, nil
}

// Connect starts the connection manager. It does not wait for the broker:
// the connection is retried in the background until ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	cm, err := autopaho.NewConnection(ctx, c.config)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	c.conn = cm
	return nil
}

// Publish implements Publisher.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.conn == nil {
		return fmt.Errorf("telemetry: not connected")
	}
	_, err := c.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	})
	return err
}

// Commands returns the bytes received on the command topic. Bytes are
// dropped when nobody reads them.
func (c *Client) Commands() <-chan byte {
	return c.commands
}

// Disconnect closes the connection.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Disconnect(ctx)
}

func (c *Client) onConnUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	c.logger.Info("Connected to MQTT broker")
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: c.topic, QoS: 1}},
	}); err != nil {
		c.logger.Error("Failed to subscribe to commands", "topic", c.topic, "err", err)
	}
}

func (c *Client) onConnError(err error) {
	c.logger.Error("Received MQTT connection error", "err", err)
}

func (c *Client) onSrvDisconnect(d *paho.Disconnect) {
	c.logger.Info("Disconnected from MQTT broker")
}

func (c *Client) onPublishRecv(pr paho.PublishReceived) (bool, error) {
	if pr.Packet.Topic != c.topic {
		return false, nil
	}
	forward(c.commands, pr.Packet.Payload)
	return true, nil
}

// forward sends every byte of payload to ch without blocking.
func forward(ch chan<- byte, payload []byte) {
	for _, b := range payload {
		select {
		case ch <- b:
		default:
		}
	}
}

var _ Publisher = &Client{}
