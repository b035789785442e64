package mqtt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/pumprelay/pkg/metrics"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("mqtt: not connected")

type subscription struct {
	qos     byte
	handler mqtt.MessageHandler
}

// Client is a paho client shared by the ingest listener (subscribe) and the control relay
// (publish). It is safe for concurrent use.
type Client struct {
	paho   mqtt.Client
	logger *zap.Logger
	opts   Options

	mu   sync.Mutex
	subs map[string]subscription
}

// NewClient builds a client from opts. It does not connect.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	pahoOpts, err := toPahoOptions(opts)
	if err != nil {
		return nil, err
	}

	c := newClient(opts, logger)
	pahoOpts.SetOnConnectHandler(c.onConnect)
	pahoOpts.SetConnectionLostHandler(c.onConnectionLost)
	pahoOpts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.logger.Info("reconnecting to MQTT broker", zap.Strings("brokers", c.opts.Brokers))
	})
	c.paho = mqtt.NewClient(pahoOpts)
	return c, nil
}

func newClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:   opts,
		logger: logger,
		subs:   make(map[string]subscription),
	}
}

// Connect dials the broker, retrying with exponential backoff until ConnectMaxElapsed passes
// or ctx is done. Once connected, paho reconnects on its own.
func (c *Client) Connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = cmp.Or(c.opts.ConnectMaxElapsed, DefaultOptions().ConnectMaxElapsed)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := waitToken(ctx, c.paho.Connect()); err != nil {
			c.logger.Warn("MQTT connection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("broker connection error: %w", err)
	}
	return nil
}

// IsConnected reports whether the network connection to the broker is open right now.
// A client that is between automatic reconnect attempts reports false.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.paho.IsConnectionOpen()
}

// Publish sends payload to topic and waits for the client's delivery token: the PUBACK for
// QoS 1, the PUBCOMP for QoS 2, the socket write for QoS 0.
// A disconnected client fails fast with ErrNotConnected instead of queueing the message.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := waitToken(ctx, c.paho.Publish(topic, qos, retained, payload)); err != nil {
		c.logger.Error("publish error", zap.String("topic", topic), zap.Error(err))
		return err
	}
	c.logger.Debug("message published", zap.String("topic", topic), zap.Uint8("qos", qos))
	return nil
}

// Subscribe registers handler for filter. The subscription is remembered and re-issued after
// every reconnect; when the client is not connected yet it is only remembered.
func (c *Client) Subscribe(ctx context.Context, filter string, qos byte, handler func(topic string, payload []byte)) error {
	cb := func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}

	c.mu.Lock()
	c.subs[filter] = subscription{qos: qos, handler: cb}
	c.mu.Unlock()

	if !c.IsConnected() {
		c.logger.Info("subscription deferred until connected", zap.String("topic", filter))
		return nil
	}

	if err := waitToken(ctx, c.paho.Subscribe(filter, qos, cb)); err != nil {
		c.logger.Error("subscribe error", zap.String("topic", filter), zap.Error(err))
		return fmt.Errorf("subscribe error: %w", err)
	}
	c.logger.Info("subscribed", zap.String("topic", filter), zap.Uint8("qos", qos))
	return nil
}

// Disconnect closes the connection, allowing in-flight work 250ms to finish.
func (c *Client) Disconnect() {
	c.paho.Disconnect(250)
	metrics.MQTTConnected.Set(0)
	c.logger.Info("disconnected from MQTT broker")
}

func (c *Client) onConnect(cl mqtt.Client) {
	metrics.MQTTConnected.Set(1)
	c.logger.Info("connected to MQTT broker", zap.Strings("brokers", c.opts.Brokers))

	c.mu.Lock()
	subs := maps.Clone(c.subs)
	c.mu.Unlock()

	for filter, s := range subs {
		token := cl.Subscribe(filter, s.qos, s.handler)
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error("resubscribe error", zap.String("topic", filter), zap.Error(err))
			continue
		}
		c.logger.Info("subscribed", zap.String("topic", filter), zap.Uint8("qos", s.qos))
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	metrics.MQTTConnected.Set(0)
	c.logger.Warn("MQTT connection lost", zap.Error(err))
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
