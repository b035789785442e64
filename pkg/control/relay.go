// Package control forwards operator commands to pump controllers over the message bus.
//
// A successful Send means the bus client accepted the message: for QoS 1 the broker
// acknowledged it. Nothing confirms that the pump received or acted on the command.
package control

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/pumprelay/pkg/logging"
	"github.com/edgeflare/pumprelay/pkg/metrics"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	ErrBusUnavailable = errors.New("message bus not connected")
	ErrPublish        = errors.New("failed to publish command")
)

const (
	DefaultQoS            byte = 1
	DefaultPublishTimeout      = 10 * time.Second
)

// Publisher is the outbound side of the bus client.
type Publisher interface {
	IsConnected() bool
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

type Config struct {
	TopicPrefix    string
	QoS            *byte
	PublishTimeout time.Duration
}

// Ack reports a command handed to the bus.
type Ack struct {
	PumpID   telemetry.PumpID
	Command  telemetry.Command
	Topic    string
	IssuedAt time.Time
}

// Message is the text returned to the operator. It never claims the pump changed state.
func (a Ack) Message() string {
	return fmt.Sprintf("Command %s sent to pump %s via message bus (delivery to the device is not confirmed)", a.Command, a.PumpID)
}

type Relay struct {
	prefix  string
	qos     byte
	timeout time.Duration
	pub     Publisher
	logger  *zap.Logger
	now     func() time.Time
}

func New(cfg Config, pub Publisher, logger *zap.Logger) *Relay {
	qos := DefaultQoS
	if cfg.QoS != nil {
		qos = *cfg.QoS
	}
	return &Relay{
		prefix:  cmp.Or(cfg.TopicPrefix, telemetry.DefaultTopicPrefix),
		qos:     qos,
		timeout: cmp.Or(cfg.PublishTimeout, DefaultPublishTimeout),
		pub:     pub,
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}
}

// Send validates rawPumpID and rawCommand and publishes a ControlMessage to
// <prefix>/<id>/control. Nothing is published unless both are valid and the bus is connected.
func (r *Relay) Send(ctx context.Context, rawPumpID, rawCommand string) (Ack, error) {
	pumpID, err := telemetry.ValidatePumpID(rawPumpID)
	if err != nil {
		r.count("invalid", "invalid_pump_id")
		return Ack{}, err
	}
	cmd, err := telemetry.ParseCommand(rawCommand)
	if err != nil {
		r.count("invalid", "invalid_command")
		return Ack{}, err
	}

	ack := Ack{
		PumpID:   pumpID,
		Command:  cmd,
		Topic:    telemetry.ControlTopic(r.prefix, pumpID),
		IssuedAt: r.now().UTC(),
	}
	logger := r.logger.With(
		zap.String("pump_id", pumpID.String()),
		zap.String("command", string(cmd)),
		zap.String("topic", ack.Topic))

	if !r.pub.IsConnected() {
		r.count(string(cmd), "unavailable")
		logger.Warn("control command rejected, bus not connected")
		return Ack{}, ErrBusUnavailable
	}

	payload, err := json.Marshal(telemetry.NewControlMessage(cmd, ack.IssuedAt))
	if err != nil {
		r.count(string(cmd), "error")
		return Ack{}, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.pub.Publish(ctx, ack.Topic, r.qos, false, payload); err != nil {
		r.count(string(cmd), "error")
		logger.Error("control command publish failed", zap.Error(err))
		return Ack{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	r.count(string(cmd), "ok")
	logger.Info("control command published")
	return ack, nil
}

func (r *Relay) count(command, result string) {
	metrics.ControlCommands.WithLabelValues(command, result).Inc()
}
