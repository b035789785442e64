// Package ingest turns telemetry messages from the bus into stored readings.
package ingest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgeflare/pumprelay/pkg/logging"
	"github.com/edgeflare/pumprelay/pkg/metrics"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"go.uber.org/zap"
)

// Stage names how far a message got through Handle.
type Stage string

const (
	StageTopic  Stage = "topic"
	StageDecode Stage = "decode"
	StageStore  Stage = "store"
	StageOK     Stage = "ok"
)

const DefaultWriteTimeout = 10 * time.Second

var ErrStopped = errors.New("ingest: listener stopped")

// Subscriber delivers messages matching a topic filter to handler.
type Subscriber interface {
	Subscribe(ctx context.Context, filter string, qos byte, handler func(topic string, payload []byte)) error
}

// Writer persists a reading and returns it with its assigned id and timestamp.
type Writer interface {
	Insert(ctx context.Context, r telemetry.Reading) (telemetry.Reading, error)
}

// Mirror receives stored readings. It must not block for long and reports its own failures.
type Mirror interface {
	Publish(ctx context.Context, r telemetry.Reading)
}

type Config struct {
	TopicPrefix  string
	QoS          byte
	WriteTimeout time.Duration
}

// Result describes the outcome of one message. Err is nil only when Stage is StageOK.
type Result struct {
	Reading telemetry.Reading
	Stage   Stage
	Err     error
}

// Listener subscribes to telemetry topics and stores every valid reading exactly once per
// delivery. Replayed deliveries are stored again.
type Listener struct {
	cfg    Config
	sub    Subscriber
	writer Writer
	mirror Mirror
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	ctx     context.Context
	stopped bool
	wg      sync.WaitGroup
}

type Option func(*Listener)

// WithMirror forwards each stored reading to m.
func WithMirror(m Mirror) Option {
	return func(l *Listener) { l.mirror = m }
}

// WithClock replaces time.Now as the source of receipt time.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

func New(cfg Config, sub Subscriber, writer Writer, logger *zap.Logger, opts ...Option) *Listener {
	cfg.TopicPrefix = cmp.Or(cfg.TopicPrefix, telemetry.DefaultTopicPrefix)
	cfg.WriteTimeout = cmp.Or(cfg.WriteTimeout, DefaultWriteTimeout)

	l := &Listener{
		cfg:    cfg,
		sub:    sub,
		writer: writer,
		logger: logging.OrNop(logger),
		now:    time.Now,
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start subscribes to <prefix>/+/telemetry. Each message is handled on its own goroutine under
// a context derived from ctx and bounded by WriteTimeout.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.ctx = ctx
	l.mu.Unlock()

	filter := telemetry.TelemetryFilter(l.cfg.TopicPrefix)
	if err := l.sub.Subscribe(ctx, filter, l.cfg.QoS, l.dispatch); err != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", filter, err)
	}
	l.logger.Info("telemetry listener started", zap.String("topic", filter), zap.Uint8("qos", l.cfg.QoS))
	return nil
}

// Stop rejects further messages and waits for in-flight handlers.
func (l *Listener) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.wg.Wait()
	l.logger.Info("telemetry listener stopped")
}

func (l *Listener) dispatch(topic string, payload []byte) {
	l.mu.RLock()
	if l.stopped {
		l.mu.RUnlock()
		l.logger.Debug("message dropped after stop", zap.String("topic", topic))
		return
	}
	parent := l.ctx
	l.wg.Add(1)
	l.mu.RUnlock()

	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(parent, l.cfg.WriteTimeout)
		defer cancel()
		l.Handle(ctx, topic, payload)
	}()
}

// Handle runs one message through topic parsing, decoding and a single store write. Failures
// are logged and counted, never retried.
func (l *Listener) Handle(ctx context.Context, topic string, payload []byte) Result {
	pumpID, err := telemetry.ParseTopic(l.cfg.TopicPrefix, topic)
	if err != nil {
		return l.finish(Result{Stage: StageTopic, Err: err}, zap.String("topic", topic))
	}
	return l.store(ctx, pumpID, payload, zap.String("topic", topic))
}

// Ingest stores a reading submitted over HTTP. The pump id comes from the body's pump_id field.
func (l *Listener) Ingest(ctx context.Context, payload []byte) Result {
	pumpID, err := telemetry.ExtractPumpID(payload)
	if err != nil {
		return l.finish(Result{Stage: StageDecode, Err: err}, zap.String("source", "http"))
	}
	return l.store(ctx, pumpID, payload, zap.String("source", "http"))
}

func (l *Listener) store(ctx context.Context, pumpID telemetry.PumpID, payload []byte, origin zap.Field) Result {
	reading, err := telemetry.Decode(pumpID, payload, l.now())
	if err != nil {
		return l.finish(Result{Reading: reading, Stage: StageDecode, Err: err}, origin, zap.String("pump_id", pumpID.String()))
	}

	stored, err := l.writer.Insert(ctx, reading)
	if err != nil {
		return l.finish(Result{Reading: reading, Stage: StageStore, Err: err}, origin, zap.String("pump_id", pumpID.String()))
	}

	if l.mirror != nil {
		l.mirror.Publish(ctx, stored)
	}
	return l.finish(Result{Reading: stored, Stage: StageOK}, origin, zap.String("pump_id", pumpID.String()))
}

func (l *Listener) finish(res Result, fields ...zap.Field) Result {
	metrics.IngestMessages.WithLabelValues(string(res.Stage)).Inc()

	fields = append(fields, zap.String("stage", string(res.Stage)))
	switch res.Stage {
	case StageOK:
		l.logger.Debug("telemetry stored", append(fields, zap.Int64("id", res.Reading.ID))...)
	case StageStore:
		l.logger.Error("telemetry store failed", append(fields, zap.Error(res.Err))...)
	default:
		l.logger.Warn("telemetry rejected", append(fields, zap.Error(res.Err))...)
	}
	return res
}
