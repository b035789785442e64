// Package mirror republishes stored telemetry readings to secondary systems. Mirroring is
// best-effort: a failing sink is logged and counted, and never fails ingestion.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edgeflare/pumprelay/pkg/logging"
	"github.com/edgeflare/pumprelay/pkg/metrics"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"github.com/edgeflare/pumprelay/pkg/util"
	"go.uber.org/zap"
)

// Sink receives a copy of each stored reading.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r telemetry.Reading) error
	Close() error
}

// SASLConfig configures SCRAM authentication for the kafka sink.
type SASLConfig struct {
	Mechanism string `mapstructure:"mechanism"` // sha256 or sha512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// SinkConfig describes one sink. Fields not used by a sink type are ignored.
type SinkConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
	// Servers are NATS server URLs or Kafka broker addresses.
	Servers []string `mapstructure:"servers"`
	// SubjectPrefix is the NATS subject or Kafka topic prefix.
	SubjectPrefix string `mapstructure:"subjectPrefix"`
	// Stream enables JetStream publishing into the named stream.
	Stream   string           `mapstructure:"stream"`
	Username string           `mapstructure:"username"`
	Password string           `mapstructure:"password"`
	Version  string           `mapstructure:"version"`
	SASL     *SASLConfig      `mapstructure:"sasl"`
	TLS      *util.TLSOptions `mapstructure:"tls"`
	// URL, Headers, Timeout and MaxRetries configure the webhook sink.
	URL        string            `mapstructure:"url"`
	Headers    map[string]string `mapstructure:"headers"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	MaxRetries uint64            `mapstructure:"maxRetries"`
}

// Factory builds a sink from its config.
type Factory func(ctx context.Context, cfg SinkConfig, logger *zap.Logger) (Sink, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a sink type available to Build. It panics on a duplicate type.
func Register(sinkType string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[sinkType]; dup {
		panic("mirror: Register called twice for sink type " + sinkType)
	}
	factories[sinkType] = f
}

// Types lists the registered sink types.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Fanout publishes each reading to every sink in order.
type Fanout struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewFanout wraps already constructed sinks.
func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: logging.OrNop(logger)}
}

// Build constructs a Fanout from cfgs. If any sink fails to build, the ones already built are
// closed and the error is returned.
func Build(ctx context.Context, cfgs []SinkConfig, logger *zap.Logger) (*Fanout, error) {
	logger = logging.OrNop(logger)
	f := NewFanout(logger)
	for i, cfg := range cfgs {
		if cfg.Name == "" {
			cfg.Name = fmt.Sprintf("%s-%d", cfg.Type, i)
		}

		factoriesMu.RLock()
		factory, ok := factories[cfg.Type]
		factoriesMu.RUnlock()
		if !ok {
			_ = f.Close()
			return nil, fmt.Errorf("mirror sink %q: unknown type %q (known: %v)", cfg.Name, cfg.Type, Types())
		}

		sink, err := factory(ctx, cfg, logger.With(zap.String("sink", cfg.Name)))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("mirror sink %q: %w", cfg.Name, err)
		}
		f.sinks = append(f.sinks, sink)
		logger.Info("mirror sink ready", zap.String("sink", cfg.Name), zap.String("type", cfg.Type))
	}
	return f, nil
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Publish sends r to every sink. Failures are logged and counted.
func (f *Fanout) Publish(ctx context.Context, r telemetry.Reading) {
	if f == nil {
		return
	}
	for _, s := range f.sinks {
		if err := s.Publish(ctx, r); err != nil {
			metrics.MirrorPublish.WithLabelValues(s.Name(), "error").Inc()
			f.logger.Error("mirror publish failed",
				zap.String("sink", s.Name()),
				zap.String("pump_id", r.PumpID.String()),
				zap.Int64("id", r.ID),
				zap.Error(err))
			continue
		}
		metrics.MirrorPublish.WithLabelValues(s.Name(), "ok").Inc()
	}
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	f.sinks = nil
	return errors.Join(errs...)
}
