package mirror

import (
	"context"

	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"go.uber.org/zap"
)

// LogSink writes each reading to the logger at debug level.
type LogSink struct {
	name   string
	logger *zap.Logger
}

func (s *LogSink) Name() string { return s.name }

func (s *LogSink) Publish(_ context.Context, r telemetry.Reading) error {
	s.logger.Debug("reading",
		zap.Int64("id", r.ID),
		zap.String("pump_id", r.PumpID.String()),
		zap.Time("timestamp", r.Timestamp),
		zap.Float64("water_level_percent", r.WaterLevelPercent),
		zap.Float64("current_amps", r.CurrentAmps),
		zap.Float64("current_inflow_rate", r.InflowRate),
		zap.String("street_flow_status", r.FlowStatus),
		zap.Float64p("pump_temperature_celsius", r.TemperatureCelsius))
	return nil
}

func (s *LogSink) Close() error { return nil }

func init() {
	Register("log", func(_ context.Context, cfg SinkConfig, logger *zap.Logger) (Sink, error) {
		return &LogSink{name: cfg.Name, logger: logger}, nil
	})
}
