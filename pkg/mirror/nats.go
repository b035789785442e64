package mirror

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const defaultSubjectPrefix = "pumps"

// NATSSink publishes readings to <prefix>.<pump-id>.telemetry, through JetStream when a stream is
// configured and as core NATS messages otherwise.
type NATSSink struct {
	name    string
	prefix  string
	nc      *nats.Conn
	publish func(ctx context.Context, subject string, data []byte) error
}

// NewNATSSink connects to cfg.Servers.
func NewNATSSink(_ context.Context, cfg SinkConfig, logger *zap.Logger) (Sink, error) {
	servers := cfg.Servers
	if len(servers) == 0 {
		servers = []string{nats.DefaultURL}
	}
	opts, err := natsOptions(cfg, logger)
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(strings.Join(servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS server: %w", err)
	}

	s := &NATSSink{
		name:   cfg.Name,
		prefix: cmp.Or(cfg.SubjectPrefix, defaultSubjectPrefix),
		nc:     nc,
	}

	if cfg.Stream == "" {
		s.publish = func(_ context.Context, subject string, data []byte) error {
			return nc.Publish(subject, data)
		}
		return s, nil
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, s.prefix+".>"); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	s.publish = func(ctx context.Context, subject string, data []byte) error {
		_, err := js.Publish(subject, data, nats.Context(ctx))
		return err
	}
	return s, nil
}

func (s *NATSSink) Name() string { return s.name }

func (s *NATSSink) Publish(ctx context.Context, r telemetry.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	if err := s.publish(ctx, s.Subject(r.PumpID), data); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Subject returns the subject for id's readings. Characters NATS treats as separators or
// wildcards are replaced with underscores.
func (s *NATSSink) Subject(id telemetry.PumpID) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, id.String())
	return s.prefix + "." + token + ".telemetry"
}

func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

func natsOptions(cfg SinkConfig, logger *zap.Logger) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name("pumprelay"),
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLS != nil {
		tlsConfig, err := cfg.TLS.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}
	return opts, nil
}

func ensureStream(js nats.JetStreamContext, name, subject string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	return err
}

func init() {
	Register("nats", NewNATSSink)
}
