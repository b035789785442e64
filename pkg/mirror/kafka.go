package mirror

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"go.uber.org/zap"
)

// KafkaSink produces readings to <prefix>.telemetry keyed by pump id, so each pump's readings
// land on one partition.
type KafkaSink struct {
	name     string
	topic    string
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// NewKafkaSink creates a synchronous producer for cfg.Servers.
func NewKafkaSink(_ context.Context, cfg SinkConfig, logger *zap.Logger) (Sink, error) {
	brokers := cfg.Servers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	saramaConfig, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newKafkaSink(cfg, producer, logger), nil
}

func newKafkaSink(cfg SinkConfig, producer sarama.SyncProducer, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		name:     cfg.Name,
		topic:    cmp.Or(cfg.SubjectPrefix, defaultSubjectPrefix) + ".telemetry",
		producer: producer,
		logger:   logger,
	}
}

func (s *KafkaSink) Name() string { return s.name }

func (s *KafkaSink) Publish(ctx context.Context, r telemetry.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	partition, offset, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(r.PumpID.String()),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	s.logger.Debug("reading produced",
		zap.String("topic", s.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

func newSaramaConfig(cfg SinkConfig) (*sarama.Config, error) {
	conf := sarama.NewConfig()
	conf.ClientID = "pumprelay"

	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid Kafka version: %w", err)
		}
		conf.Version = version
	}

	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Retry.Max = 1
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true

	if cfg.SASL != nil {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = cfg.SASL.Username
		conf.Net.SASL.Password = cfg.SASL.Password
		conf.Net.SASL.Handshake = true

		switch strings.ToLower(cfg.SASL.Mechanism) {
		case "sha512", "scram-sha-512":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		case "sha256", "scram-sha-256":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "plain", "":
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return nil, fmt.Errorf("invalid SASL mechanism: %s", cfg.SASL.Mechanism)
		}
	}

	if cfg.TLS != nil {
		tlsConfig, err := cfg.TLS.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConfig
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Kafka config: %w", err)
	}
	return conf, nil
}

func init() {
	Register("kafka", NewKafkaSink)
}
