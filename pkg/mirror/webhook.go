package mirror

import (
	"context"
	"errors"
	"net/http"

	"github.com/edgeflare/pumprelay/pkg/httputil"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"go.uber.org/zap"
)

// WebhookSink POSTs each reading as JSON to a URL.
type WebhookSink struct {
	name   string
	config httputil.RequestConfig
}

func NewWebhookSink(_ context.Context, cfg SinkConfig, logger *zap.Logger) (Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook sink requires url")
	}
	rc := httputil.DefaultRequestConfig(http.MethodPost, cfg.URL)
	rc.Headers = cfg.Headers
	rc.MaxRetries = cfg.MaxRetries
	rc.Logger = logger
	if cfg.Timeout > 0 {
		rc.Timeout = cfg.Timeout
	}
	if cfg.TLS != nil {
		tlsConfig, err := cfg.TLS.Config()
		if err != nil {
			return nil, err
		}
		rc.Client = &http.Client{
			Timeout:   rc.Timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment},
		}
	}
	return &WebhookSink{name: cfg.Name, config: rc}, nil
}

func (s *WebhookSink) Name() string { return s.name }

func (s *WebhookSink) Publish(ctx context.Context, r telemetry.Reading) error {
	_, err := httputil.Request(ctx, s.config, r)
	return err
}

func (s *WebhookSink) Close() error {
	if s.config.Client != nil {
		s.config.Client.CloseIdleConnections()
	}
	return nil
}

func init() {
	Register("webhook", NewWebhookSink)
}
