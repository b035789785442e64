// Package api exposes the relay over HTTP: operator commands, recent telemetry, per-pump status
// and an HTTP ingest path for controllers that cannot speak MQTT.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/edgeflare/pumprelay/pkg/control"
	"github.com/edgeflare/pumprelay/pkg/httputil"
	"github.com/edgeflare/pumprelay/pkg/httputil/middleware"
	"github.com/edgeflare/pumprelay/pkg/ingest"
	"github.com/edgeflare/pumprelay/pkg/logging"
	"github.com/edgeflare/pumprelay/pkg/metrics"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"go.uber.org/zap"
)

const Banner = "Pump Monitor API v1.0 is running"

const healthTimeout = 2 * time.Second

// Store is the read side of the telemetry repository.
type Store interface {
	Recent(ctx context.Context, limit int) ([]telemetry.Reading, error)
	LatestPerPump(ctx context.Context) ([]telemetry.Reading, error)
	Ping(ctx context.Context) error
}

// Relay sends operator commands to pumps.
type Relay interface {
	Send(ctx context.Context, rawPumpID, rawCommand string) (control.Ack, error)
}

// Ingester stores readings posted over HTTP.
type Ingester interface {
	Ingest(ctx context.Context, payload []byte) ingest.Result
}

// Bus reports the message bus connection state.
type Bus interface {
	IsConnected() bool
}

type Options struct {
	Store    Store
	Relay    Relay
	Ingester Ingester
	Bus      Bus
	Logger   *zap.Logger
	// CORS nil means the permissive dashboard defaults.
	CORS *middleware.CORSOptions
	// MountMetrics serves GET /metrics on the API listener.
	MountMetrics bool
}

type Server struct {
	store    Store
	relay    Relay
	ingester Ingester
	bus      Bus
	logger   *zap.Logger
	cors     *middleware.CORSOptions
	metrics  bool
}

func New(opts Options) *Server {
	return &Server{
		store:    opts.Store,
		relay:    opts.Relay,
		ingester: opts.Ingester,
		bus:      opts.Bus,
		logger:   logging.OrNop(opts.Logger),
		cors:     opts.CORS,
		metrics:  opts.MountMetrics,
	}
}

// Router returns a router with the middleware stack and every route registered.
func (s *Server) Router(opts ...httputil.RouterOptions) *httputil.Router {
	r := httputil.NewRouter(append([]httputil.RouterOptions{httputil.WithLogger(s.logger)}, opts...)...)
	r.Use(
		middleware.RequestID,
		middleware.LoggerWithOptions(&middleware.LoggerOptions{Logger: s.logger}),
		middleware.CORSWithOptions(s.cors),
		middleware.Metrics,
	)
	s.Register(r)
	return r
}

// Register adds the routes to r without touching its middleware.
func (s *Server) Register(r *httputil.Router) {
	r.HandleFunc("GET /{$}", s.handleIndex)
	r.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics {
		r.Handle("GET /metrics", metrics.Handler())
	}

	api := r.Group("/api")
	api.HandleFunc("POST /pumps/{id}/control", s.handleControl)
	api.HandleFunc("GET /pumps/status", s.handlePumpStatus)
	api.HandleFunc("GET /telemetry", s.handleRecentTelemetry)
	api.HandleFunc("POST /telemetry", s.handleIngest)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, Banner)
}
