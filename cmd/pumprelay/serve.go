package pumprelay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/pumprelay/pkg/api"
	"github.com/edgeflare/pumprelay/pkg/control"
	"github.com/edgeflare/pumprelay/pkg/httputil"
	"github.com/edgeflare/pumprelay/pkg/ingest"
	"github.com/edgeflare/pumprelay/pkg/metrics"
	"github.com/edgeflare/pumprelay/pkg/mirror"
	"github.com/edgeflare/pumprelay/pkg/mqtt"
	"github.com/edgeflare/pumprelay/pkg/pgx"
	"github.com/edgeflare/pumprelay/pkg/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Run the relay",
	Long: `Subscribes to <prefix>/+/telemetry, stores each reading, and serves the HTTP API
on the configured port until SIGINT or SIGTERM`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.IntP("port", "p", 3000, "HTTP API port")
	f.String("metrics-addr", "", "Prometheus listen address (default :9100)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgx.NewPool(ctx, cfg.Database.URL, pgx.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		PingMaxElapsed:  cfg.Database.PingMaxElapsed,
		Logger:          logger.Named("pgx"),
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.NewPostgres(pool)
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	bus, err := mqtt.NewClient(cfg.MQTT.ClientOptions(), logger.Named("mqtt"))
	if err != nil {
		return err
	}
	if err := bus.Connect(ctx); err != nil {
		return err
	}
	defer bus.Disconnect()

	fanout, err := mirror.Build(ctx, cfg.Mirror.Sinks, logger.Named("mirror"))
	if err != nil {
		return err
	}
	defer func() {
		if err := fanout.Close(); err != nil {
			logger.Warn("closing mirror sinks", zap.Error(err))
		}
	}()

	var listenerOpts []ingest.Option
	if fanout.Len() > 0 {
		listenerOpts = append(listenerOpts, ingest.WithMirror(fanout))
	}
	listener := ingest.New(ingest.Config{
		TopicPrefix:  cfg.MQTT.TopicPrefix,
		QoS:          byte(cfg.MQTT.SubscribeQoS),
		WriteTimeout: cfg.MQTT.WriteTimeout,
	}, bus, st, logger.Named("ingest"), listenerOpts...)

	// detached from the signal; Stop drains in-flight writes before cancelIngest runs
	ingestCtx, cancelIngest := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIngest()
	if err := listener.Start(ingestCtx); err != nil {
		return err
	}

	controlQoS := byte(cfg.MQTT.ControlQoS)
	relay := control.New(control.Config{
		TopicPrefix:    cfg.MQTT.TopicPrefix,
		QoS:            &controlQoS,
		PublishTimeout: cfg.MQTT.PublishTimeout,
	}, bus, logger.Named("control"))

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: cfg.Metrics.Addr}, logger.Named("metrics"))
	}

	var routerOpts []httputil.RouterOptions
	if cfg.HTTP.TLSCertFile != "" {
		routerOpts = append(routerOpts, httputil.WithTLS(cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile))
	}
	router := api.New(api.Options{
		Store:        st,
		Relay:        relay,
		Ingester:     listener,
		Bus:          bus,
		Logger:       logger.Named("http"),
		MountMetrics: cfg.Metrics.OnAPI,
	}).Router(routerOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.ListenAndServe(cfg.Addr())
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("HTTP server: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	listener.Stop()
	wg.Wait()

	return serveErr
}
