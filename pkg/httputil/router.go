package httputil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/edgeflare/pumprelay/pkg/logging"
	"go.uber.org/zap"
)

// Middleware defines a function type that represents a middleware. Middleware functions wrap an
// http.Handler to modify or enhance its behavior.
type Middleware func(http.Handler) http.Handler

// RouterOptions is a function type that represents options to configure a Router.
type RouterOptions func(*Router)

// Router registers Go 1.22 method patterns on a ServeMux. Middleware added to the root router
// wraps the whole mux; middleware added to a group wraps only that group's routes.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	root       *Router
	prefix     string
	middleware []Middleware
	logger     *zap.Logger
	tlsErr     error
	mu         sync.RWMutex
}

// NewRouter creates a new instance of Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{
		mux: http.NewServeMux(),
		server: &http.Server{
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: zap.NewNop(),
	}
	r.root = r
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithServerOptions returns a RouterOptions function that sets custom http.Server options.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.server)
		}
	}
}

// WithLogger sets the logger used for server lifecycle messages.
func WithLogger(logger *zap.Logger) RouterOptions {
	return func(r *Router) {
		r.logger = logging.OrNop(logger)
	}
}

// WithTLS serves HTTPS with the given key pair. A load failure is returned by ListenAndServe.
func WithTLS(certFile, keyFile string) RouterOptions {
	return func(r *Router) {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			r.tlsErr = fmt.Errorf("error loading TLS certificates: %w", err)
			return
		}
		r.server.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}
}

// Use adds one or more middleware. Middleware functions are applied in the order they are added,
// the first being outermost.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	r.middleware = append(r.middleware, additional...)
}

// Group creates a sub-router with a path prefix. A group of a group inherits the parent group's
// middleware; root middleware always applies through Handler.
func (r *Router) Group(prefix string) *Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := &Router{
		mux:    r.mux,
		server: r.server,
		root:   r.root,
		prefix: r.prefix + prefix,
		logger: r.logger,
	}
	if r != r.root {
		g.middleware = slices.Clone(r.middleware)
	}
	return g
}

// Handle registers handler for `METHOD /pattern`. On a group with /prefix the route resolves to
// `METHOD /prefix/pattern`. It panics on a pattern without a method, like ServeMux does for
// malformed patterns.
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	method, pattern, ok := strings.Cut(methodPattern, " ")
	if !ok || method == "" || !strings.HasPrefix(pattern, "/") {
		panic(fmt.Sprintf("httputil: invalid method pattern %q", methodPattern))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r != r.root {
		handler = Chain(handler, r.middleware...)
	}
	r.mux.Handle(method+" "+r.prefix+pattern, handler)
}

// HandleFunc is Handle for a plain function.
func (r *Router) HandleFunc(methodPattern string, fn http.HandlerFunc) {
	r.Handle(methodPattern, fn)
}

// Handler returns the mux wrapped in the root middleware.
func (r *Router) Handler() http.Handler {
	root := r.root
	root.mu.RLock()
	defer root.mu.RUnlock()

	return Chain(root.mux, root.middleware...)
}

// Chain wraps h so that the first middleware is the outermost and runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// ListenAndServe serves on addr until Shutdown, over TLS when WithTLS was given.
func (r *Router) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (r *Router) Serve(ln net.Listener) error {
	if r.tlsErr != nil {
		ln.Close()
		return r.tlsErr
	}
	r.server.Handler = r.Handler()

	if r.server.TLSConfig != nil {
		r.logger.Info("starting HTTPS server", zap.String("addr", ln.Addr().String()))
		return r.server.ServeTLS(ln, "", "")
	}
	r.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	return r.server.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down server")
	if err := r.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
