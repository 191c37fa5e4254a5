// Package http serves the ship query API, the subscription filter endpoints,
// health and Prometheus metrics.
package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/metric"
	"github.com/c360/shipstream/query"
	"github.com/c360/shipstream/vessel"
)

// FilterController reads and replaces the upstream subscription filter.
type FilterController interface {
	BoundingBoxes() []vessel.BoundingBox
	UpdateBoundingBoxes(ctx context.Context, boxes []vessel.BoundingBox) error
}

// HealthFunc reports the current service health.
type HealthFunc func() health.Status

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics serves registry on /metrics and records request metrics into it.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		g.metricsReg = registry
	}
}

// WithHealth serves fn on /health.
func WithHealth(fn HealthFunc) Option {
	return func(g *Gateway) {
		g.health = fn
	}
}

// WithTLS serves HTTPS with cfg. A nil cfg serves plain HTTP.
func WithTLS(cfg *tls.Config) Option {
	return func(g *Gateway) {
		g.tlsConfig = cfg
	}
}

// WithMiddlewares adds middleware after the built-in chain.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(g *Gateway) {
		g.middlewares = append(g.middlewares, mw...)
	}
}

// Gateway is the HTTP front of the service.
type Gateway struct {
	config      Config
	engine      *query.Engine
	filter      FilterController
	health      HealthFunc
	metricsReg  *metric.MetricsRegistry
	metrics     *requestMetrics
	logger      *slog.Logger
	middlewares []func(http.Handler) http.Handler
	tlsConfig   *tls.Config

	router http.Handler

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// NewGateway creates the gateway. filter may be nil, in which case the
// bounding-box endpoints answer 503.
func NewGateway(cfg Config, engine *query.Engine, filter FilterController, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}
	if engine == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"query engine is required")
	}

	g := &Gateway{
		config: cfg,
		engine: engine,
		filter: filter,
		logger: slog.Default().With("component", "http"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.metrics = newRequestMetrics(g.metricsReg)
	g.router = g.buildRouter()

	return g, nil
}

// Handler returns the routed handler with all middleware applied.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(g.observe)
	r.Use(middleware.Recoverer)
	if g.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(g.config.RequestTimeout))
	}
	if g.config.EnableCORS {
		r.Use(g.cors)
	}
	for _, mw := range g.middlewares {
		r.Use(mw)
	}

	r.Get("/health", g.handleHealth)
	if g.metricsReg != nil {
		r.Method(http.MethodGet, "/metrics", metric.Handler(g.metricsReg))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/ships", g.handleListShips)
		r.Get("/ships/{mmsi}", g.handleGetShip)

		r.Get("/bounding-box", g.handleGetBoundingBoxes)
		r.Post("/bounding-box", g.handleSetBoundingBoxes)
		r.Put("/bounding-box", g.handleSetBoundingBoxes)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "ListenAndServe", "listen on "+g.config.Addr)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. With WithTLS, ln is wrapped in a
// TLS listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	scheme := "http"
	if g.tlsConfig != nil {
		ln = tls.NewListener(ln, g.tlsConfig)
		scheme = "https"
	}

	server := &http.Server{
		Handler:           g.router,
		ReadTimeout:       g.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      g.config.WriteTimeout,
		IdleTimeout:       g.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	g.logger.Info("HTTP API listening", "address", ln.Addr().String(), "scheme", scheme)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WrapFatal(err, "Gateway", "Serve", "serve http")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.WrapTransient(err, "Gateway", "Serve", "graceful shutdown")
	}

	g.logger.Info("HTTP API stopped",
		"requests_total", g.requestsTotal.Load(),
		"requests_failed", g.requestsFailed.Load())
	return nil
}
