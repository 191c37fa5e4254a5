package service

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/shipstream/config"
	"github.com/c360/shipstream/errors"
	httpgw "github.com/c360/shipstream/gateway/http"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/input/aisstream"
	"github.com/c360/shipstream/metric"
	"github.com/c360/shipstream/persist"
	"github.com/c360/shipstream/pkg/tlsutil"
	"github.com/c360/shipstream/query"
	"github.com/c360/shipstream/registry"
	"github.com/c360/shipstream/storage"
)

// Name is the system name used in aggregated health.
const Name = "shipstream"

// Status represents the current status of the service
type Status int32

// Possible service statuses
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Option is a functional option for configuring a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry. By default the service creates its
// own.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Service) {
		if registry != nil {
			s.metrics = registry
		}
	}
}

// WithStore uses store instead of opening the configured backend.
func WithStore(store storage.Store) Option {
	return func(s *Service) {
		s.injectedStore = store
	}
}

// WithDialer replaces the upstream websocket dialer.
func WithDialer(d aisstream.Dialer) Option {
	return func(s *Service) {
		s.dialer = d
	}
}

// WithListener serves the HTTP API on ln instead of listening on the
// configured address.
func WithListener(ln net.Listener) Option {
	return func(s *Service) {
		s.listener = ln
	}
}

// Service owns every long-running part of shipstream: the upstream stream
// client, the periodic flusher, the retention sweeper and the HTTP API, all
// sharing one registry and one storage backend.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	monitor *health.Monitor
	conn    *health.ConnectionState

	registry *registry.Registry
	storage  *Storage
	stream   *aisstream.Client
	flusher  *persist.Flusher
	sweeper  *persist.Sweeper
	engine   *query.Engine
	gateway  *httpgw.Gateway

	injectedStore storage.Store
	dialer        aisstream.Dialer
	listener      net.Listener

	status atomic.Int32
}

// New opens storage and assembles the service. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Service", "New", "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		logger:  slog.Default(),
		monitor: health.NewMonitor(),
		conn:    health.NewConnectionState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metric.NewMetricsRegistry()
	}

	if s.injectedStore != nil {
		s.storage = &Storage{Store: s.injectedStore, backend: "injected"}
	} else {
		st, err := OpenStorage(ctx, cfg, s.logger.With("component", "storage"), s.monitor)
		if err != nil {
			return nil, err
		}
		s.storage = st
	}

	if err := s.assemble(); err != nil {
		_ = s.storage.Close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Service) assemble() error {
	var err error
	cfg := s.cfg

	s.registry, err = registry.New(registry.WithMetrics(s.metrics, "registry"))
	if err != nil {
		return err
	}

	streamCfg := aisstream.Config{
		URL:              cfg.Upstream.URL,
		APIKey:           cfg.Upstream.APIKey,
		BoundingBoxes:    cfg.Upstream.BoundingBoxes,
		MMSIFilter:       cfg.Upstream.MMSIFilter,
		HandshakeTimeout: cfg.Upstream.HandshakeTimeout,
		ReadTimeout:      cfg.Upstream.ReadTimeout,
		EventBuffer:      aisstream.DefaultConfig().EventBuffer,
		Reconnect: aisstream.ReconnectConfig{
			MaxRetries:      cfg.Upstream.Reconnect.MaxRetries,
			InitialInterval: cfg.Upstream.Reconnect.InitialInterval,
			MaxInterval:     cfg.Upstream.Reconnect.MaxInterval,
			Multiplier:      cfg.Upstream.Reconnect.Multiplier,
			Jitter:          cfg.Upstream.Reconnect.Jitter,
		},
	}
	streamOpts := []aisstream.Option{
		aisstream.WithLogger(s.logger.With("component", "aisstream")),
		aisstream.WithMetrics(s.metrics),
	}
	if s.dialer != nil {
		streamOpts = append(streamOpts, aisstream.WithDialer(s.dialer))
	}
	s.stream, err = aisstream.NewClient(streamCfg, s.registry, s.conn, streamOpts...)
	if err != nil {
		return err
	}

	persistOpts := []persist.Option{
		persist.WithMetrics(s.metrics),
		persist.WithHealthMonitor(s.monitor),
		persist.WithPruneRegistry(cfg.Persistence.PruneRegistry),
		persist.WithMode(persist.Mode(cfg.Persistence.FlushMode)),
		persist.WithStorageLock(&sync.Mutex{}),
	}
	s.flusher, err = persist.NewFlusher(s.registry, s.storage.Store, cfg.Persistence.FlushInterval,
		append(persistOpts, persist.WithLogger(s.logger.With("component", "flusher")))...)
	if err != nil {
		return err
	}
	s.sweeper, err = persist.NewSweeper(s.storage.Store, s.registry,
		cfg.Persistence.Retention, cfg.Persistence.SweepInterval,
		append(persistOpts, persist.WithLogger(s.logger.With("component", "sweeper")))...)
	if err != nil {
		return err
	}

	var source query.Source = query.RegistrySource{Registry: s.registry}
	if cfg.Query.Source == config.QuerySourceStorage {
		source = query.StorageSource{Store: s.storage.Store}
	}
	s.engine, err = query.NewEngine(source, s.conn, s.logger.With("component", "query"))
	if err != nil {
		return err
	}

	serverTLS, err := tlsutil.LoadServerTLSConfig(cfg.HTTP.TLS)
	if err != nil {
		return err
	}

	s.gateway, err = httpgw.NewGateway(httpgw.Config{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		EnableCORS:     cfg.HTTP.EnableCORS,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxRequestSize: cfg.HTTP.MaxRequestSize,
	}, s.engine, s.stream,
		httpgw.WithLogger(s.logger.With("component", "http")),
		httpgw.WithMetrics(s.metrics),
		httpgw.WithHealth(s.Health),
		httpgw.WithTLS(serverTLS))
	return err
}

// Status returns the current service status
func (s *Service) Status() Status {
	return Status(s.status.Load())
}

// Registry returns the shared vessel registry.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Handler returns the HTTP API handler.
func (s *Service) Handler() http.Handler {
	return s.gateway.Handler()
}

// Health aggregates the stream connection and the last flush and sweep
// outcomes.
func (s *Service) Health() health.Status {
	s.monitor.Update("aisstream", s.stream.Health())
	return s.monitor.AggregateHealth(Name)
}

// Run hydrates the registry, starts every part and blocks until ctx is
// cancelled or a part fails. On the way out it stops the stream, performs a
// final flush bounded by persistence.final_flush_timeout and closes storage.
func (s *Service) Run(ctx context.Context) error {
	if !s.status.CompareAndSwap(int32(StatusStopped), int32(StatusStarting)) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Service", "Run", "start service")
	}

	if s.cfg.Registry.Hydrate {
		s.hydrate(ctx)
	}

	if err := s.stream.Start(ctx); err != nil {
		s.status.Store(int32(StatusStopped))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.flusher.Run(gctx) })
	g.Go(func() error { return s.sweeper.Run(gctx) })
	g.Go(func() error {
		if s.listener != nil {
			return s.gateway.Serve(gctx, s.listener)
		}
		return s.gateway.ListenAndServe(gctx)
	})

	s.status.Store(int32(StatusRunning))
	s.logger.Info("Service running",
		"http_addr", s.cfg.HTTP.Addr,
		"storage", s.storage.Backend(),
		"query_source", s.cfg.Query.Source,
		"registry_size", s.registry.Len())

	runErr := g.Wait()

	s.status.Store(int32(StatusStopping))
	s.shutdown()
	s.status.Store(int32(StatusStopped))

	return runErr
}

func (s *Service) hydrate(ctx context.Context) {
	records, err := s.storage.GetAll(ctx)
	if err != nil {
		s.logger.Warn("Registry hydration failed, starting empty", "error", err)
		return
	}
	loaded := s.registry.Load(records)
	s.logger.Info("Registry hydrated from storage", "records", loaded)
}

func (s *Service) shutdown() {
	if err := s.stream.Stop(10 * time.Second); err != nil {
		s.logger.Warn("Stream client did not stop cleanly", "error", err)
	}

	n, err := s.flusher.FinalFlush(s.cfg.Persistence.FinalFlushTimeout)
	if err != nil {
		s.logger.Error("Final flush failed, unflushed updates lost",
			"pending", s.registry.PendingCount(),
			"error", err)
	} else {
		s.logger.Info("Final flush complete", "records", n)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.storage.Close(closeCtx); err != nil {
		s.logger.Warn("Storage close failed", "error", err)
	}

	s.logger.Info("Service stopped")
}
