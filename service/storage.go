package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/c360/shipstream/config"
	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/natsclient"
	"github.com/c360/shipstream/pkg/tlsutil"
	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/storage/kvstore"
	"github.com/c360/shipstream/storage/memstore"
	"github.com/c360/shipstream/storage/objectstore"
	"github.com/c360/shipstream/storage/postgres"
	"github.com/c360/shipstream/storage/sqlite"
)

// Storage is an opened backend together with the NATS connection it owns, if
// any.
type Storage struct {
	storage.Store

	backend string
	nats    *natsclient.Client
}

// Backend returns the configured backend name.
func (s *Storage) Backend() string {
	return s.backend
}

// Close closes the store and then its NATS connection.
func (s *Storage) Close(ctx context.Context) error {
	var errs []error
	if err := s.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.nats != nil {
		if err := s.nats.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		return errors.Wrap(err, "Storage", "Close", "close backend "+s.backend)
	}
	return nil
}

// natsHealthName is the health entry fed by NATS connection events.
const natsHealthName = "nats"

// OpenStorage builds the configured backend and prepares it. Connecting and
// schema setup are retried with exponential backoff until
// cfg.Storage.InitTimeout; a backend that is still not ready then is a fatal
// startup error. When monitor is non-nil, NATS backed stores report their
// connection state to it.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger, monitor *health.Monitor) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", cfg.Storage.Backend)

	s := &Storage{backend: cfg.Storage.Backend}

	switch cfg.Storage.Backend {
	case storage.BackendMemory:
		s.Store = memstore.New()

	case storage.BackendNATSKV, storage.BackendNATSObject:
		client, err := connectNATS(ctx, cfg, logger, monitor)
		if err != nil {
			return nil, err
		}
		s.nats = client

		if cfg.Storage.Backend == storage.BackendNATSKV {
			kcfg := kvstore.DefaultConfig()
			kcfg.Bucket = cfg.Storage.NATSKV.Bucket
			kcfg.Replicas = cfg.Storage.NATSKV.Replicas
			if cfg.Storage.NATSKV.Timeout > 0 {
				kcfg.Timeout = cfg.Storage.NATSKV.Timeout
			}
			s.Store, err = kvstore.New(client, kcfg)
		} else {
			ocfg := objectstore.DefaultConfig()
			ocfg.Bucket = cfg.Storage.NATSObject.Bucket
			ocfg.Replicas = cfg.Storage.NATSObject.Replicas
			if cfg.Storage.NATSObject.Timeout > 0 {
				ocfg.Timeout = cfg.Storage.NATSObject.Timeout
			}
			s.Store, err = objectstore.New(client, ocfg)
		}
		if err != nil {
			_ = client.Close(context.Background())
			return nil, err
		}

	case storage.BackendPostgres:
		store, err := postgres.New(ctx,
			postgres.WithDSN(cfg.Storage.Postgres.DSN),
			postgres.WithMaxConns(cfg.Storage.Postgres.MaxConns))
		if err != nil {
			return nil, err
		}
		s.Store = store

	case storage.BackendSQLite:
		store, err := sqlite.Open(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, err
		}
		s.Store = store

	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown storage backend %q", errors.ErrInvalidConfig, cfg.Storage.Backend),
			"Storage", "OpenStorage", "select backend")
	}

	if init, ok := s.Store.(storage.Initializer); ok {
		if err := initialize(ctx, init, cfg.Storage.InitTimeout, logger); err != nil {
			_ = s.Close(context.Background())
			return nil, err
		}
	}

	logger.Info("Storage ready")
	return s, nil
}

func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger, monitor *health.Monitor) (*natsclient.Client, error) {
	onDisconnect, onReconnect := natsHealthReporters(monitor)
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithDisconnectCallback(onDisconnect),
		natsclient.WithReconnectCallback(onReconnect),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(cfg.NATS.PingInterval))
	}
	if cfg.NATS.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.NATS.TLS)
	if err != nil {
		return nil, err
	}
	opts = append(opts, natsclient.WithTLSConfig(tlsConfig))

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, err
	}

	_, err = retry(ctx, cfg.Storage.InitTimeout, logger, "connect to NATS", func() (struct{}, error) {
		return struct{}{}, client.Connect(ctx)
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "Storage", "connectNATS", "connect to NATS")
	}
	onReconnect()
	return client, nil
}

// natsHealthReporters returns connection callbacks that keep the "nats"
// entry of monitor current. Both are no-ops without a monitor.
func natsHealthReporters(monitor *health.Monitor) (onDisconnect func(error), onReconnect func()) {
	if monitor == nil {
		return func(error) {}, func() {}
	}
	onDisconnect = func(err error) {
		if err == nil {
			err = errors.ErrConnectionLost
		}
		monitor.Update(natsHealthName, health.FromError(natsHealthName, err))
	}
	onReconnect = func() {
		monitor.Update(natsHealthName, health.NewHealthy(natsHealthName, "Connected"))
	}
	return onDisconnect, onReconnect
}

func initialize(ctx context.Context, init storage.Initializer, timeout time.Duration, logger *slog.Logger) error {
	_, err := retry(ctx, timeout, logger, "initialize storage", func() (struct{}, error) {
		return struct{}{}, init.Init(ctx)
	})
	if err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err),
			"Storage", "initialize", "initialize storage")
	}
	return nil
}

func retry[T any](ctx context.Context, timeout time.Duration, logger *slog.Logger, what string,
	op backoff.Operation[T]) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Retrying "+what, "retry_in", next, "error", err)
		}),
	}
	if timeout > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(timeout))
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && errors.IsInvalid(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
