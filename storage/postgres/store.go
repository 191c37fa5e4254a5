// Package postgres stores vessel records in a PostgreSQL table through a pgx
// connection pool.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/vessel"
)

//go:embed migrations/schema.sql
var schemaSQL string

const (
	selectAllSQL = `SELECT mmsi, lat, lon, speed, course, "timestamp" FROM ships ORDER BY mmsi`

	upsertSQL = `INSERT INTO ships (mmsi, lat, lon, speed, course, "timestamp")
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (mmsi) DO UPDATE SET
    lat = EXCLUDED.lat,
    lon = EXCLUDED.lon,
    speed = EXCLUDED.speed,
    course = EXCLUDED.course,
    "timestamp" = EXCLUDED."timestamp"`

	deleteOlderSQL = `DELETE FROM ships WHERE "timestamp" < $1`
)

// options holds configuration for the store
type options struct {
	pool     *pgxpool.Pool
	dsn      string
	maxConns int32
}

// Option is a functional option for configuring the store
type Option func(*options) error

// WithConnectionPool uses an existing pool. The caller keeps ownership and
// Close will not close it.
func WithConnectionPool(pool *pgxpool.Pool) Option {
	return func(o *options) error {
		if pool == nil {
			return fmt.Errorf("pgx pool is required")
		}
		o.pool = pool
		return nil
	}
}

// WithDSN opens a new pool from a connection string.
func WithDSN(dsn string) Option {
	return func(o *options) error {
		if dsn == "" {
			return fmt.Errorf("dsn must not be empty")
		}
		o.dsn = dsn
		return nil
	}
}

// WithMaxConns caps the pool size when the store opens its own pool.
func WithMaxConns(n int32) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("max conns must be greater than zero, got %d", n)
		}
		o.maxConns = n
		return nil
	}
}

// Store is a storage.Store backed by PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

var (
	_ storage.Store       = (*Store)(nil)
	_ storage.Initializer = (*Store)(nil)
)

// New creates a store from options. Exactly one of WithConnectionPool or
// WithDSN is required.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errors.WrapInvalid(err, "postgres", "New", "apply option")
		}
	}

	if o.pool != nil {
		return &Store{pool: o.pool}, nil
	}
	if o.dsn == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "postgres", "New", "dsn or pool required")
	}

	cfg, err := pgxpool.ParseConfig(o.dsn)
	if err != nil {
		return nil, errors.WrapInvalid(err, "postgres", "New", "parse dsn")
	}
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "postgres", "New", "create pool")
	}
	return &Store{pool: pool, ownsPool: true}, nil
}

// Init checks connectivity and applies the schema.
func (s *Store) Init(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.WrapFatal(err, "postgres", "Init", "ping database")
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrSchemaInit, err), "postgres", "Init", "apply schema")
	}
	return nil
}

// GetAll returns every row ordered by MMSI.
func (s *Store) GetAll(ctx context.Context) ([]vessel.ShipRecord, error) {
	rows, err := s.pool.Query(ctx, selectAllSQL)
	if err != nil {
		return nil, errors.WrapTransient(err, "postgres", "GetAll", "query ships")
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vessel.ShipRecord, error) {
		var rec vessel.ShipRecord
		err := row.Scan(&rec.MMSI, &rec.Lat, &rec.Lon, &rec.Speed, &rec.Course, &rec.Timestamp)
		rec.Timestamp = rec.Timestamp.UTC()
		return rec, err
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "postgres", "GetAll", "scan ships")
	}
	return records, nil
}

// UpsertBatch writes the batch in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, records []vessel.ShipRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.WrapTransient(err, "postgres", "UpsertBatch", "begin transaction")
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(upsertSQL, rec.MMSI, rec.Lat, rec.Lon, rec.Speed, rec.Course, rec.Timestamp)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.WrapTransient(err, "postgres", "UpsertBatch", "exec batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.WrapTransient(err, "postgres", "UpsertBatch", "commit")
	}
	return nil
}

// DeleteOlderThan deletes rows strictly before threshold.
func (s *Store) DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, deleteOlderSQL, threshold)
	if err != nil {
		return 0, errors.WrapTransient(err, "postgres", "DeleteOlderThan", "delete rows")
	}
	return int(tag.RowsAffected()), nil
}

// Close closes the pool when the store opened it.
func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}
