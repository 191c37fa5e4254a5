// Package sqlite stores vessel records in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/vessel"
)

//go:embed schema.sql
var schemaSQL string

const (
	selectAllSQL = `SELECT mmsi, lat, lon, speed, course, ts_unix_ns FROM ships ORDER BY mmsi`

	upsertSQL = `INSERT INTO ships (mmsi, lat, lon, speed, course, ts_unix_ns)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (mmsi) DO UPDATE SET
    lat = excluded.lat,
    lon = excluded.lon,
    speed = excluded.speed,
    course = excluded.course,
    ts_unix_ns = excluded.ts_unix_ns`

	deleteOlderSQL = `DELETE FROM ships WHERE ts_unix_ns < ?`
)

// Store is a storage.Store backed by SQLite. Timestamps are stored as Unix
// nanoseconds so range comparisons are exact.
type Store struct {
	db *sql.DB
}

var (
	_ storage.Store       = (*Store)(nil)
	_ storage.Initializer = (*Store)(nil)
)

// Open opens or creates the database at path. Use ":memory:" for a private
// in-memory database.
//
// The connection is configured with:
//   - WAL journal for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WrapFatal(err, "sqlite", "Open", "open database")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WrapFatal(err, "sqlite", "Open", "connect to database")
	}

	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errors.WrapFatal(err, "sqlite", "Open", "apply pragmas")
	}

	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Init applies the schema. It is idempotent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrSchemaInit, err), "sqlite", "Init", "apply schema")
	}
	return nil
}

// GetAll returns every row ordered by MMSI.
func (s *Store) GetAll(ctx context.Context) ([]vessel.ShipRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectAllSQL)
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlite", "GetAll", "query ships")
	}
	defer rows.Close()

	records := []vessel.ShipRecord{}
	for rows.Next() {
		var rec vessel.ShipRecord
		var ns int64
		if err := rows.Scan(&rec.MMSI, &rec.Lat, &rec.Lon, &rec.Speed, &rec.Course, &ns); err != nil {
			return nil, errors.WrapTransient(err, "sqlite", "GetAll", "scan row")
		}
		rec.Timestamp = time.Unix(0, ns).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "sqlite", "GetAll", "iterate rows")
	}
	return records, nil
}

// UpsertBatch writes the batch in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, records []vessel.ShipRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "sqlite", "UpsertBatch", "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return errors.WrapTransient(err, "sqlite", "UpsertBatch", "prepare upsert")
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.MMSI, rec.Lat, rec.Lon, rec.Speed, rec.Course,
			rec.Timestamp.UnixNano()); err != nil {
			return errors.WrapTransient(err, "sqlite", "UpsertBatch", fmt.Sprintf("upsert %s", rec.MMSI))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, "sqlite", "UpsertBatch", "commit")
	}
	return nil
}

// DeleteOlderThan deletes rows strictly before threshold.
func (s *Store) DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, deleteOlderSQL, threshold.UnixNano())
	if err != nil {
		return 0, errors.WrapTransient(err, "sqlite", "DeleteOlderThan", "delete rows")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WrapTransient(err, "sqlite", "DeleteOlderThan", "rows affected")
	}
	return int(n), nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
