package storage

import (
	"context"
	"time"

	"github.com/c360/shipstream/vessel"
)

// Store is the durable backend behind the flusher, the retention sweeper and
// startup hydration.
//
// Records are keyed by MMSI. Implementations must be safe for concurrent use;
// in practice the flusher and sweeper may call a Store at the same time.
type Store interface {
	// GetAll returns every stored record in MMSI order.
	GetAll(ctx context.Context) ([]vessel.ShipRecord, error)

	// UpsertBatch inserts or replaces each record by MMSI. An empty batch is
	// a no-op. Backends that support transactions apply the batch atomically.
	UpsertBatch(ctx context.Context, records []vessel.ShipRecord) error

	// DeleteOlderThan removes records whose timestamp is strictly before
	// threshold and returns how many were removed.
	DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error)

	// Close releases the backend's resources.
	Close() error
}

// Initializer is implemented by backends that must prepare a schema or bucket
// before first use. Failure is fatal at startup.
type Initializer interface {
	Init(ctx context.Context) error
}

// Backend names accepted by configuration.
const (
	BackendMemory     = "memory"
	BackendNATSKV     = "nats-kv"
	BackendNATSObject = "nats-object"
	BackendPostgres   = "postgres"
	BackendSQLite     = "sqlite"
)

// Backends lists every supported backend name.
func Backends() []string {
	return []string{BackendMemory, BackendNATSKV, BackendNATSObject, BackendPostgres, BackendSQLite}
}
