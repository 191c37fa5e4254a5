// Package storage defines the durable storage contract for vessel records and
// hosts its backends in sub-packages:
//
//   - memstore: in-process map, the default and the test double
//   - kvstore: NATS JetStream key-value bucket, one key per MMSI
//   - objectstore: NATS JetStream object store, one JSON snapshot object
//   - postgres: PostgreSQL table via pgx, batch upsert in a transaction
//   - sqlite: local SQLite file, batch upsert in a transaction
//
// # Contract
//
// Every backend implements Store:
//
//	GetAll(ctx) ([]vessel.ShipRecord, error)
//	UpsertBatch(ctx, records) error
//	DeleteOlderThan(ctx, threshold) (int, error)
//	Close() error
//
// Records stamped exactly at the threshold survive DeleteOlderThan. UpsertBatch
// replaces whole records; merging partial updates happens in the registry
// before records reach storage.
//
// Errors returned by backends are classified with the errors package:
// transient for unavailable or timed-out backends, fatal for schema problems
// found during Init.
//
// # Conformance
//
// The storagetest package holds a testify suite that every backend runs
// against itself, so behavior such as the threshold boundary is checked the
// same way everywhere.
package storage
