// Package objectstore stores the whole vessel table as a single JSON object
// in a NATS JetStream object store. Every write rewrites the object, so this
// backend suits snapshot-mode flushing of modest fleets.
package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/natsclient"
	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/vessel"
)

// Defaults for bucket and object names.
const (
	DefaultBucket = "ships"
	DefaultObject = "ships.json"
)

// Config configures the object store backend.
type Config struct {
	Bucket   string        `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	Object   string        `json:"object" yaml:"object" mapstructure:"object"`
	Replicas int           `json:"replicas" yaml:"replicas" mapstructure:"replicas"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Bucket:   DefaultBucket,
		Object:   DefaultObject,
		Replicas: 1,
		Timeout:  10 * time.Second,
	}
}

// Store is a storage.Store backed by one object.
type Store struct {
	client *natsclient.Client
	config Config

	// mu serializes read-modify-write cycles on the object.
	mu  sync.Mutex
	obj jetstream.ObjectStore
}

var (
	_ storage.Store       = (*Store)(nil)
	_ storage.Initializer = (*Store)(nil)
)

// New returns a store using client. Init must be called before use.
func New(client *natsclient.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "objectstore", "New", "nats client cannot be nil")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Object == "" {
		cfg.Object = DefaultObject
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = 1
	}
	return &Store{client: client, config: cfg}, nil
}

// Init creates or opens the object store bucket.
func (s *Store) Init(ctx context.Context) error {
	obj, err := s.client.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      s.config.Bucket,
		Description: "Vessel position snapshot",
		Replicas:    s.config.Replicas,
	})
	if err != nil {
		return errors.WrapFatal(err, "objectstore", "Init", fmt.Sprintf("open bucket %s", s.config.Bucket))
	}

	s.mu.Lock()
	s.obj = obj
	s.mu.Unlock()
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return ctx, func() {}
}

// load reads the snapshot object. A missing object is an empty table.
// Callers hold s.mu.
func (s *Store) load(ctx context.Context, method string) (map[string]vessel.ShipRecord, error) {
	if s.obj == nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, errors.ErrBucketNotFound),
			"objectstore", method, "bucket not initialized")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.obj.GetBytes(ctx, s.config.Object)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return make(map[string]vessel.ShipRecord), nil
		}
		return nil, errors.WrapTransient(err, "objectstore", method, "get object")
	}

	var records []vessel.ShipRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.WrapInvalid(err, "objectstore", method, "decode snapshot")
	}

	table := make(map[string]vessel.ShipRecord, len(records))
	for _, rec := range records {
		table[rec.MMSI] = rec
	}
	return table, nil
}

// save writes the table back as a sorted JSON array. Callers hold s.mu.
func (s *Store) save(ctx context.Context, method string, table map[string]vessel.ShipRecord) error {
	data, err := json.Marshal(sortedRecords(table))
	if err != nil {
		return errors.WrapInvalid(err, "objectstore", method, "encode snapshot")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.obj.PutBytes(ctx, s.config.Object, data); err != nil {
		return errors.WrapTransient(err, "objectstore", method, "put object")
	}
	return nil
}

// GetAll returns the snapshot contents.
func (s *Store) GetAll(ctx context.Context) ([]vessel.ShipRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load(ctx, "GetAll")
	if err != nil {
		return nil, err
	}
	return sortedRecords(table), nil
}

// UpsertBatch merges the batch into the snapshot by MMSI and rewrites it.
func (s *Store) UpsertBatch(ctx context.Context, records []vessel.ShipRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load(ctx, "UpsertBatch")
	if err != nil {
		return err
	}
	for _, rec := range records {
		table[rec.MMSI] = rec
	}
	return s.save(ctx, "UpsertBatch", table)
}

// DeleteOlderThan filters stale records out of the snapshot. The object is
// only rewritten when something was removed.
func (s *Store) DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load(ctx, "DeleteOlderThan")
	if err != nil {
		return 0, err
	}

	removed := 0
	for mmsi, rec := range table {
		if rec.OlderThan(threshold) {
			delete(table, mmsi)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(ctx, "DeleteOlderThan", table); err != nil {
		return 0, err
	}
	return removed, nil
}

// Close is a no-op; the NATS client is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func sortedRecords(table map[string]vessel.ShipRecord) []vessel.ShipRecord {
	out := make([]vessel.ShipRecord, 0, len(table))
	for _, rec := range table {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MMSI < out[j].MMSI })
	return out
}
