// Package kvstore stores vessel records in a NATS JetStream key-value bucket,
// one key per MMSI holding the JSON record.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/natsclient"
	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/vessel"
)

// DefaultBucket is the bucket used when none is configured.
const DefaultBucket = "ships"

// Config configures the key-value backend.
type Config struct {
	Bucket   string        `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	Replicas int           `json:"replicas" yaml:"replicas" mapstructure:"replicas"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Bucket:   DefaultBucket,
		Replicas: 1,
		Timeout:  5 * time.Second,
	}
}

// Store is a storage.Store backed by a JetStream key-value bucket.
type Store struct {
	client *natsclient.Client
	config Config
	kv     *natsclient.KVStore
}

var (
	_ storage.Store       = (*Store)(nil)
	_ storage.Initializer = (*Store)(nil)
)

// New returns a store using client. Init must be called before use.
func New(client *natsclient.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "kvstore", "New", "nats client cannot be nil")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = 1
	}
	return &Store{client: client, config: cfg}, nil
}

// Init creates or opens the bucket.
func (s *Store) Init(ctx context.Context) error {
	bucket, err := s.client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      s.config.Bucket,
		Description: "Latest known position per vessel, keyed by MMSI",
		History:     1,
		Replicas:    s.config.Replicas,
	})
	if err != nil {
		return errors.WrapFatal(err, "kvstore", "Init", fmt.Sprintf("open bucket %s", s.config.Bucket))
	}

	s.kv = natsclient.NewKVStore(bucket, func(o *natsclient.KVOptions) {
		if s.config.Timeout > 0 {
			o.Timeout = s.config.Timeout
		}
	})
	return nil
}

func (s *Store) ready(method string) error {
	if s.kv == nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, errors.ErrBucketNotFound),
			"kvstore", method, "bucket not initialized")
	}
	return nil
}

// GetAll reads every key in the bucket.
func (s *Store) GetAll(ctx context.Context) ([]vessel.ShipRecord, error) {
	if err := s.ready("GetAll"); err != nil {
		return nil, err
	}

	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "kvstore", "GetAll", "list keys")
	}

	records := make([]vessel.ShipRecord, 0, len(keys))
	for _, key := range keys {
		rec, ok, err := s.get(ctx, key)
		if err != nil {
			return nil, errors.WrapTransient(err, "kvstore", "GetAll", fmt.Sprintf("get %s", key))
		}
		if ok {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].MMSI < records[j].MMSI })
	return records, nil
}

// get returns ok=false when the key vanished between listing and reading.
func (s *Store) get(ctx context.Context, key string) (vessel.ShipRecord, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return vessel.ShipRecord{}, false, nil
		}
		return vessel.ShipRecord{}, false, err
	}

	var rec vessel.ShipRecord
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return vessel.ShipRecord{}, false, errors.WrapInvalid(err, "kvstore", "get", "unmarshal record")
	}
	return rec, true, nil
}

// UpsertBatch puts each record under its MMSI. The bucket has no multi-key
// transaction, so a failure part way leaves earlier puts in place; the
// flusher resubmits the whole batch on its next cycle.
func (s *Store) UpsertBatch(ctx context.Context, records []vessel.ShipRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ready("UpsertBatch"); err != nil {
		return err
	}

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return errors.WrapInvalid(err, "kvstore", "UpsertBatch", "marshal record")
		}
		if _, err := s.kv.Put(ctx, rec.MMSI, data); err != nil {
			return errors.WrapTransient(err, "kvstore", "UpsertBatch", fmt.Sprintf("put %s", rec.MMSI))
		}
	}
	return nil
}

// DeleteOlderThan scans the bucket and deletes stale keys.
func (s *Store) DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	if err := s.ready("DeleteOlderThan"); err != nil {
		return 0, err
	}

	records, err := s.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range records {
		if !rec.OlderThan(threshold) {
			continue
		}
		if err := s.kv.Delete(ctx, rec.MMSI); err != nil {
			return removed, errors.WrapTransient(err, "kvstore", "DeleteOlderThan",
				fmt.Sprintf("delete %s", rec.MMSI))
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op; the NATS client is owned by the caller.
func (s *Store) Close() error {
	return nil
}
