// Package memstore is an in-process storage.Store. It is the default backend
// when no durable store is configured and the store used in tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/vessel"
)

// Store keeps records in a map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	records map[string]vessel.ShipRecord
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]vessel.ShipRecord)}
}

// GetAll returns every record ordered by MMSI.
func (s *Store) GetAll(_ context.Context) ([]vessel.ShipRecord, error) {
	s.mu.RLock()
	out := make([]vessel.ShipRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MMSI < out[j].MMSI })
	return out, nil
}

// UpsertBatch replaces records by MMSI.
func (s *Store) UpsertBatch(_ context.Context, records []vessel.ShipRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		s.records[rec.MMSI] = rec
	}
	return nil
}

// DeleteOlderThan removes records strictly before threshold.
func (s *Store) DeleteOlderThan(_ context.Context, threshold time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for mmsi, rec := range s.records {
		if rec.OlderThan(threshold) {
			delete(s.records, mmsi)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
