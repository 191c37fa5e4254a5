// Package registry holds the latest known state of every observed vessel.
//
// The registry is the only shared mutable state between the stream client,
// which writes position updates, and the flusher, sweeper and query engine,
// which read it. All access goes through a single RWMutex and every read
// returns copies, so readers never observe a half-applied update.
//
// Besides the records themselves the registry tracks a pending set: the MMSIs
// changed since the last successful flush. TakePending reads and clears that
// set in one critical section, so an update that lands while a flush is being
// written is simply pending again for the next cycle.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/vessel"
)

// Stats is a point-in-time view of registry counters.
type Stats struct {
	Size      int
	Pending   int
	Upserts   int64
	Deletions int64
}

// Registry is a concurrency-safe map of MMSI to ShipRecord.
type Registry struct {
	mu      sync.RWMutex
	records map[string]vessel.ShipRecord
	pending map[string]struct{}

	upserts   atomic.Int64
	deletions atomic.Int64
	metrics   *registryMetrics
}

// New creates an empty registry.
func New(opts ...Option) (*Registry, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	r := &Registry{
		records: make(map[string]vessel.ShipRecord),
		pending: make(map[string]struct{}),
	}

	if o.metricsReg != nil {
		m, err := newRegistryMetrics(o.metricsReg, o.metricsPrefix, r)
		if err != nil {
			return nil, errors.WrapTransient(err, "registry", "New", "metrics registration")
		}
		r.metrics = m
	}

	return r, nil
}

// Upsert merges u into the stored record for u.MMSI and marks it pending.
// It returns the merged record.
func (r *Registry) Upsert(u vessel.PositionUpdate) vessel.ShipRecord {
	r.mu.Lock()
	merged := r.records[u.MMSI].Merge(u)
	r.records[u.MMSI] = merged
	r.pending[u.MMSI] = struct{}{}
	r.mu.Unlock()

	r.upserts.Add(1)
	r.metrics.recordUpsert()
	return merged
}

// Put replaces whole records and marks them pending.
func (r *Registry) Put(records ...vessel.ShipRecord) {
	r.mu.Lock()
	for _, rec := range records {
		r.records[rec.MMSI] = rec
		r.pending[rec.MMSI] = struct{}{}
	}
	r.mu.Unlock()
}

// Load seeds the registry from durable storage. Loaded records are not
// pending since storage already holds them. Records already present in
// memory are left untouched.
func (r *Registry) Load(records []vessel.ShipRecord) int {
	r.mu.Lock()
	loaded := 0
	for _, rec := range records {
		if _, exists := r.records[rec.MMSI]; exists {
			continue
		}
		r.records[rec.MMSI] = rec
		loaded++
	}
	r.mu.Unlock()

	return loaded
}

// Get returns a copy of the record for mmsi.
func (r *Registry) Get(mmsi string) (vessel.ShipRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[mmsi]
	return rec, ok
}

// Snapshot returns a copy of every record, ordered by MMSI.
func (r *Registry) Snapshot() []vessel.ShipRecord {
	r.mu.RLock()
	out := make([]vessel.ShipRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sortByMMSI(out)
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// DeleteOlderThan removes every record whose timestamp is strictly before
// threshold and returns how many were removed. Records stamped exactly at
// threshold are kept.
func (r *Registry) DeleteOlderThan(threshold time.Time) int {
	r.mu.Lock()
	removed := 0
	for mmsi, rec := range r.records {
		if rec.OlderThan(threshold) {
			delete(r.records, mmsi)
			delete(r.pending, mmsi)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.deletions.Add(int64(removed))
		r.metrics.recordDeletions(removed)
	}
	return removed
}

// TakePending returns the current value of every pending record and clears
// the pending set.
func (r *Registry) TakePending() []vessel.ShipRecord {
	r.mu.Lock()
	out := make([]vessel.ShipRecord, 0, len(r.pending))
	for mmsi := range r.pending {
		if rec, ok := r.records[mmsi]; ok {
			out = append(out, rec)
		}
	}
	r.pending = make(map[string]struct{})
	r.mu.Unlock()

	sortByMMSI(out)
	return out
}

// RestorePending marks records pending again after a failed flush. MMSIs no
// longer in the registry are skipped.
func (r *Registry) RestorePending(records []vessel.ShipRecord) {
	r.mu.Lock()
	for _, rec := range records {
		if _, ok := r.records[rec.MMSI]; ok {
			r.pending[rec.MMSI] = struct{}{}
		}
	}
	r.mu.Unlock()
}

// PendingCount returns the number of records awaiting flush.
func (r *Registry) PendingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// Stats returns current counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	size, pending := len(r.records), len(r.pending)
	r.mu.RUnlock()

	return Stats{
		Size:      size,
		Pending:   pending,
		Upserts:   r.upserts.Load(),
		Deletions: r.deletions.Load(),
	}
}

func sortByMMSI(records []vessel.ShipRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].MMSI < records[j].MMSI
	})
}
