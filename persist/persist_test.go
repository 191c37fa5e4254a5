package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/metric"
	"github.com/c360/shipstream/registry"
	"github.com/c360/shipstream/storage/memstore"
	"github.com/c360/shipstream/vessel"
)

// flakyStore wraps a memstore and fails while failing is set.
type flakyStore struct {
	*memstore.Store
	failing atomic.Bool
	upserts atomic.Int32

	mu      sync.Mutex
	batches [][]vessel.ShipRecord
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memstore.New()}
}

func (s *flakyStore) UpsertBatch(ctx context.Context, records []vessel.ShipRecord) error {
	s.upserts.Add(1)
	if s.failing.Load() {
		return errors.New("disk on fire")
	}
	s.mu.Lock()
	s.batches = append(s.batches, records)
	s.mu.Unlock()
	return s.Store.UpsertBatch(ctx, records)
}

func (s *flakyStore) DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	if s.failing.Load() {
		return 0, errors.New("disk on fire")
	}
	return s.Store.DeleteOlderThan(ctx, threshold)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New()
	require.NoError(t, err)
	return reg
}

func upsert(reg *registry.Registry, mmsi string, ts time.Time) {
	reg.Upsert(vessel.PositionUpdate{MMSI: mmsi, Timestamp: ts, Lat: vessel.Float(1), Lon: vessel.Float(2)})
}

// =============================================================================
// FLUSHER TESTS
// =============================================================================

func TestFlusher_FlushWritesPendingOnce(t *testing.T) {
	reg := newRegistry(t)
	store := newFlakyStore()
	f, err := NewFlusher(reg, store, time.Minute)
	require.NoError(t, err)

	upsert(reg, "1", base)
	upsert(reg, "2", base)

	n, err := f.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 0, reg.PendingCount())

	n, err = f.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(1), store.upserts.Load(), "empty cycle must not touch storage")
}

func TestFlusher_FailureRestoresPending(t *testing.T) {
	reg := newRegistry(t)
	store := newFlakyStore()
	monitor := health.NewMonitor()
	f, err := NewFlusher(reg, store, time.Minute, WithHealthMonitor(monitor))
	require.NoError(t, err)

	upsert(reg, "1", base)
	store.failing.Store(true)

	n, err := f.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, errors.ErrStorageUnavailable)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 1, reg.PendingCount())

	status, ok := monitor.Get(flusherName)
	require.True(t, ok)
	assert.True(t, status.IsDegraded())

	store.failing.Store(false)
	n, err = f.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())

	status, _ = monitor.Get(flusherName)
	assert.True(t, status.IsHealthy())
}

func TestFlusher_UpdateDuringFailedFlushIsKept(t *testing.T) {
	reg := newRegistry(t)
	store := newFlakyStore()
	f, err := NewFlusher(reg, store, time.Minute)
	require.NoError(t, err)

	upsert(reg, "1", base)
	store.failing.Store(true)
	_, err = f.Flush(context.Background())
	require.Error(t, err)

	// A newer report lands before the retry; the retry writes the newer value.
	upsert(reg, "1", base.Add(time.Minute))
	store.failing.Store(false)
	_, err = f.Flush(context.Background())
	require.NoError(t, err)

	all, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, base.Add(time.Minute), all[0].Timestamp)
}

func TestFlusher_SnapshotMode(t *testing.T) {
	reg := newRegistry(t)
	reg.Load([]vessel.ShipRecord{{MMSI: "hydrated", Timestamp: base}})
	store := newFlakyStore()
	f, err := NewFlusher(reg, store, time.Minute, WithMode(ModeSnapshot))
	require.NoError(t, err)

	n, err := f.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing pending, nothing written")

	upsert(reg, "1", base)
	n, err = f.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 2)
}

func TestFlusher_InvalidConstruction(t *testing.T) {
	reg := newRegistry(t)

	_, err := NewFlusher(nil, memstore.New(), time.Minute)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewFlusher(reg, memstore.New(), time.Minute, WithMode("sometimes"))
	assert.True(t, errors.IsInvalid(err))

	f, err := NewFlusher(reg, memstore.New(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultFlushInterval, f.Interval())
}

func TestFlusher_RunTicksAndStops(t *testing.T) {
	reg := newRegistry(t)
	store := newFlakyStore()
	metrics := metric.NewMetricsRegistry()
	f, err := NewFlusher(reg, store, 10*time.Millisecond, WithMetrics(metrics))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	upsert(reg, "1", base)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.runs.WithLabelValues("success")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.records))
}

func TestFlusher_FinalFlush(t *testing.T) {
	reg := newRegistry(t)
	store := newFlakyStore()
	f, err := NewFlusher(reg, store, time.Hour)
	require.NoError(t, err)

	upsert(reg, "1", base)
	n, err := f.FinalFlush(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// SWEEPER TESTS
// =============================================================================

func TestSweeper_PrunesStorageAndRegistry(t *testing.T) {
	reg := newRegistry(t)
	store := newFlakyStore()
	now := base.Add(25 * time.Hour)

	upsert(reg, "old", base)
	upsert(reg, "edge", now.Add(-24*time.Hour))
	upsert(reg, "new", now)
	require.NoError(t, store.UpsertBatch(context.Background(), reg.Snapshot()))

	s, err := NewSweeper(store, reg, 24*time.Hour, time.Hour, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), result.Threshold)
	assert.Equal(t, 1, result.Storage)
	assert.Equal(t, 1, result.Registry)

	_, ok := reg.Get("old")
	assert.False(t, ok)
	_, ok = reg.Get("edge")
	assert.True(t, ok, "record exactly at the threshold is kept")
	assert.Equal(t, 2, store.Len())
}

func TestSweeper_RegistryPrunedWhenStorageFails(t *testing.T) {
	reg := newRegistry(t)
	store := newFlakyStore()
	store.failing.Store(true)
	now := base.Add(48 * time.Hour)
	upsert(reg, "old", base)

	s, err := NewSweeper(store, reg, 0, 0, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	result, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 1, result.Registry)
	assert.Equal(t, 0, reg.Len())
}

func TestSweeper_PruneRegistryDisabled(t *testing.T) {
	reg := newRegistry(t)
	upsert(reg, "old", base)

	s, err := NewSweeper(memstore.New(), reg, time.Hour, time.Hour,
		WithPruneRegistry(false),
		WithClock(func() time.Time { return base.Add(48 * time.Hour) }))
	require.NoError(t, err)

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Registry)
	assert.Equal(t, 1, reg.Len())
}

func TestSweeper_RunStops(t *testing.T) {
	store := newFlakyStore()
	s, err := NewSweeper(store, nil, time.Hour, 5*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
}

func TestSweeper_MetricsGathered(t *testing.T) {
	metrics := metric.NewMetricsRegistry()
	reg := newRegistry(t)
	store := newFlakyStore()
	require.NoError(t, store.UpsertBatch(context.Background(), []vessel.ShipRecord{
		{MMSI: "1", Timestamp: base.Add(-48 * time.Hour)},
		{MMSI: "2", Timestamp: base},
	}))

	s, err := NewSweeper(store, reg, 24*time.Hour, time.Hour,
		WithMetrics(metrics),
		WithClock(func() time.Time { return base }))
	require.NoError(t, err)

	_, err = s.Sweep(context.Background())
	require.NoError(t, err)

	families, err := metrics.PrometheusRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	deleted := byName["shipstream_sweeper_records_total"]
	require.NotNil(t, deleted)
	assert.Equal(t, dto.MetricType_COUNTER, deleted.GetType())
	assert.Equal(t, 1.0, deleted.GetMetric()[0].GetCounter().GetValue())

	duration := byName["shipstream_sweeper_cycle_duration_seconds"]
	require.NotNil(t, duration)
	assert.Equal(t, dto.MetricType_HISTOGRAM, duration.GetType())
	assert.Equal(t, uint64(1), duration.GetMetric()[0].GetHistogram().GetSampleCount())
}

// gatedStore blocks UpsertBatch until release is closed.
type gatedStore struct {
	*memstore.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) UpsertBatch(ctx context.Context, records []vessel.ShipRecord) error {
	close(s.entered)
	<-s.release
	return s.Store.UpsertBatch(ctx, records)
}

func TestSweeper_WaitsForInFlightFlush(t *testing.T) {
	reg := newRegistry(t)
	store := &gatedStore{Store: memstore.New(), entered: make(chan struct{}), release: make(chan struct{})}
	lock := &sync.Mutex{}

	f, err := NewFlusher(reg, store, time.Minute, WithStorageLock(lock))
	require.NoError(t, err)
	s, err := NewSweeper(store, reg, 24*time.Hour, time.Hour,
		WithStorageLock(lock),
		WithClock(func() time.Time { return base }))
	require.NoError(t, err)

	upsert(reg, "stale", base.Add(-48*time.Hour))

	flushDone := make(chan error, 1)
	go func() {
		_, err := f.Flush(context.Background())
		flushDone <- err
	}()
	<-store.entered

	sweepDone := make(chan SweepResult, 1)
	go func() {
		res, _ := s.Sweep(context.Background())
		sweepDone <- res
	}()

	select {
	case <-sweepDone:
		t.Fatal("sweep ran while a flush was writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-flushDone)

	res := <-sweepDone
	assert.Equal(t, 1, res.Storage)
	assert.Equal(t, 1, res.Registry)

	records, err := store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}
