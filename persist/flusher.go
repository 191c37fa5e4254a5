package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/shipstream/errors"
	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/registry"
	"github.com/c360/shipstream/storage"
)

// DefaultFlushInterval is how often pending records are written to storage.
const DefaultFlushInterval = 5 * time.Minute

const flusherName = "flusher"

// Flusher periodically writes changed registry records to storage.
type Flusher struct {
	registry *registry.Registry
	store    storage.Store
	interval time.Duration
	mode     Mode

	logger  *slog.Logger
	metrics *cycleMetrics
	monitor *health.Monitor

	// serializes the periodic cycle with the final flush at shutdown, and
	// with the sweeper when the lock is shared
	mu *sync.Mutex
}

// NewFlusher creates a flusher. A non-positive interval uses DefaultFlushInterval.
func NewFlusher(reg *registry.Registry, store storage.Store, interval time.Duration, opts ...Option) (*Flusher, error) {
	if reg == nil || store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, flusherName, "NewFlusher", "dependency check")
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	o := applyOptions(flusherName, opts)
	if !o.mode.Valid() {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown flush mode %q", errors.ErrInvalidConfig, o.mode),
			flusherName, "NewFlusher", "mode check")
	}

	return &Flusher{
		registry: reg,
		store:    store,
		interval: interval,
		mode:     o.mode,
		logger:   o.logger,
		metrics:  newCycleMetrics(o.metricsReg, flusherName, "Total records written to storage"),
		monitor:  o.monitor,
		mu:       o.storageLock,
	}, nil
}

// Interval returns the flush period.
func (f *Flusher) Interval() time.Duration {
	return f.interval
}

// Flush writes pending records in one batch and returns how many were written.
// With nothing pending it does not touch storage. On failure the records are
// marked pending again so the next cycle retries them.
func (f *Flusher) Flush(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := f.registry.TakePending()
	if len(pending) == 0 {
		f.report(nil)
		return 0, nil
	}

	batch := pending
	if f.mode == ModeSnapshot {
		batch = f.registry.Snapshot()
	}

	start := time.Now()
	err := f.store.UpsertBatch(ctx, batch)
	f.metrics.observe(len(batch), time.Since(start).Seconds(), err)

	if err != nil {
		f.registry.RestorePending(pending)
		err = errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err),
			flusherName, "Flush", "upsert batch")
		f.report(err)
		return 0, err
	}

	f.report(nil)
	return len(batch), nil
}

func (f *Flusher) report(err error) {
	if f.monitor != nil {
		f.monitor.Report(flusherName, err)
	}
}

// Run flushes on every tick until ctx is cancelled. Failures are logged and
// retried on the next tick.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("Flusher started", "interval", f.interval, "mode", f.mode)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.runOnce(ctx)
		}
	}
}

func (f *Flusher) runOnce(ctx context.Context) {
	n, err := f.Flush(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.logger.Error("Flush failed, records kept pending",
			"pending", f.registry.PendingCount(),
			"error", err)
		return
	}
	if n > 0 {
		f.logger.Debug("Flushed records to storage", "records", n)
	}
}

// FinalFlush is the best-effort flush at shutdown, bounded by timeout.
func (f *Flusher) FinalFlush(timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.Flush(ctx)
}

