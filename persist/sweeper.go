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

// Retention defaults.
const (
	DefaultRetention     = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

const sweeperName = "sweeper"

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Threshold time.Time
	Storage   int
	Registry  int
}

// Sweeper periodically deletes records older than the retention horizon.
type Sweeper struct {
	store         storage.Store
	registry      *registry.Registry
	retention     time.Duration
	interval      time.Duration
	pruneRegistry bool

	now     func() time.Time
	logger  *slog.Logger
	metrics *cycleMetrics
	monitor *health.Monitor

	mu *sync.Mutex
}

// NewSweeper creates a sweeper. Non-positive durations use the defaults.
// reg may be nil, in which case only storage is swept.
func NewSweeper(store storage.Store, reg *registry.Registry, retention, interval time.Duration, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, sweeperName, "NewSweeper", "dependency check")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	o := applyOptions(sweeperName, opts)
	return &Sweeper{
		store:         store,
		registry:      reg,
		retention:     retention,
		interval:      interval,
		pruneRegistry: o.pruneRegistry && reg != nil,
		now:           o.now,
		logger:        o.logger,
		metrics:       newCycleMetrics(o.metricsReg, sweeperName, "Total records deleted from storage"),
		monitor:       o.monitor,
		mu:            o.storageLock,
	}, nil
}

// Sweep deletes records with a timestamp before now minus the retention.
// The in-memory prune runs even when the storage delete fails.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := SweepResult{Threshold: s.now().Add(-s.retention)}

	start := time.Now()
	deleted, err := s.store.DeleteOlderThan(ctx, result.Threshold)
	s.metrics.observe(deleted, time.Since(start).Seconds(), err)
	if err != nil {
		err = errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err),
			sweeperName, "Sweep", "delete stale records")
	}
	result.Storage = deleted

	if s.pruneRegistry {
		result.Registry = s.registry.DeleteOlderThan(result.Threshold)
	}

	if s.monitor != nil {
		s.monitor.Report(sweeperName, err)
	}
	return result, err
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Retention sweeper started",
		"interval", s.interval,
		"retention", s.retention,
		"prune_registry", s.pruneRegistry)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("Retention sweep failed", "threshold", result.Threshold, "error", err)
			}
			if result.Storage > 0 || result.Registry > 0 {
				s.logger.Info("Pruned stale vessels",
					"threshold", result.Threshold,
					"storage", result.Storage,
					"registry", result.Registry)
			}
		}
	}
}
