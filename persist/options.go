package persist

import (
	"log/slog"
	"sync"
	"time"

	"github.com/c360/shipstream/health"
	"github.com/c360/shipstream/metric"
)

// Mode selects what the flusher writes each cycle.
type Mode string

const (
	// ModeIncremental writes only records changed since the last successful flush.
	ModeIncremental Mode = "incremental"
	// ModeSnapshot writes the whole registry whenever anything changed.
	ModeSnapshot Mode = "snapshot"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeIncremental || m == ModeSnapshot
}

// Option configures a Flusher or Sweeper. Options that do not apply to the
// component being built are ignored.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	metricsReg    *metric.MetricsRegistry
	monitor       *health.Monitor
	now           func() time.Time
	mode          Mode
	pruneRegistry bool
	storageLock   *sync.Mutex
}

func defaultOptions(component string) *options {
	return &options{
		logger:        slog.Default().With("component", component),
		now:           time.Now,
		mode:          ModeIncremental,
		pruneRegistry: true,
		storageLock:   &sync.Mutex{},
	}
}

func applyOptions(component string, opts []Option) *options {
	o := defaultOptions(component)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports cycle metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.metricsReg = registry
	}
}

// WithHealthMonitor reports the outcome of every cycle to monitor.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(o *options) {
		o.monitor = monitor
	}
}

// WithClock sets the time source used for retention thresholds.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMode sets the flush mode. Defaults to ModeIncremental.
func WithMode(mode Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithPruneRegistry controls whether the sweeper also removes stale records
// from memory. Defaults to true.
func WithPruneRegistry(prune bool) Option {
	return func(o *options) {
		o.pruneRegistry = prune
	}
}

// WithStorageLock makes a flusher and a sweeper given the same mu exclude each
// other. A flush then cannot write records taken before a sweep back into
// storage after the sweep deleted them.
func WithStorageLock(mu *sync.Mutex) Option {
	return func(o *options) {
		if mu != nil {
			o.storageLock = mu
		}
	}
}
