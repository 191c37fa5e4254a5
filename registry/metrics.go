package registry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/shipstream/metric"
)

type registryMetrics struct {
	size      prometheus.GaugeFunc
	pending   prometheus.GaugeFunc
	upserts   prometheus.Counter
	deletions prometheus.Counter
}

// newRegistryMetrics reads size and pending from r on every scrape, so the
// gauges always match the map under its lock.
func newRegistryMetrics(registry *metric.MetricsRegistry, prefix string, r *Registry) (*registryMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &registryMetrics{
		size: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "registry",
			Name:        "ships",
			ConstLabels: labels,
			Help:        "Number of vessels currently held in memory",
		}, func() float64 { return float64(r.Len()) }),
		pending: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "registry",
			Name:        "pending_ships",
			ConstLabels: labels,
			Help:        "Number of vessels changed since the last successful flush",
		}, func() float64 { return float64(r.PendingCount()) }),
		upserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "registry",
			Name:        "upserts_total",
			ConstLabels: labels,
			Help:        "Total number of position updates applied",
		}),
		deletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "registry",
			Name:        "deletions_total",
			ConstLabels: labels,
			Help:        "Total number of vessels pruned by retention",
		}),
	}

	if err := registry.RegisterGaugeFunc(prefix, "registry_ships", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeFunc(prefix, "registry_pending_ships", m.pending); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "registry_upserts", m.upserts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "registry_deletions", m.deletions); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *registryMetrics) recordUpsert() {
	if m == nil {
		return
	}
	m.upserts.Inc()
}

func (m *registryMetrics) recordDeletions(n int) {
	if m == nil {
		return
	}
	m.deletions.Add(float64(n))
}
