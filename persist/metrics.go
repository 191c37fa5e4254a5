package persist

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/shipstream/metric"
)

type cycleMetrics struct {
	runs     *prometheus.CounterVec
	records  prometheus.Counter
	duration prometheus.Histogram
}

func newCycleMetrics(registry *metric.MetricsRegistry, component, recordsHelp string) *cycleMetrics {
	if registry == nil {
		return nil
	}

	m := &cycleMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: component,
			Name:      "cycles_total",
			Help:      "Total cycles by outcome",
		}, []string{"outcome"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: component,
			Name:      "records_total",
			Help:      recordsHelp,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: component,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one cycle against storage",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
	}

	registry.RegisterCounterVec(component, "cycles", m.runs)
	registry.RegisterCounter(component, "records", m.records)
	registry.RegisterHistogram(component, "cycle_duration", m.duration)

	return m
}

func (m *cycleMetrics) observe(records int, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.records.Add(float64(records))
	m.duration.Observe(seconds)
}
