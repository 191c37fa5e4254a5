package aisstream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/shipstream/metric"
)

// Metrics holds Prometheus metrics for the stream client
type Metrics struct {
	messagesReceived  prometheus.Counter
	messagesDecoded   prometheus.Counter
	messagesIgnored   prometheus.Counter
	messagesDropped   *prometheus.CounterVec
	connectionsTotal  prometheus.Counter
	connectionActive  prometheus.Gauge
	reconnectAttempts prometheus.Counter
	errorsTotal       *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"component": componentName}
	metrics := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "aisstream",
			Name:        "messages_received_total",
			Help:        "Total frames received from the upstream feed",
			ConstLabels: labels,
		}),

		messagesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "aisstream",
			Name:        "messages_decoded_total",
			Help:        "Total position reports applied to the registry",
			ConstLabels: labels,
		}),

		messagesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "aisstream",
			Name:        "messages_ignored_total",
			Help:        "Total frames without a position report",
			ConstLabels: labels,
		}),

		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "aisstream",
			Name:        "messages_dropped_total",
			Help:        "Total frames dropped by reason",
			ConstLabels: labels,
		}, []string{"reason"}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "aisstream",
			Name:        "connections_total",
			Help:        "Total number of successful upstream connections",
			ConstLabels: labels,
		}),

		connectionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "aisstream",
			Name:        "connection_active",
			Help:        "1 while the upstream connection is open",
			ConstLabels: labels,
		}),

		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "aisstream",
			Name:        "reconnect_attempts_total",
			Help:        "Total number of reconnection attempts",
			ConstLabels: labels,
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "aisstream",
			Name:        "errors_total",
			Help:        "Total errors by type",
			ConstLabels: labels,
		}, []string{"type"}),
	}

	registry.RegisterCounter(componentName, "messages_received", metrics.messagesReceived)
	registry.RegisterCounter(componentName, "messages_decoded", metrics.messagesDecoded)
	registry.RegisterCounter(componentName, "messages_ignored", metrics.messagesIgnored)
	registry.RegisterCounterVec(componentName, "messages_dropped", metrics.messagesDropped)
	registry.RegisterCounter(componentName, "connections_total", metrics.connectionsTotal)
	registry.RegisterGauge(componentName, "connection_active", metrics.connectionActive)
	registry.RegisterCounter(componentName, "reconnect_attempts", metrics.reconnectAttempts)
	registry.RegisterCounterVec(componentName, "errors_total", metrics.errorsTotal)

	return metrics
}

func (m *Metrics) received() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *Metrics) decoded() {
	if m != nil {
		m.messagesDecoded.Inc()
	}
}

func (m *Metrics) ignored() {
	if m != nil {
		m.messagesIgnored.Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.messagesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) connected() {
	if m != nil {
		m.connectionsTotal.Inc()
		m.connectionActive.Set(1)
	}
}

func (m *Metrics) disconnected() {
	if m != nil {
		m.connectionActive.Set(0)
	}
}

func (m *Metrics) reconnecting() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *Metrics) trackError(errorType string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(errorType).Inc()
	}
}
