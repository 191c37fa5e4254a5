// Package metric provides the Prometheus metrics registry shared by shipstream
// components and the HTTP handler that exposes it.
//
// # Usage
//
// A single MetricsRegistry is created at startup and passed to each component
// through its WithMetrics option. Components build their own collectors under
// the "shipstream" namespace and register them with a component name:
//
//	registry := metric.NewMetricsRegistry()
//
//	received := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: metric.Namespace,
//	    Subsystem: "aisstream",
//	    Name:      "messages_received_total",
//	    Help:      "Messages received from the upstream feed",
//	})
//	if err := registry.RegisterCounter("aisstream", "messages_received_total", received); err != nil {
//	    return err
//	}
//
// Registering the same component/metric pair twice returns an invalid-class
// error rather than panicking, so components created more than once in tests
// can ignore the duplicate.
//
// # Exposition
//
// Handler returns a promhttp handler for the registry. The gateway mounts it at
// /metrics. Go runtime and process collectors are attached automatically.
package metric
