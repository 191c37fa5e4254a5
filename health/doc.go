// Package health tracks component health and the upstream connection state.
//
// ConnectionState is the single source of truth for whether the AIS feed is
// live and when it last connected. The stream client writes it; the query
// engine reads it to decorate responses with staleness information.
//
// Monitor holds the last reported Status of each periodic task (flusher,
// sweeper) and aggregates them for the /health endpoint. Statuses use three
// levels:
//   - healthy: last operation succeeded
//   - degraded: last operation failed or upstream is disconnected; the service
//     keeps serving from memory
//   - unhealthy: the component cannot function
//
// Basic usage:
//
//	monitor := health.NewMonitor()
//	_, err := flusher.Flush(ctx)
//	monitor.Report("flusher", err)
//
//	overall := monitor.AggregateHealth("shipstream").
//	    WithSubStatus(state.Status("upstream"))
package health
