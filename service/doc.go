// Package service assembles and runs shipstream.
//
// New opens the configured storage backend and wires the parts around one
// shared registry:
//
//	upstream ──► aisstream.Client ──► registry ──► query.Engine ──► HTTP API
//	                                     │  ▲
//	                         persist.Flusher│  │hydration at startup
//	                         persist.Sweeper▼  │
//	                                   storage.Store
//
// Run starts the stream client, then runs the flusher, the sweeper and the
// HTTP server in an errgroup until the context is cancelled or one of them
// fails. Shutdown always proceeds in the same order: stop the stream client
// so no new updates arrive, flush what is pending (bounded by
// persistence.final_flush_timeout), then close storage and any NATS
// connection it owns.
//
// Storage setup retries with exponential backoff until
// storage.init_timeout; a backend that cannot be prepared in that window
// fails New with a fatal error.
package service
