// Package persist moves registry state to durable storage and enforces the
// retention horizon.
//
// Flusher takes the registry's pending set every interval and writes it with
// a single UpsertBatch. A failed batch is put back into the pending set, so no
// change is lost while storage is down; it is simply written later. Sweeper
// deletes records older than the retention horizon from storage and, unless
// disabled, from the registry too.
//
// Both run as plain loops driven by a ticker and return when their context is
// cancelled:
//
//	g.Go(func() error { return flusher.Run(ctx) })
//	g.Go(func() error { return sweeper.Run(ctx) })
//
// At shutdown the owner calls FinalFlush once the stream client has stopped.
package persist
