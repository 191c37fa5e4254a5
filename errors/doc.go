// Package errors provides classified error handling for shipstream components.
//
// # Overview
//
// Every failure that crosses a component boundary is tagged with one of three
// classes:
//
//   - Transient: upstream disconnects, storage timeouts, unavailable backends.
//     The caller logs and retries on its next cycle.
//   - Invalid: malformed upstream messages, unparseable query parameters,
//     bad bounding boxes. The input is rejected and processing continues.
//   - Fatal: configuration errors and storage schema failures at startup.
//     The process exits.
//
// # Wrapping Pattern
//
// Errors are wrapped with the component and method that observed them:
//
//	"component.method: action failed: <cause>"
//
// For example:
//
//	if err := s.pool.Ping(ctx); err != nil {
//	    return errors.WrapFatal(err, "postgres", "Init", "ping database")
//	}
//
// The wrapped error keeps the original chain, so errors.Is still matches
// sentinel values such as ErrStorageUnavailable or ErrDecode.
//
// # Mapping to HTTP
//
// The gateway maps IsInvalid to 400 and every other class to 500.
package errors
