// Package query answers filtered, paginated reads over vessel records.
//
// Filters are AND-composed and inclusive. The geographic box applies only when
// latMin, latMax, lonMin and lonMax are all given; speed, course and timestamp
// ranges apply only when both of their bounds are given. Results are sorted by
// MMSI so pages are stable for a given registry state.
//
// Every response carries the upstream connection state. When the feed is down
// the data is still returned, with a message saying how old it may be.
package query
