// Package vessel defines the ship position model shared by the registry,
// storage backends and query API.
package vessel

import (
	"time"
)

// ShipRecord is the latest known state of one vessel, keyed by MMSI.
// MMSI is kept as a string so leading zeros survive.
type ShipRecord struct {
	MMSI      string    `json:"mmsi"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Speed     float64   `json:"speed"`
	Course    float64   `json:"course"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionUpdate is a decoded position report. MMSI and Timestamp are always
// set; the numeric fields are nil when the upstream message omitted them.
type PositionUpdate struct {
	MMSI      string
	Timestamp time.Time
	Lat       *float64
	Lon       *float64
	Speed     *float64
	Course    *float64
}

// Merge applies u on top of r. Fields present in u replace the stored values
// and absent fields keep them. Timestamp always comes from u, so a late report
// overwrites a newer one.
func (r ShipRecord) Merge(u PositionUpdate) ShipRecord {
	r.MMSI = u.MMSI
	r.Timestamp = u.Timestamp
	if u.Lat != nil {
		r.Lat = *u.Lat
	}
	if u.Lon != nil {
		r.Lon = *u.Lon
	}
	if u.Speed != nil {
		r.Speed = *u.Speed
	}
	if u.Course != nil {
		r.Course = *u.Course
	}
	return r
}

// Record converts u to a full record, with absent fields defaulting to zero.
func (u PositionUpdate) Record() ShipRecord {
	return ShipRecord{}.Merge(u)
}

// OlderThan reports whether the record's timestamp is strictly before t.
func (r ShipRecord) OlderThan(t time.Time) bool {
	return r.Timestamp.Before(t)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
