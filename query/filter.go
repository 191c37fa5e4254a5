package query

import (
	"github.com/c360/shipstream/vessel"
)

// Filter returns the records matching every filter set in p, preserving input
// order. All bounds are inclusive.
func Filter(records []vessel.ShipRecord, p Params) []vessel.ShipRecord {
	out := make([]vessel.ShipRecord, 0, len(records))
	for _, r := range records {
		if p.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// Matches reports whether r passes every filter in p.
func (p Params) Matches(r vessel.ShipRecord) bool {
	if p.MMSI != nil && r.MMSI != *p.MMSI {
		return false
	}

	if p.LatMin != nil && p.LatMax != nil && p.LonMin != nil && p.LonMax != nil {
		if !between(r.Lat, *p.LatMin, *p.LatMax) || !between(r.Lon, *p.LonMin, *p.LonMax) {
			return false
		}
	}

	if p.SpeedMin != nil && p.SpeedMax != nil && !between(r.Speed, *p.SpeedMin, *p.SpeedMax) {
		return false
	}

	if p.CourseMin != nil && p.CourseMax != nil && !between(r.Course, *p.CourseMin, *p.CourseMax) {
		return false
	}

	if p.TimestampMin != nil && p.TimestampMax != nil {
		if r.Timestamp.Before(*p.TimestampMin) || r.Timestamp.After(*p.TimestampMax) {
			return false
		}
	}

	return true
}

func between(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
