package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/vessel"
)

// UpstreamTimeLayout is the timestamp format the AIS feed uses in time_utc.
const UpstreamTimeLayout = "2006-01-02 15:04:05.999999999 -0700 MST"

// PositionFrame builds an upstream PositionReport frame.
func PositionFrame(mmsi string, lat, lon, speed, course float64, ts time.Time) []byte {
	frame := map[string]any{
		"MessageType": "PositionReport",
		"MetaData": map[string]any{
			"MMSI_String": mmsi,
			"latitude":    lat,
			"longitude":   lon,
			"time_utc":    ts.UTC().Format(UpstreamTimeLayout),
		},
		"Message": map[string]any{
			"PositionReport": map[string]any{
				"Latitude":  lat,
				"Longitude": lon,
				"Sog":       speed,
				"Cog":       course,
			},
		},
	}
	data, _ := json.Marshal(frame)
	return data
}

// StaticDataFrame builds a frame the stream client ignores.
func StaticDataFrame(mmsi string, ts time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"MessageType":"ShipStaticData","MetaData":{"MMSI_String":%q,"time_utc":%q},"Message":{"ShipStaticData":{"Name":"TEST"}}}`,
		mmsi, ts.UTC().Format(UpstreamTimeLayout)))
}

// Ship builds a record with speed and course zero.
func Ship(mmsi string, ts time.Time, lat, lon float64) vessel.ShipRecord {
	return vessel.ShipRecord{MMSI: mmsi, Lat: lat, Lon: lon, Timestamp: ts}
}

// Ships builds n records with MMSIs 100000000+i, one minute apart ending at
// end.
func Ships(n int, end time.Time) []vessel.ShipRecord {
	out := make([]vessel.ShipRecord, 0, n)
	for i := range n {
		ts := end.Add(-time.Duration(n-1-i) * time.Minute)
		out = append(out, Ship(fmt.Sprintf("%09d", 100000000+i), ts, float64(i%90), float64(i%180)))
	}
	return out
}

// FailingStore wraps a Store and fails writes while Failing is set.
type FailingStore struct {
	storage.Store
	Failing atomic.Bool
	Upserts atomic.Int32
}

// UpsertBatch fails with ErrMockFailed while Failing is set.
func (s *FailingStore) UpsertBatch(ctx context.Context, records []vessel.ShipRecord) error {
	s.Upserts.Add(1)
	if s.Failing.Load() {
		return ErrMockFailed
	}
	return s.Store.UpsertBatch(ctx, records)
}

// DeleteOlderThan fails with ErrMockFailed while Failing is set.
func (s *FailingStore) DeleteOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	if s.Failing.Load() {
		return 0, ErrMockFailed
	}
	return s.Store.DeleteOlderThan(ctx, threshold)
}
