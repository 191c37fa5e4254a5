// Package storagetest provides a conformance suite for storage.Store backends.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/vessel"
)

// Base is the reference time used by the suite.
var Base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// StoreSuite exercises a Store through its public contract. Set NewStore
// before running; it is called once per test and must return an empty store.
type StoreSuite struct {
	suite.Suite
	NewStore func() storage.Store

	ctx   context.Context
	store storage.Store
}

// SetupTest creates a fresh store.
func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore()
	if init, ok := s.store.(storage.Initializer); ok {
		s.Require().NoError(init.Init(s.ctx))
	}
}

// TearDownTest closes the store.
func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
}

func record(mmsi string, ts time.Time, lat float64) vessel.ShipRecord {
	return vessel.ShipRecord{MMSI: mmsi, Lat: lat, Lon: -lat, Speed: 12.5, Course: 270, Timestamp: ts}
}

// TestEmpty checks a new store has no records.
func (s *StoreSuite) TestEmpty() {
	got, err := s.store.GetAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(got)
}

// TestUpsertAndGetAll checks records round-trip and come back ordered.
func (s *StoreSuite) TestUpsertAndGetAll() {
	in := []vessel.ShipRecord{
		record("300000003", Base, 3),
		record("100000001", Base, 1),
		record("012345678", Base, 2),
	}
	s.Require().NoError(s.store.UpsertBatch(s.ctx, in))

	got, err := s.store.GetAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(got, 3)

	s.Equal("012345678", got[0].MMSI, "leading zeros survive storage")
	s.Equal("100000001", got[1].MMSI)
	s.Equal("300000003", got[2].MMSI)

	s.Equal(2.0, got[0].Lat)
	s.Equal(-2.0, got[0].Lon)
	s.Equal(12.5, got[0].Speed)
	s.Equal(270.0, got[0].Course)
	s.True(Base.Equal(got[0].Timestamp), "timestamp %v != %v", got[0].Timestamp, Base)
}

// TestUpsertReplaces checks a second write for the same MMSI replaces the first.
func (s *StoreSuite) TestUpsertReplaces() {
	s.Require().NoError(s.store.UpsertBatch(s.ctx, []vessel.ShipRecord{record("1", Base, 1)}))
	s.Require().NoError(s.store.UpsertBatch(s.ctx, []vessel.ShipRecord{record("1", Base.Add(time.Minute), 5)}))

	got, err := s.store.GetAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(5.0, got[0].Lat)
	s.True(Base.Add(time.Minute).Equal(got[0].Timestamp))
}

// TestUpsertEmptyBatch checks an empty batch is a no-op.
func (s *StoreSuite) TestUpsertEmptyBatch() {
	s.Require().NoError(s.store.UpsertBatch(s.ctx, nil))

	got, err := s.store.GetAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(got)
}

// TestDeleteOlderThan checks the strict threshold boundary.
func (s *StoreSuite) TestDeleteOlderThan() {
	s.Require().NoError(s.store.UpsertBatch(s.ctx, []vessel.ShipRecord{
		record("old", Base.Add(-time.Hour), 1),
		record("edge", Base, 2),
		record("new", Base.Add(time.Hour), 3),
	}))

	removed, err := s.store.DeleteOlderThan(s.ctx, Base)
	s.Require().NoError(err)
	s.Equal(1, removed)

	got, err := s.store.GetAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("edge", got[0].MMSI, "records at exactly the threshold are kept")
	s.Equal("new", got[1].MMSI)

	removed, err = s.store.DeleteOlderThan(s.ctx, Base)
	s.Require().NoError(err)
	s.Equal(0, removed)
}

// TestConcurrentUpserts checks concurrent batches do not lose records.
func (s *StoreSuite) TestConcurrentUpserts() {
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]vessel.ShipRecord, 0, 5)
			for i := 0; i < 5; i++ {
				batch = append(batch, record(fmt.Sprintf("%d%02d", w, i), Base, float64(i)))
			}
			errs <- s.store.UpsertBatch(s.ctx, batch)
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	got, err := s.store.GetAll(s.ctx)
	s.Require().NoError(err)
	s.Len(got, 20)
}
