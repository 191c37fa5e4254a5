package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/storage/storagetest"
	"github.com/c360/shipstream/vessel"
)

func TestSQLite_Conformance(t *testing.T) {
	suite.Run(t, &storagetest.StoreSuite{
		NewStore: func() storage.Store {
			s, err := Open(filepath.Join(t.TempDir(), "ships.db"))
			require.NoError(t, err)
			return s
		},
	})
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ships.db")
	ts := time.Date(2024, 5, 1, 8, 30, 0, 123456789, time.UTC)

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.UpsertBatch(ctx, []vessel.ShipRecord{{MMSI: "244660000", Lat: 52.1, Lon: 4.3, Timestamp: ts}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Init(ctx), "init is idempotent")

	got, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ts, got[0].Timestamp, "nanosecond precision survives")
}

func TestSQLite_InitOnClosedDB(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ships.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.Init(context.Background()))
}
