//go:build integration

package objectstore

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/c360/shipstream/natsclient"
	"github.com/c360/shipstream/storage"
	"github.com/c360/shipstream/storage/storagetest"
)

func TestObjectStore_Conformance(t *testing.T) {
	tc := natsclient.NewTestClient(t)

	var n atomic.Int32
	suite.Run(t, &storagetest.StoreSuite{
		NewStore: func() storage.Store {
			cfg := DefaultConfig()
			cfg.Bucket = fmt.Sprintf("ships_obj_%d", n.Add(1))
			s, err := New(tc.Client, cfg)
			if err != nil {
				t.Fatalf("new store: %v", err)
			}
			return s
		},
	})
}
