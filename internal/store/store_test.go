//go:build test

package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/srg/buttond/internal/store"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	kind string
}

func (s *StoreTestSuite) open() store.Store {
	path := filepath.Join(s.T().TempDir(), "nested", "catalog.db")
	st, err := store.Open(s.kind, path)
	s.Require().NoError(err, "store MUST open")
	s.T().Cleanup(func() { _ = st.Close() })
	return st
}

func (s *StoreTestSuite) TestLoadSave() {
	ctx := context.Background()

	s.Run("empty store reports not found", func() {
		// GOAL: Verify a fresh store has no catalog
		//
		// TEST SCENARIO: Open new store → Load → ErrNotFound

		_, err := s.open().Load(ctx)
		s.ErrorIs(err, store.ErrNotFound, "fresh store MUST report ErrNotFound")
	})

	s.Run("last save wins", func() {
		// GOAL: Verify Save replaces the previous snapshot
		//
		// TEST SCENARIO: Save twice → Load → second blob returned

		st := s.open()
		s.Require().NoError(st.Save(ctx, []byte("version: 1\n")))
		s.Require().NoError(st.Save(ctx, []byte("version: 1\nbuttons: []\n")))

		data, err := st.Load(ctx)
		s.Require().NoError(err)
		s.Equal("version: 1\nbuttons: []\n", string(data), "Load MUST return the most recent save")
	})
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{kind: store.KindFile})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{kind: store.KindSQLite})
}

func TestOpenUnknownKind(t *testing.T) {
	if _, err := store.Open("etcd", t.TempDir()); err == nil {
		t.Fatal("unknown store kind MUST be rejected")
	}
}
