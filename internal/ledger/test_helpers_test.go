package ledger

import (
	"errors"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var errExhaustedIDs = errors.New("exhausted ids")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Entry{}, &MergeRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	store, err := NewStore(StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

func mustContentID(t *testing.T, value string) ContentID {
	t.Helper()
	id, err := NewContentID(value)
	if err != nil {
		t.Fatalf("unexpected content id error: %v", err)
	}
	return id
}

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errExhaustedIDs
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}
