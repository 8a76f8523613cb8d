package test

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"overcast-mirror/internal/store"
)

// NewTestDB swaps the global store connection for a fresh SQLite
// database in a temp dir with the real schema, restoring the original
// on cleanup.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	originalDB := store.DB
	store.DB = nil
	if err := store.InitDB(t.TempDir()); err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	db := store.DB

	t.Cleanup(func() {
		db.Close()
		store.DB = originalDB
	})
	return db
}

// NewMockDB swaps the global store connection for a sqlmock-backed one,
// used to inject store errors that a real database won't produce.
func NewMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	sqlxDB := sqlx.NewDb(mockDb, "sqlmock")

	originalDB := store.DB
	store.DB = sqlxDB
	t.Cleanup(func() {
		store.DB = originalDB
		mockDb.Close()
	})

	return sqlxDB, mock
}
