package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/watchtower/db"
)

// CreateTestDB creates a migrated in-memory SQLite database.
// The pool is pinned to one connection: every new :memory: connection would
// otherwise see its own empty database. Callers must close rows before the next query.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	t.Cleanup(func() {
		conn.Close()
	})

	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return conn
}

// CreateFileTestDB creates a migrated file-backed SQLite database in t.TempDir().
// Use it when several connections must share one database, e.g. concurrent claims.
func CreateFileTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "watchtower-test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create file test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
