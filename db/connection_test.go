package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/errors"
)

func TestOpen(t *testing.T) {
	t.Run("opens database with pragmas on every connection", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()
		db.SetMaxOpenConns(4)

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		// Hold one connection so the next query is served by a fresh one
		held, err := db.Conn(t.Context())
		require.NoError(t, err)
		defer held.Close()

		var foreignKeys int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		db, err := Open("/invalid/nonexistent/path/db.sqlite", nil)

		// sql.Open is lazy on some platforms, Ping surfaces the failure
		if err == nil && db != nil {
			err = db.Ping()
			db.Close()
		}

		require.Error(t, err)
		assert.NotNil(t, errors.GetReportableStackTrace(err), "error should have stack trace from errors.Wrap")
	})

	t.Run("creates database file if it doesn't exist", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "new.db")

		_, err := os.Stat(dbPath)
		assert.True(t, os.IsNotExist(err))

		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = os.Stat(dbPath)
		assert.NoError(t, err)
	})

	t.Run("closed database is detected", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		_, err = db.Exec("PRAGMA journal_mode")
		require.Error(t, err)
		assert.True(t, IsDatabaseClosed(err))
	})
}

func TestOpen_WithLogger(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	defer db.Close()
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, "jobs.db?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", sqliteDSN("jobs.db"))
	assert.Equal(t, "file:jobs.db?mode=rwc&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", sqliteDSN("file:jobs.db?mode=rwc"))
}

func TestOpenConfigured(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		cfg := &am.Config{Database: am.DatabaseConfig{Path: filepath.Join(t.TempDir(), "watchtower.db")}}

		db, dialect, err := OpenConfigured(cfg, nil)
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, SQLite, dialect)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM scrape_jobs").Scan(&count))
		assert.Zero(t, count)
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := &am.Config{Database: am.DatabaseConfig{Driver: "mysql"}}
		_, _, err := OpenConfigured(cfg, nil)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidRequestError(err))
	})
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(errors.New("database is locked")))
	assert.True(t, IsBusy(errors.Wrap(errors.New("SQLITE_BUSY"), "claim")))
	assert.False(t, IsBusy(errors.New("no such table")))
	assert.False(t, IsBusy(nil))
}
