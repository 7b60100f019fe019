package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/sym"
)

// SQLiteBusyTimeoutMS is how long a SQLite connection waits on a locked database
const SQLiteBusyTimeoutMS = 5000

// sqliteDSN appends connection parameters so every pooled connection gets them,
// not just the one that happens to run a PRAGMA.
// _txlock=immediate makes BEGIN take the write lock, which the claim relies on.
func sqliteDSN(path string) string {
	params := "_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// Open opens a SQLite database at the specified path with WAL, foreign keys,
// busy timeout and immediate transactions.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "symbol", sym.DB)
	}
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// WAL lets the scheduler read while a worker writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to enable WAL mode for %s", path)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"symbol", sym.DB,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens a SQLite database and applies pending migrations
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return db, nil
}

// OpenPostgres opens a Postgres database through the pgx stdlib driver and verifies connectivity
func OpenPostgres(dsn string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WithHint(
			errors.Wrap(err, "failed to reach postgres"),
			"check database.dsn / WATCHTOWER_DATABASE_DSN")
	}

	if logger != nil {
		logger.Infow("Database opened successfully", "driver", "pgx", "symbol", sym.DB)
	}
	return db, nil
}

// OpenConfigured opens and migrates the database selected by cfg
func OpenConfigured(cfg *am.Config, logger *zap.SugaredLogger) (*sql.DB, Dialect, error) {
	dialect, err := DialectForDriver(cfg.GetDriver())
	if err != nil {
		return nil, SQLite, err
	}

	var db *sql.DB
	switch dialect {
	case Postgres:
		db, err = OpenPostgres(cfg.Database.DSN, logger)
	default:
		db, err = Open(cfg.GetDatabasePath(), logger)
	}
	if err != nil {
		return nil, dialect, err
	}

	if err := MigrateDialect(db, dialect, logger); err != nil {
		db.Close()
		return nil, dialect, errors.Wrap(err, "migrate")
	}
	return db, dialect, nil
}
