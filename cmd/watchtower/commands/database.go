package commands

import (
	"database/sql"

	"github.com/teranos/watchtower/am"
	"github.com/teranos/watchtower/db"
	"github.com/teranos/watchtower/errors"
	"github.com/teranos/watchtower/logger"
	"github.com/teranos/watchtower/pulse/async"
	"github.com/teranos/watchtower/tracking"
)

// stores bundles the handles every command works against
type stores struct {
	cfg      *am.Config
	conn     *sql.DB
	dialect  db.Dialect
	queue    *async.Queue
	tracking *tracking.Store
}

func (s *stores) Close() error {
	return s.conn.Close()
}

// openStores loads am, opens and migrates the configured database,
// and builds the job queue and tracking store on top of it.
func openStores() (*stores, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(
			errors.Wrap(err, "invalid configuration"),
			"run 'watchtower am validate' for details")
	}

	conn, dialect, err := db.OpenConfigured(cfg, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", cfg.GetDriver())
	}

	return &stores{
		cfg:      cfg,
		conn:     conn,
		dialect:  dialect,
		queue:    async.NewQueue(async.NewStoreWithDialect(conn, dialect), cfg.Pulse.MaxQueueDepth),
		tracking: tracking.NewStoreWithDialect(conn, dialect),
	}, nil
}
