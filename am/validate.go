package am

import (
	"net/url"

	"github.com/teranos/watchtower/errors"
)

// Validate checks that the configuration is usable.
// Zero means "disabled" or "unlimited" where documented, negatives are always invalid.
func (c *Config) Validate() error {
	switch c.GetDriver() {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.WithHint(
				errors.New("database.dsn cannot be empty when database.driver = \"pgx\""),
				"set WATCHTOWER_DATABASE_DSN or database.dsn in am.toml")
		}
	default:
		return errors.Newf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.Workers > 0 && c.Pulse.PollIntervalSeconds <= 0 {
		return errors.Newf("pulse.poll_interval_seconds must be > 0 when workers are enabled, got %d", c.Pulse.PollIntervalSeconds)
	}
	if c.Pulse.TickerIntervalSeconds < 0 {
		return errors.Newf("pulse.ticker_interval_seconds must be >= 0, got %d", c.Pulse.TickerIntervalSeconds)
	}
	if c.Pulse.JobTimeoutSeconds <= 0 {
		return errors.Newf("pulse.job_timeout_seconds must be > 0, got %d", c.Pulse.JobTimeoutSeconds)
	}
	if c.Pulse.StaleAfterSeconds < 0 {
		return errors.Newf("pulse.stale_after_seconds must be >= 0, got %d", c.Pulse.StaleAfterSeconds)
	}
	if c.Pulse.StaleAfterSeconds > 0 && c.Pulse.StaleAfterSeconds <= c.Pulse.JobTimeoutSeconds {
		return errors.Newf("pulse.stale_after_seconds (%d) must exceed pulse.job_timeout_seconds (%d)",
			c.Pulse.StaleAfterSeconds, c.Pulse.JobTimeoutSeconds)
	}
	if c.Pulse.MaxQueueDepth < 0 {
		return errors.Newf("pulse.max_queue_depth must be >= 0, got %d", c.Pulse.MaxQueueDepth)
	}
	if c.Pulse.MaxScrapesPerMinute < 0 {
		return errors.Newf("pulse.max_scrapes_per_minute must be >= 0, got %d", c.Pulse.MaxScrapesPerMinute)
	}
	if c.Pulse.RetentionDays < 0 {
		return errors.Newf("pulse.retention_days must be >= 0, got %d", c.Pulse.RetentionDays)
	}

	if c.Pipeline.Endpoint != "" {
		u, err := url.Parse(c.Pipeline.Endpoint)
		if err != nil {
			return errors.Wrap(err, "pipeline.endpoint is not a valid URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.Newf("pipeline.endpoint must use http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return errors.Newf("pipeline.endpoint has no host: %q", c.Pipeline.Endpoint)
		}
	}

	return nil
}
