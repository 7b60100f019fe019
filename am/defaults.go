package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultDatabasePath = "watchtower.db"
	EnvPrefix           = "WATCHTOWER"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("database.dsn", "")

	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.poll_interval_seconds", 5)
	v.SetDefault("pulse.ticker_interval_seconds", 3600) // hourly
	v.SetDefault("pulse.job_timeout_seconds", 900)      // 15 minutes per scrape
	v.SetDefault("pulse.stale_after_seconds", 0)
	v.SetDefault("pulse.max_queue_depth", 0)
	v.SetDefault("pulse.max_scrapes_per_minute", 0)
	v.SetDefault("pulse.retention_days", 30)

	v.SetDefault("pipeline.endpoint", "")
	v.SetDefault("pipeline.api_key", "")
	v.SetDefault("pipeline.allow_private_network", true)

	v.SetDefault("operator.user_id", "")
}

// BindSensitiveEnvVars explicitly binds secrets and deployment overrides to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("pipeline.api_key", EnvPrefix+"_PIPELINE_API_KEY")
	_ = v.BindEnv("pipeline.endpoint", EnvPrefix+"_PIPELINE_ENDPOINT")
	_ = v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN")
	_ = v.BindEnv("database.path", EnvPrefix+"_DATABASE_PATH")
}

// GetDatabasePath returns the configured SQLite path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetDriver returns the configured driver, defaulting to SQLite
func (c *Config) GetDriver() string {
	if c.Database.Driver == "" {
		return DriverSQLite
	}
	return c.Database.Driver
}

// PollInterval returns the worker idle poll interval
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pulse.PollIntervalSeconds) * time.Second
}

// TickerInterval returns the scheduler tick period
func (c *Config) TickerInterval() time.Duration {
	return time.Duration(c.Pulse.TickerIntervalSeconds) * time.Second
}

// JobTimeout returns the per-job pipeline deadline
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Pulse.JobTimeoutSeconds) * time.Second
}

// StaleAfter returns the age after which a PROCESSING job counts as orphaned
func (c *Config) StaleAfter() time.Duration {
	if c.Pulse.StaleAfterSeconds == 0 {
		return 2 * c.JobTimeout()
	}
	return time.Duration(c.Pulse.StaleAfterSeconds) * time.Second
}

// Retention returns how long terminal jobs are kept
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Pulse.RetentionDays) * 24 * time.Hour
}

// String returns a redacted one-line summary
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s %s, Pulse: {Workers: %d, Ticker: %ds}, Pipeline: %s}",
		c.GetDriver(), c.GetDatabasePath(), c.Pulse.Workers, c.Pulse.TickerIntervalSeconds, c.Pipeline.Endpoint)
}
