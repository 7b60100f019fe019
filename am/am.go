package am

// Config represents the watchtower configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Pulse    PulseConfig    `mapstructure:"pulse"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Operator OperatorConfig `mapstructure:"operator"`
}

// DatabaseConfig selects the job and tracking store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite3" (default) or "pgx"
	Path   string `mapstructure:"path"`   // SQLite file path
	DSN    string `mapstructure:"dsn"`    // Postgres connection string, required when driver = "pgx"
}

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// PulseConfig configures the scheduler ticker and worker pool
type PulseConfig struct {
	Workers               int `mapstructure:"workers"`                 // Concurrent workers (0 = scheduler only)
	PollIntervalSeconds   int `mapstructure:"poll_interval_seconds"`   // Idle sleep between claim attempts
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"` // Scheduler tick period (0 = no periodic ticking)
	JobTimeoutSeconds     int `mapstructure:"job_timeout_seconds"`     // Per-job pipeline deadline
	StaleAfterSeconds     int `mapstructure:"stale_after_seconds"`     // PROCESSING older than this is orphaned (0 = 2x job timeout)
	MaxQueueDepth         int `mapstructure:"max_queue_depth"`         // Pending+processing ceiling (0 = unlimited)
	MaxScrapesPerMinute   int `mapstructure:"max_scrapes_per_minute"`  // Pipeline call rate (0 = unlimited)
	RetentionDays         int `mapstructure:"retention_days"`          // Terminal jobs older than this are cleaned up
}

// PipelineConfig configures the external scraping pipeline
type PipelineConfig struct {
	Endpoint            string `mapstructure:"endpoint"`
	APIKey              string `mapstructure:"api_key"`
	AllowPrivateNetwork bool   `mapstructure:"allow_private_network"`
}

// OperatorConfig pins the user on whose behalf scrapes run.
// Empty UserID means the top tracker of each company is used.
type OperatorConfig struct {
	UserID string `mapstructure:"user_id"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
