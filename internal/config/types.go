package config

// Config is the top-level configuration document for an agenda4go node.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Agenda  AgendaConfig  `json:"agenda"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the job store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./agenda4go.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`        // sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AgendaConfig controls the scheduling engine (SPEC_FULL.md §5/§6).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
//
// Zero values fall back to the engine's own defaults (engine.Config.withDefaults),
// so an empty AgendaConfig{} is a valid, fully-defaulted configuration.
type AgendaConfig struct {
	Enabled bool `json:"enabled"`

	// WorkerID is the lease owner string. Blank means auto-generate
	// "<hostname>-<pid>-<uuid>".
	WorkerID string `json:"worker_id,omitempty"`

	ProcessEvery        string `json:"process_every,omitempty"`
	DefaultLockLifetime string `json:"default_lock_lifetime,omitempty"`

	MaxConcurrency     int `json:"max_concurrency,omitempty"`
	DefaultConcurrency int `json:"default_concurrency,omitempty"`

	// LockLimit caps in-flight claimed jobs per worker. nil means "not set,
	// use the engine default"; an explicit 0 means "unbounded" — the two
	// are not the same, so this must stay a pointer rather than a plain int.
	LockLimit *int `json:"lock_limit,omitempty"`

	BatchSize     int `json:"batch_size,omitempty"`
	MaxRetryCount int `json:"max_retry_count,omitempty"`

	CleanupFinishedJobs    *bool `json:"cleanup_finished_jobs,omitempty"`
	EnsureIndexesOnStartup bool  `json:"ensure_indexes_on_startup,omitempty"`

	// Timezone is parsed and compared on reload, but nothing passes it to
	// the engine: a job without its own zone is evaluated in the process's
	// local zone.
	Timezone string `json:"timezone,omitempty"`

	// Systemd enables sd_notify READY/WATCHDOG/STOPPING signaling from the
	// lifecycle binding (see internal/agenda/lifecycle).
	Systemd SystemdConfig `json:"systemd,omitempty"`
}

type SystemdConfig struct {
	Enabled       bool   `json:"enabled"`
	WatchdogEvery string `json:"watchdog_every,omitempty"`
}
