package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage is the optional signal journal. Nil disables it.
	Storage *StorageConfig `json:"storage,omitempty"`
	Debug   DebugConfig    `json:"debug,omitempty"`

	// Jobs are the demo jobs scheduled by the daemon at startup.
	Jobs []JobConfig `json:"jobs,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile is a size-rotated log file.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// SchedulerConfig controls the tick loop.
//
// All durations are Go duration strings (e.g. "100ms", "3h").
//
// Defaults (when fields are omitted/empty):
//   - tick_interval: "100ms"
//   - drift_threshold: "3h" (must be whole hours)
//   - timezone: process local time
type SchedulerConfig struct {
	TickInterval   string `json:"tick_interval,omitempty"`
	DriftThreshold string `json:"drift_threshold,omitempty"`

	// IANA timezone, e.g. "Europe/Berlin".
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the signal journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./simplecron.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "file" or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the optional debug HTTP server (/healthz, /metrics,
// /jobs, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`         // default: "127.0.0.1:6060"
	PprofPrefix   string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`        // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// JobConfig is one demo job: every time Schedule fires, Message is logged.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Message  string `json:"message,omitempty"`
}
