package config

// Config is the root configuration for the notiq daemon.
//
// The file may be JSON or YAML (YAML is coerced to JSON before strict
// decoding, so unknown fields are rejected in both formats).
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage configures the durable job store. The store is the source of
	// truth for active jobs; a missing/invalid driver is a startup error.
	Storage StorageConfig `json:"storage"`

	// Scheduler controls trigger evaluation (calendar timezone).
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// PostOffice controls per-owner mailbox limits.
	// If omitted, defaults apply (see DefaultMaxPending).
	PostOffice *PostOfficeConfig `json:"post_office,omitempty"`

	// Diag enables the diagnostics HTTP endpoint (health, state snapshot,
	// pprof). Disabled when omitted.
	Diag *DiagConfig `json:"diag,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./notiq.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls trigger evaluation.
type SchedulerConfig struct {
	// Timezone is an IANA TZ name (e.g. "Asia/Jakarta") used to evaluate
	// calendar cron expressions. Empty means the process-local timezone.
	Timezone string `json:"timezone,omitempty"`
}

// PostOfficeConfig controls per-owner mailbox behavior.
//
// All fields are optional; zero values select the documented defaults.
type PostOfficeConfig struct {
	// MaxPending caps how many deliveries a single absent owner's mailbox
	// may hold. When the cap is exceeded the oldest delivery is dropped.
	// 0 selects the default; -1 disables the cap.
	MaxPending int `json:"max_pending,omitempty"`

	// WarnRatePerSec throttles "buffering for absent owner" warnings.
	WarnRatePerSec int `json:"warn_rate_per_sec,omitempty"`
}

// DiagConfig controls the diagnostics HTTP server.
//
// Binding to a non-loopback address requires Token or AllowInsecure.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
