package config

// Config is the daemon configuration, loaded from a JSON or YAML file.
//
// Unknown fields are rejected so typos surface at load time instead of
// silently falling back to defaults.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Loop controls the frame loop the daemon hosts.
	Loop LoopConfig `json:"loop"`

	// Journal controls the optional session journal. If omitted, the
	// journal is disabled.
	Journal *JournalConfig `json:"journal,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoopConfig controls the frame loop service.
//
// All durations are Go duration strings (e.g. "500ms", "16.666ms").
//
// Defaults (when fields are omitted/zero):
//   - enabled: true is expected in normal deployments; an explicit false
//     keeps the loop idle until a config reload enables it
//   - force_timer: false (use the host frame source when available)
//   - interval: "" (the fallback timer runs at 1000/60 ms)
//   - recover_panics: false (a panicking consumer halts the loop, matching
//     the scheduler's unguarded propagation)
//   - slow_frame_warn: "" (disabled)
type LoopConfig struct {
	Enabled bool `json:"enabled"`

	// ForceTimer selects the fixed-interval timer backend even when the
	// host provides a per-frame source.
	ForceTimer bool `json:"force_timer,omitempty"`

	// Interval overrides the fallback timer cadence. Go duration string.
	Interval string `json:"interval,omitempty"`

	// RecoverPanics wraps the consumer callback in a recover boundary:
	// instead of halting silently, the loop stops and the fault is logged
	// and journaled. This deviates from the default halt-on-panic
	// semantics and is therefore opt-in.
	RecoverPanics bool `json:"recover_panics,omitempty"`

	// SlowFrameWarn logs a rate-limited warning when a single callback
	// invocation takes longer than this duration. Go duration string,
	// empty/zero disables.
	SlowFrameWarn string `json:"slow_frame_warn,omitempty"`
}

// JournalConfig controls the SQLite session journal.
//
// Example:
//
//	"journal": { "enabled": true, "path": "./cadence.db", "retention_days": 30 }
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`

	// RetentionDays prunes sessions older than this many days. Zero
	// selects 30.
	RetentionDays int `json:"retention_days,omitempty"`

	// PruneSchedule is a cron spec or descriptor (e.g. "@daily",
	// "30 3 * * *") for the retention prune. Empty selects "@daily".
	PruneSchedule string `json:"prune_schedule,omitempty"`
}
