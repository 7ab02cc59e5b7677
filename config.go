package syncbox

import (
	"os"
	"path/filepath"
	"time"
)

// Config configures the store and engine.
type Config struct {
	// Path is the path to the local SQLite database.
	Path string

	// SourceID identifies this device to the remote peer.
	// Defaults to hostname if not set.
	SourceID string

	// MaxBatchSize bounds how many pending items one drain cycle selects.
	// Defaults to 20.
	MaxBatchSize int

	// MaxRetries is the default retry budget assigned to new queue items.
	// Defaults to 3.
	MaxRetries int

	// RetentionWindow bounds how long completed outbox rows are kept and how
	// long idempotency keys deduplicate. Defaults to 24 hours.
	RetentionWindow time.Duration

	// DebounceDelay coalesces bursts of sync triggers into one drain.
	// Defaults to 100ms.
	DebounceDelay time.Duration

	// Debug enables verbose logging of drain cycles and delivery outcomes.
	Debug bool

	// DebugLogPath is the path to write debug logs.
	// Defaults to stderr if empty.
	DebugLogPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	return Config{
		Path:            DefaultDBPath(),
		SourceID:        hostname,
		MaxBatchSize:    DefaultMaxBatchSize,
		MaxRetries:      DefaultMaxRetries,
		RetentionWindow: DefaultRetention,
		DebounceDelay:   DefaultDebounceDelay,
	}
}

// DefaultDBPath returns the default database location: ./data/syncbox.db
// relative to the current directory.
func DefaultDBPath() string {
	cwd, _ := os.Getwd()
	return filepath.Join(cwd, "data", "syncbox.db")
}

// ConfigFromEnv reads configuration from environment variables.
//
//	SYNCBOX_DB_PATH    → Path
//	SYNCBOX_SOURCE_ID  → SourceID
//	SYNCBOX_DEBUG      → Debug (any non-empty value enables)
//	SYNCBOX_DEBUG_LOG  → DebugLogPath
func ConfigFromEnv() Config {
	return Config{
		Path:         os.Getenv("SYNCBOX_DB_PATH"),
		SourceID:     os.Getenv("SYNCBOX_SOURCE_ID"),
		Debug:        os.Getenv("SYNCBOX_DEBUG") != "",
		DebugLogPath: os.Getenv("SYNCBOX_DEBUG_LOG"),
	}
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.Path == "" {
		return &ValidationError{Field: "Path", Message: "required: path to SQLite database"}
	}
	if c.MaxBatchSize < 0 {
		return &ValidationError{Field: "MaxBatchSize", Message: "must be non-negative"}
	}
	if c.MaxRetries < 0 {
		return &ValidationError{Field: "MaxRetries", Message: "must be non-negative"}
	}
	if c.RetentionWindow < 0 {
		return &ValidationError{Field: "RetentionWindow", Message: "must be non-negative"}
	}
	if c.DebounceDelay < 0 {
		return &ValidationError{Field: "DebounceDelay", Message: "must be non-negative"}
	}
	return nil
}

// WithDefaults fills in default values for unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Path == "" {
		c.Path = defaults.Path
	}
	if c.SourceID == "" {
		c.SourceID = defaults.SourceID
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = defaults.MaxBatchSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.RetentionWindow == 0 {
		c.RetentionWindow = defaults.RetentionWindow
	}
	if c.DebounceDelay == 0 {
		c.DebounceDelay = defaults.DebounceDelay
	}

	return c
}
