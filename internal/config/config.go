// Package config loads agent configuration from the environment.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/kmborden/plantsync/internal/errors"
)

// Config holds all agent configuration. Immutable after Load.
type Config struct {
	// DataDir is where the local snapshot lives. If it cannot be created
	// the store runs disabled (reads empty, writes no-op).
	DataDir string `env:"PLANTSYNC_DATA_DIR, default=./data"`

	// RemoteURL is the base URL of the tracker's server actions.
	RemoteURL string `env:"PLANTSYNC_REMOTE_URL"`

	// APIToken authenticates remote calls.
	APIToken string `env:"PLANTSYNC_API_TOKEN"`

	// ListenAddr is the localhost address for the status endpoint and
	// WebSocket hub consumed by the UI.
	ListenAddr string `env:"PLANTSYNC_LISTEN_ADDR, default=127.0.0.1:8090"`

	// SyncInterval is the base delay between scheduled sync attempts.
	SyncInterval time.Duration `env:"PLANTSYNC_SYNC_INTERVAL, default=60s"`

	// SyncJitter is the maximum random delay added to each interval so
	// concurrent sessions do not hit the server at the same instant.
	SyncJitter time.Duration `env:"PLANTSYNC_SYNC_JITTER, default=15s"`

	// ProbeInterval is how often connectivity is re-checked.
	ProbeInterval time.Duration `env:"PLANTSYNC_PROBE_INTERVAL, default=30s"`

	// BatchSize bounds how many queued operations one sync run processes.
	BatchSize int `env:"PLANTSYNC_SYNC_BATCH, default=100"`

	// MaxAttempts dead-letters an operation after this many failed sync
	// attempts. Zero retries forever at the normal cadence.
	MaxAttempts int `env:"PLANTSYNC_MAX_ATTEMPTS, default=0"`

	// InspectionCacheLimit caps how many cached inspections reads return.
	InspectionCacheLimit int `env:"PLANTSYNC_INSPECTION_CACHE_LIMIT, default=500"`

	// PersistDebounce is the window within which store mutations coalesce
	// into a single snapshot write.
	PersistDebounce time.Duration `env:"PLANTSYNC_PERSIST_DEBOUNCE, default=300ms"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"PLANTSYNC_LOG_LEVEL, default=info"`
}

// Load reads configuration from the environment and validates it.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfig, "failed to process environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.RemoteURL == "" {
		return errors.New(errors.ErrConfig, "PLANTSYNC_REMOTE_URL is required")
	}
	if c.SyncInterval <= 0 {
		return errors.New(errors.ErrConfig, fmt.Sprintf("sync interval must be positive, got %s", c.SyncInterval))
	}
	if c.SyncJitter < 0 {
		return errors.New(errors.ErrConfig, fmt.Sprintf("sync jitter must not be negative, got %s", c.SyncJitter))
	}
	if c.BatchSize <= 0 {
		return errors.New(errors.ErrConfig, fmt.Sprintf("sync batch size must be positive, got %d", c.BatchSize))
	}
	if c.InspectionCacheLimit <= 0 {
		return errors.New(errors.ErrConfig, fmt.Sprintf("inspection cache limit must be positive, got %d", c.InspectionCacheLimit))
	}
	if c.PersistDebounce < 0 {
		return errors.New(errors.ErrConfig, fmt.Sprintf("persist debounce must not be negative, got %s", c.PersistDebounce))
	}
	return nil
}
