package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v11"
)

// DefaultStorageLimitBytes is the default storage budget (2 GiB).
const DefaultStorageLimitBytes int64 = 2 << 30

// Config holds application configuration.
type Config struct {
	// StorageLimitBytes is the capacity ceiling for cumulative downloaded content size.
	StorageLimitBytes int64 `json:"storage_limit_bytes" env:"FERRY_STORAGE_LIMIT_BYTES"`

	// SweepIntervalSeconds is how often expired content is removed while the service runs.
	SweepIntervalSeconds int `json:"sweep_interval_seconds" env:"FERRY_SWEEP_INTERVAL_SECONDS"`

	// FlushEverySeconds is how many seconds of advanced playback position
	// accumulate before the playback tracker persists progress.
	FlushEverySeconds int `json:"flush_every_seconds" env:"FERRY_FLUSH_EVERY_SECONDS"`

	// MaxRetries moves a sync entry to the dead-letter table after this many
	// failed attempts. 0 means retry forever.
	MaxRetries int `json:"max_retries,omitempty" env:"FERRY_MAX_RETRIES"`

	// ContentURL is the base URL of the remote content-fetch API.
	ContentURL string `json:"content_url,omitempty" env:"FERRY_CONTENT_URL"`

	// SyncURL is the base URL of the remote progress-sync API.
	SyncURL string `json:"sync_url,omitempty" env:"FERRY_SYNC_URL"`

	// ProbeURL is polled to decide whether the client is online.
	// Empty means connectivity is driven only by explicit Set calls.
	ProbeURL string `json:"probe_url,omitempty" env:"FERRY_PROBE_URL"`

	// ProbeIntervalSeconds is the connectivity polling interval.
	ProbeIntervalSeconds int `json:"probe_interval_seconds" env:"FERRY_PROBE_INTERVAL_SECONDS"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" env:"FERRY_LOG_LEVEL"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" env:"FERRY_DB_MAX_OPEN_CONNS"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" env:"FERRY_DB_MAX_IDLE_CONNS"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" env:"FERRY_DISABLED_TOOLS" envSeparator:","`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StorageLimitBytes:    DefaultStorageLimitBytes,
		SweepIntervalSeconds: 3600,
		FlushEverySeconds:    10,
		ProbeIntervalSeconds: 30,
		LogLevel:             "info",
	}
}

// SweepInterval returns SweepIntervalSeconds as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ProbeInterval returns ProbeIntervalSeconds as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BaseDir resolves the directory holding the database and config.json.
// FERRY_DIR wins, then the XDG data home.
func BaseDir() string {
	if explicit := os.Getenv("FERRY_DIR"); explicit != "" {
		return explicit
	}

	xdg.Reload()

	dataHome := xdg.DataHome
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "ferry")
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	return filepath.Join(dataHome, "ferry")
}

// Load loads configuration from baseDir/config.json, then applies FERRY_*
// environment overrides. Returns defaults if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir().
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.StorageLimitBytes = firstNonZero(overlay.StorageLimitBytes, base.StorageLimitBytes)
	result.SweepIntervalSeconds = firstNonZero(overlay.SweepIntervalSeconds, base.SweepIntervalSeconds)
	result.FlushEverySeconds = firstNonZero(overlay.FlushEverySeconds, base.FlushEverySeconds)
	result.MaxRetries = firstNonZero(overlay.MaxRetries, base.MaxRetries)
	result.ProbeIntervalSeconds = firstNonZero(overlay.ProbeIntervalSeconds, base.ProbeIntervalSeconds)
	result.DBMaxOpenConns = firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.ContentURL = firstNonZero(overlay.ContentURL, base.ContentURL)
	result.SyncURL = firstNonZero(overlay.SyncURL, base.SyncURL)
	result.ProbeURL = firstNonZero(overlay.ProbeURL, base.ProbeURL)
	result.LogLevel = firstNonZero(overlay.LogLevel, base.LogLevel)

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonZero[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
