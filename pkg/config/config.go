// Package config loads, defaults and validates the server configuration
// and provides factories that turn configuration sections into live
// components (catalog, object store, session store, sweeper).
//
// Configuration sources, in order of precedence:
//  1. Environment variables (CUMULUS_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings.
	Server ServerConfig `mapstructure:"server"`

	// Catalog selects the relational database holding the file tree.
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Storage configures the object store and its backends.
	Storage StorageConfig `mapstructure:"storage"`

	// Retention tunes version thinning and trash expiry.
	Retention RetentionConfig `mapstructure:"retention"`

	// Sweep tunes the background maintenance jobs.
	Sweep SweepConfig `mapstructure:"sweep"`

	// Sessions configures the public-share session store.
	Sessions SessionsConfig `mapstructure:"sessions"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// CatalogConfig selects the catalog database.
type CatalogConfig struct {
	// Driver is the database driver: sqlite or postgres.
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`

	// DSN is the driver-specific connection string.
	DSN string `mapstructure:"dsn" validate:"required"`
}

// StorageConfig configures the object store.
type StorageConfig struct {
	// ChunkSize is the physical part size logical objects are rolled at.
	ChunkSize int64 `mapstructure:"chunk_size"`

	// Checksums lists additional digest algorithms computed on every
	// stored object (md5, sha1, sha256, adler32). sha256 is always
	// computed as the primary hash.
	Checksums []string `mapstructure:"checksums" validate:"dive,oneof=md5 sha1 sha256 adler32"`

	// Backends is the ordered backend list. Order matters: reads probe
	// backends in order, and the first backend carrying an intent wins
	// writes for that intent.
	Backends []BackendConfig `mapstructure:"backends" validate:"required,min=1,dive"`
}

// BackendConfig declares one storage backend.
type BackendConfig struct {
	// Name identifies the backend in logs and the CLI. Unique.
	Name string `mapstructure:"name" validate:"required"`

	// Type selects the implementation: filesystem, memory or s3.
	Type string `mapstructure:"type" validate:"required,oneof=filesystem memory s3"`

	// Intents tags what the backend may hold: temporary, storage.
	Intents []string `mapstructure:"intents" validate:"required,min=1,dive,oneof=temporary storage"`

	// Options carries type-specific settings, decoded by the factory of
	// the selected type.
	Options map[string]any `mapstructure:"options"`
}

// RetentionConfig tunes version thinning and trash expiry.
type RetentionConfig struct {
	// Intervals are the version-thinning tiers, nearest-first. An
	// interval with seconds < 0 is unbounded.
	Intervals []IntervalConfig `mapstructure:"intervals" validate:"dive"`

	// MaxDays expires any non-protected version older than this. Zero
	// disables the age cap.
	MaxDays int `mapstructure:"max_days" validate:"gte=0"`

	// ZeroByteSeconds expires a zero-byte version superseded within this
	// many seconds. Zero disables the rule.
	ZeroByteSeconds int64 `mapstructure:"zero_byte_seconds" validate:"gte=0"`

	// TrashDays expires trashed items after this many days. Zero keeps
	// trash forever.
	TrashDays int `mapstructure:"trash_days" validate:"gte=0"`
}

// IntervalConfig is one version-thinning tier.
type IntervalConfig struct {
	// Seconds is the tier's upper age bound; negative means unbounded.
	Seconds int64 `mapstructure:"seconds"`

	// KeepEvery is the minimum spacing between kept versions in the tier.
	KeepEvery int64 `mapstructure:"keep_every" validate:"gt=0"`
}

// SweepConfig tunes background maintenance.
type SweepConfig struct {
	// Enabled controls whether background sweeping runs.
	Enabled bool `mapstructure:"enabled"`

	// Interval is the pause between sweep rounds.
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`

	// Batch bounds per-query row counts.
	Batch int `mapstructure:"batch" validate:"gte=0"`

	// DryRun logs what a sweep would remove without removing anything.
	DryRun bool `mapstructure:"dry_run"`
}

// SessionsConfig configures the public-share session store.
type SessionsConfig struct {
	// Path is the BadgerDB directory. Empty means in-memory sessions
	// that do not survive restarts.
	Path string `mapstructure:"path"`

	// TTL is the session lifetime.
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables and config file lookup.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the CUMULUS_ prefix with underscores,
	// e.g. CUMULUS_LOGGING_LEVEL=DEBUG.
	v.SetEnvPrefix("CUMULUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is fine; defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME, then ~/.config, then the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cumulus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "cumulus")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
