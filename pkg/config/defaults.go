package config

import (
	"strings"
	"time"

	"github.com/cumulusfs/cumulus/pkg/policy"
	"github.com/cumulusfs/cumulus/pkg/session"
	"github.com/cumulusfs/cumulus/pkg/storage"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Called after loading from file and environment; explicit
// values are preserved, zero values are replaced.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyCatalogDefaults(&cfg.Catalog)
	applyStorageDefaults(&cfg.Storage)
	applyRetentionDefaults(&cfg.Retention)
	applySweepDefaults(&cfg.Sweep)
	applySessionsDefaults(&cfg.Sessions)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.DSN == "" && cfg.Driver == "sqlite" {
		cfg.DSN = "cumulus.db"
	}
}

// applyStorageDefaults sets storage defaults. A missing backend list
// gets one local filesystem backend carrying both intents.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 64 * 1024 * 1024
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = []BackendConfig{
			{
				Name:    "local",
				Type:    "filesystem",
				Intents: []string{"temporary", "storage"},
				Options: map[string]any{"path": "/var/lib/cumulus/objects"},
			},
		}
	}
	for i := range cfg.Backends {
		if cfg.Backends[i].Options == nil {
			cfg.Backends[i].Options = make(map[string]any)
		}
	}
}

func applyRetentionDefaults(cfg *RetentionConfig) {
	if len(cfg.Intervals) == 0 {
		for _, iv := range policy.DefaultVersionRetention.Intervals {
			cfg.Intervals = append(cfg.Intervals, IntervalConfig{Seconds: iv[0], KeepEvery: iv[1]})
		}
		cfg.ZeroByteSeconds = policy.DefaultVersionRetention.ZeroByteSeconds
	}
}

func applySweepDefaults(cfg *SweepConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Batch == 0 {
		cfg.Batch = 1000
	}
}

func applySessionsDefaults(cfg *SessionsConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = session.DefaultTTL
	}
}

// GetDefaultConfig returns a Config with all default values applied.
// Useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Sweep: SweepConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// VersionRetention converts the retention section into the policy type.
func (cfg *RetentionConfig) VersionRetention() policy.VersionRetention {
	p := policy.VersionRetention{
		MaxDays:         cfg.MaxDays,
		ZeroByteSeconds: cfg.ZeroByteSeconds,
	}
	for _, iv := range cfg.Intervals {
		p.Intervals = append(p.Intervals, [2]int64{iv.Seconds, iv.KeepEvery})
	}
	return p
}

// TrashRetention converts the retention section into the policy type.
func (cfg *RetentionConfig) TrashRetention() policy.TrashRetention {
	return policy.TrashRetention{Days: cfg.TrashDays}
}

// intent parses a backend's intent list into the storage bitmask.
func (cfg *BackendConfig) intent() (storage.Intent, error) {
	var intents storage.Intent
	for _, s := range cfg.Intents {
		i, err := storage.ParseIntent(s)
		if err != nil {
			return 0, err
		}
		intents |= i
	}
	return intents, nil
}
