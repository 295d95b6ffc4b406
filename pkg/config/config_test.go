package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumulusfs/cumulus/pkg/policy"
	"github.com/cumulusfs/cumulus/pkg/storage"
)

var testDBSeq atomic.Int64

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// Missing file at an explicit nonexistent path is an error; an empty
	// file loads pure defaults.
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "sqlite", cfg.Catalog.Driver)
	assert.Equal(t, int64(64*1024*1024), cfg.Storage.ChunkSize)
	require.Len(t, cfg.Storage.Backends, 1)
	assert.Equal(t, "filesystem", cfg.Storage.Backends[0].Type)
	assert.Equal(t, time.Hour, cfg.Sweep.Interval)
	assert.NotZero(t, cfg.Sessions.TTL)
	assert.Equal(t, policy.DefaultVersionRetention.Intervals,
		cfg.Retention.VersionRetention().Intervals)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
logging:
  level: debug
  format: json
catalog:
  driver: postgres
  dsn: "host=db user=cumulus dbname=cumulus"
storage:
  chunk_size: 16777216
  checksums: [md5, sha1, adler32]
  backends:
    - name: scratch
      type: memory
      intents: [temporary]
    - name: bucket
      type: s3
      intents: [storage]
      options:
        bucket: blobs
        region: eu-west-1
retention:
  intervals:
    - {seconds: 60, keep_every: 10}
    - {seconds: -1, keep_every: 3600}
  max_days: 180
  trash_days: 30
sweep:
  enabled: true
  dry_run: true
sessions:
  path: /var/lib/cumulus/sessions
  ttl: 12h
`))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized")
	assert.Equal(t, "postgres", cfg.Catalog.Driver)
	assert.Equal(t, []string{"md5", "sha1", "adler32"}, cfg.Storage.Checksums)
	require.Len(t, cfg.Storage.Backends, 2)
	assert.Equal(t, "blobs", cfg.Storage.Backends[1].Options["bucket"])

	p := cfg.Retention.VersionRetention()
	assert.Equal(t, [][2]int64{{60, 10}, {-1, 3600}}, p.Intervals)
	assert.Equal(t, 180, p.MaxDays)
	assert.Equal(t, 30, cfg.Retention.TrashRetention().Days)

	assert.True(t, cfg.Sweep.DryRun)
	assert.Equal(t, 12*time.Hour, cfg.Sessions.TTL)
}

func TestValidationRejects(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "LOUD" },
			wantErr: "oneof",
		},
		{
			name:    "chunk size below floor",
			mutate:  func(cfg *Config) { cfg.Storage.ChunkSize = 1024 },
			wantErr: "below the minimum",
		},
		{
			name: "duplicate backend names",
			mutate: func(cfg *Config) {
				cfg.Storage.Backends = append(cfg.Storage.Backends, cfg.Storage.Backends[0])
			},
			wantErr: "duplicate backend name",
		},
		{
			name: "uncovered intent",
			mutate: func(cfg *Config) {
				cfg.Storage.Backends[0].Intents = []string{"temporary"}
			},
			wantErr: `no backend carries the "storage" intent`,
		},
		{
			name: "unknown backend type",
			mutate: func(cfg *Config) {
				cfg.Storage.Backends[0].Type = "tape"
			},
			wantErr: "oneof",
		},
		{
			name: "checksum algorithm the store cannot compute",
			mutate: func(cfg *Config) {
				cfg.Storage.Checksums = []string{"sha512"}
			},
			wantErr: "oneof",
		},
		{
			name: "intervals out of order",
			mutate: func(cfg *Config) {
				cfg.Retention.Intervals = []IntervalConfig{
					{Seconds: 60, KeepEvery: 10},
					{Seconds: 10, KeepEvery: 2},
				}
			},
			wantErr: "interval ends must increase",
		},
		{
			name: "unbounded interval not last",
			mutate: func(cfg *Config) {
				cfg.Retention.Intervals = []IntervalConfig{
					{Seconds: -1, KeepEvery: 3600},
					{Seconds: 60, KeepEvery: 10},
				}
			},
			wantErr: "unbounded interval must be last",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCreateStoreAndCatalog(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()
	cfg.Catalog.DSN = fmt.Sprintf("file:config_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	cfg.Storage.Backends = []BackendConfig{
		{Name: "scratch", Type: "memory", Intents: []string{"temporary"}},
		{
			Name:    "disk",
			Type:    "filesystem",
			Intents: []string{"storage"},
			Options: map[string]any{"path": t.TempDir()},
		},
	}
	require.NoError(t, Validate(cfg))

	store, err := CreateStore(ctx, &cfg.Storage)
	require.NoError(t, err)
	require.Len(t, store.Backends(), 2)
	assert.Equal(t, "scratch", store.Backends()[0].Name())
	assert.True(t, store.Backends()[1].Intents().Has(storage.IntentStorage))

	cat, err := CreateCatalog(&cfg.Catalog)
	require.NoError(t, err)
	require.NotNil(t, cat)

	sweeper := CreateSweeper(cat, store, cfg)
	require.NotNil(t, sweeper)
}

func TestCreateStoreRejectsBadOptions(t *testing.T) {
	ctx := context.Background()
	_, err := CreateStore(ctx, &StorageConfig{
		ChunkSize: storage.MinChunkSize,
		Backends: []BackendConfig{
			{Name: "disk", Type: "filesystem", Intents: []string{"storage"}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestCreateSessions(t *testing.T) {
	s, err := CreateSessions(&SessionsConfig{Path: t.TempDir(), TTL: time.Hour})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
