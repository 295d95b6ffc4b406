package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/cumulusfs/cumulus/internal/logger"
	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/session"
	"github.com/cumulusfs/cumulus/pkg/storage"
	"github.com/cumulusfs/cumulus/pkg/storage/fsbackend"
	"github.com/cumulusfs/cumulus/pkg/storage/membackend"
	"github.com/cumulusfs/cumulus/pkg/storage/s3backend"
	"github.com/cumulusfs/cumulus/pkg/sweep"
)

// CreateCatalog opens and migrates the catalog database.
func CreateCatalog(cfg *CatalogConfig) (*catalog.Catalog, error) {
	cat, err := catalog.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog ready: driver=%s", cfg.Driver)
	return cat, nil
}

// CreateStore builds the object store from the configured backend list.
// Backend order is preserved; it determines read probing and write
// placement.
func CreateStore(ctx context.Context, cfg *StorageConfig) (*storage.Store, error) {
	backends := make([]storage.Backend, 0, len(cfg.Backends))
	for i := range cfg.Backends {
		b, err := createBackend(ctx, &cfg.Backends[i])
		if err != nil {
			return nil, fmt.Errorf("storage.backends[%d] (%s): %w", i, cfg.Backends[i].Name, err)
		}
		backends = append(backends, b)
		logger.Info("storage backend ready: name=%s type=%s intents=%s",
			b.Name(), cfg.Backends[i].Type, b.Intents())
	}

	return storage.New(backends, cfg.ChunkSize, cfg.Checksums)
}

// createBackend builds one backend from its declaration. Options are
// decoded per type.
func createBackend(ctx context.Context, cfg *BackendConfig) (storage.Backend, error) {
	intents, err := cfg.intent()
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "filesystem":
		return createFilesystemBackend(ctx, cfg, intents)
	case "memory":
		return membackend.New(cfg.Name, intents), nil
	case "s3":
		return createS3Backend(ctx, cfg, intents)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

func createFilesystemBackend(ctx context.Context, cfg *BackendConfig, intents storage.Intent) (storage.Backend, error) {
	type fsOptions struct {
		Path string `mapstructure:"path"`
	}
	var opts fsOptions
	if err := mapstructure.Decode(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem backend options: %w", err)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("filesystem backend: path is required")
	}
	return fsbackend.New(ctx, cfg.Name, intents, opts.Path)
}

func createS3Backend(ctx context.Context, cfg *BackendConfig, intents storage.Intent) (storage.Backend, error) {
	var s3cfg s3backend.Config
	if err := mapstructure.Decode(cfg.Options, &s3cfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 backend options: %w", err)
	}
	return s3backend.New(ctx, cfg.Name, intents, s3cfg)
}

// CreateSessions opens the share-session store.
func CreateSessions(cfg *SessionsConfig) (*session.Store, error) {
	return session.Open(session.Config{Path: cfg.Path, TTL: cfg.TTL})
}

// CreateSweeper wires the background sweeper from the sweep and
// retention sections.
func CreateSweeper(cat *catalog.Catalog, store *storage.Store, cfg *Config) *sweep.Sweeper {
	return sweep.New(cat, store, sweep.Config{
		Enabled:  cfg.Sweep.Enabled,
		Interval: cfg.Sweep.Interval,
		Batch:    cfg.Sweep.Batch,
		DryRun:   cfg.Sweep.DryRun,
		Versions: cfg.Retention.VersionRetention(),
		Trash:    cfg.Retention.TrashRetention(),
	})
}
