// Package sweep runs the background maintenance jobs that keep catalog
// and object store converged: trash expiry, version thinning, stale
// chunked uploads, orphaned inodes and orphaned objects.
//
// Every job is idempotent and tolerates rows vanishing mid-scan, so
// overlapping or repeated runs are safe. Per-user jobs fan out
// concurrently; each only touches one user's inodes, so the database's
// transactional isolation is the only coordination needed.
package sweep

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cumulusfs/cumulus/internal/logger"
	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/policy"
	"github.com/cumulusfs/cumulus/pkg/storage"
)

// Config tunes the sweeper.
type Config struct {
	// Enabled controls whether background sweeping runs at all.
	Enabled bool

	// Interval is the pause between sweep rounds (default 1h).
	Interval time.Duration

	// Batch bounds per-query row counts (default 1000).
	Batch int

	// Fanout bounds concurrent per-user jobs (default 4).
	Fanout int

	// DryRun logs what would be removed without removing anything.
	DryRun bool

	// StaleUploadAge is how old an unfinished chunked upload may grow
	// before its parts are reclaimed (default 6h).
	StaleUploadAge time.Duration

	// VersionSpan is the inode-id range width of one version-expiry
	// chunk (default 10000).
	VersionSpan uint64

	Versions policy.VersionRetention
	Trash    policy.TrashRetention
}

// Sweeper owns the background maintenance goroutine.
type Sweeper struct {
	cat    *catalog.Catalog
	store  *storage.Store
	config Config

	// suspects holds object keys seen orphaned in the previous round.
	// An object is only removed once it stays orphaned across two
	// consecutive rounds, which substitutes for a creation-time grace
	// period the backends cannot report.
	suspects map[string]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a sweeper. Call Start to begin background sweeping.
func New(cat *catalog.Catalog, store *storage.Store, config Config) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Batch <= 0 {
		config.Batch = 1000
	}
	if config.Fanout <= 0 {
		config.Fanout = 4
	}
	if config.StaleUploadAge <= 0 {
		config.StaleUploadAge = 6 * time.Hour
	}
	if config.VersionSpan == 0 {
		config.VersionSpan = 10000
	}

	return &Sweeper{
		cat:      cat,
		store:    store,
		config:   config,
		suspects: make(map[string]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. Disabled sweepers do nothing.
func (s *Sweeper) Start() {
	if !s.config.Enabled {
		logger.Info("background sweeps disabled")
		return
	}
	logger.Info("starting sweeper: interval=%s batch=%d dry_run=%v",
		s.config.Interval, s.config.Batch, s.config.DryRun)
	go s.worker()
}

// Stop signals the worker and waits for the in-progress round to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	close(s.stopCh)
	select {
	case <-s.doneCh:
		logger.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("sweeper shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one full sweep round immediately. Used by the CLI and
// by tests; independent of Start/Stop.
func (s *Sweeper) RunNow(ctx context.Context) (*Stats, error) {
	return s.run(ctx)
}

func (s *Sweeper) worker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			stats, err := s.run(ctx)
			cancel()
			if err != nil {
				logger.Error("sweep round failed: %v", err)
			} else {
				logger.Info("sweep round completed: %s", stats.Summary())
			}
		case <-s.stopCh:
			return
		}
	}
}

// run executes one round: the per-user jobs fanned out, then the global
// jobs.
func (s *Sweeper) run(ctx context.Context) (*Stats, error) {
	stats := NewStats()

	owners, err := s.cat.Owners(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list owners: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Fanout)
	for _, owner := range owners {
		g.Go(func() error {
			if err := s.expireTrash(gctx, owner, stats); err != nil {
				return fmt.Errorf("trash expiry for user %d: %w", owner, err)
			}
			if err := s.expireVersions(gctx, owner, stats); err != nil {
				return fmt.Errorf("version expiry for user %d: %w", owner, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	if err := s.reclaimStaleUploads(ctx, stats); err != nil {
		return stats, err
	}
	if err := s.reclaimOrphanInodes(ctx, stats); err != nil {
		return stats, err
	}
	if err := s.reclaimOrphanObjects(ctx, stats); err != nil {
		return stats, err
	}

	stats.Finish()
	return stats, nil
}
