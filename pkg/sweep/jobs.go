package sweep

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cumulusfs/cumulus/internal/logger"
	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/policy"
	"github.com/cumulusfs/cumulus/pkg/storage"
	"github.com/cumulusfs/cumulus/pkg/vfs"
)

// userContext builds the request context sweeps act through, bound to
// the swept user so ownership rules hold during recursive deletes.
func (s *Sweeper) userContext(owner uint64) *vfs.Context {
	return vfs.NewContext(s.cat, s.store, vfs.Identity{Kind: vfs.IdentityUser, UserID: owner})
}

// expireTrash hard-deletes one user's trash entries older than the
// configured retention.
func (s *Sweeper) expireTrash(ctx context.Context, owner uint64, stats *Stats) error {
	cutoff := s.config.Trash.Cutoff(time.Now())
	if cutoff.IsZero() {
		return nil
	}

	rows, err := s.cat.TrashedBefore(ctx, owner, cutoff)
	if err != nil {
		return err
	}

	rc := s.userContext(owner)
	for i := range rows {
		n := &rows[i]
		if s.config.DryRun {
			logger.Info("dry-run: would purge trashed inode %d (%s)", n.ID, n.Name)
			continue
		}
		if err := vfs.RemoveRecursive(ctx, rc, n); err != nil {
			// The row may have been purged concurrently; skip, the next
			// round sees a consistent picture.
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return err
		}
		stats.TrashedRemoved.Add(1)
	}
	return nil
}

// expireVersions thins one user's version history per the retention
// policy, walking files in bounded inode-id chunks so no single query or
// transaction grows with the tree.
func (s *Sweeper) expireVersions(ctx context.Context, owner uint64, stats *Stats) error {
	maxID, err := s.cat.MaxInodeID(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for afterID := uint64(0); afterID < maxID; afterID += s.config.VersionSpan {
		if err := ctx.Err(); err != nil {
			return err
		}

		files, err := s.cat.FileInodesInRange(ctx, owner, afterID, s.config.VersionSpan)
		if err != nil {
			return err
		}
		for i := range files {
			if err := s.expireFileVersions(ctx, &files[i], now, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sweeper) expireFileVersions(ctx context.Context, file *catalog.Inode, now time.Time, stats *Stats) error {
	versions, err := s.cat.VersionsOf(ctx, file.ID)
	if err != nil {
		return err
	}
	if len(versions) < 2 {
		return nil
	}

	infos := make([]policy.VersionInfo, 0, len(versions))
	for _, v := range versions {
		infos = append(infos, policy.VersionInfo{
			ID:      v.ID,
			Created: v.Created,
			Size:    v.Size,
			Named:   v.Named(),
		})
	}

	currentID := uint64(0)
	if file.CurrentVersionID != nil {
		currentID = *file.CurrentVersionID
	}
	_, expire := s.config.Versions.Plan(infos, currentID, now)

	byID := make(map[uint64]*catalog.FileVersion, len(versions))
	for i := range versions {
		byID[versions[i].ID] = &versions[i]
	}

	for _, id := range expire {
		v := byID[id]
		if s.config.DryRun {
			logger.Info("dry-run: would expire version %d of inode %d", id, file.ID)
			continue
		}
		// Reference check before the row goes, so shared objects stay.
		if err := s.store.SafeRemoveObject(ctx, s.cat, storage.Key(v.Object)); err != nil {
			return err
		}
		if err := s.cat.DeleteVersionRow(ctx, id); err != nil {
			return err
		}
		stats.VersionsExpired.Add(1)
	}
	return nil
}

// reclaimStaleUploads drops chunked uploads whose transfer never
// completed, along with their part objects.
func (s *Sweeper) reclaimStaleUploads(ctx context.Context, stats *Stats) error {
	cutoff := time.Now().Add(-s.config.StaleUploadAge)
	uploads, err := s.cat.StaleUploads(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, u := range uploads {
		if s.config.DryRun {
			logger.Info("dry-run: would reclaim stale upload %q", u.TransferID)
			continue
		}
		parts, err := s.cat.Parts(ctx, u.ID)
		if err != nil {
			return err
		}
		if err := s.cat.DeleteUpload(ctx, u.ID); err != nil {
			return err
		}
		// The part rows are gone; only bytes no live row references go.
		for _, p := range parts {
			if err := s.store.RemoveUnreferenced(ctx, s.cat, storage.Key(p.Object)); err != nil {
				logger.Warn("failed to reclaim part object %s: %v", p.Object, err)
			}
		}
		stats.UploadsRemoved.Add(1)
	}
	return nil
}

// reclaimOrphanInodes removes inodes whose parent row is gone: the
// leftovers of an interrupted recursive hard delete. Removing them may
// orphan their own children, which the next rounds pick up in turn.
func (s *Sweeper) reclaimOrphanInodes(ctx context.Context, stats *Stats) error {
	rows, err := s.cat.OrphanInodes(ctx, s.config.Batch)
	if err != nil {
		return err
	}

	for i := range rows {
		n := &rows[i]
		if s.config.DryRun {
			logger.Info("dry-run: would remove orphan inode %d (%s)", n.ID, n.Name)
			continue
		}
		owner := uint64(0)
		if n.OwnerID != nil {
			owner = *n.OwnerID
		}
		if err := vfs.RemoveRecursive(ctx, s.userContext(owner), n); err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return err
		}
		stats.InodesRemoved.Add(1)
	}
	return nil
}

// orphanPrefixes are the key namespaces scanned for unreferenced blobs:
// promoted objects and the temporaries a crashed process left behind.
var orphanPrefixes = []string{"o/", "tmp/"}

// reclaimOrphanObjects removes stored objects with zero catalog
// references. An object must be seen orphaned in two consecutive rounds
// before it goes, so blobs stored just ahead of their metadata
// transaction, and temporaries of in-flight uploads, are never raced.
func (s *Sweeper) reclaimOrphanObjects(ctx context.Context, stats *Stats) error {
	next := make(map[string]bool)

	for _, b := range s.store.Backends() {
		for _, prefix := range orphanPrefixes {
			keys, err := b.List(ctx, prefix)
			if err != nil {
				logger.Warn("failed to list backend %s: %v", b.Name(), err)
				continue
			}
			for _, physical := range keys {
				logical := logicalKey(physical)
				if logical == "" || next[logical] {
					continue
				}

				refs, err := s.cat.CountObjectRefs(ctx, logical)
				if err != nil {
					return err
				}
				if refs > 0 {
					continue
				}

				if !s.suspects[logical] {
					// First sighting: remember it, remove it next round if
					// still unreferenced.
					next[logical] = true
					continue
				}

				next[logical] = true
				if s.config.DryRun {
					logger.Info("dry-run: would remove orphan object %s", logical)
					continue
				}
				if err := s.store.RemoveUnreferenced(ctx, s.cat, storage.Key(logical)); err != nil {
					logger.Warn("failed to remove orphan object %s: %v", logical, err)
					continue
				}
				delete(next, logical)
				stats.ObjectsRemoved.Add(1)
			}
		}
	}

	s.suspects = next
	return nil
}

// logicalKey strips the part suffix from a physical blob key, yielding
// the logical object key, or "" for keys outside the part layout.
func logicalKey(physical string) string {
	i := strings.LastIndex(physical, ".")
	if i <= 0 {
		return ""
	}
	for _, c := range physical[i+1:] {
		if c < '0' || c > '9' {
			return ""
		}
	}
	if i+1 == len(physical) {
		return ""
	}
	return physical[:i]
}
