package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// InodeByID loads one inode row regardless of delete state.
func (c *Catalog) InodeByID(ctx context.Context, id uint64) (*Inode, error) {
	var n Inode
	if err := c.handle(ctx).First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("inode %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &n, nil
}

// Children returns the non-deleted children of a collection, by name.
func (c *Catalog) Children(ctx context.Context, parentID uint64) ([]Inode, error) {
	var rows []Inode
	err := c.handle(ctx).
		Where("parent_id = ? AND deleted IS NULL", parentID).
		Order("name").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %d: %w", parentID, err)
	}
	return rows, nil
}

// AllChildren returns every child row including trashed ones. Used by
// recursive deletion and the trash listing.
func (c *Catalog) AllChildren(ctx context.Context, parentID uint64) ([]Inode, error) {
	var rows []Inode
	err := c.handle(ctx).Where("parent_id = ?", parentID).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %d: %w", parentID, err)
	}
	return rows, nil
}

// FindChild resolves a child by name. With an explicit inode id the
// match is that specific row regardless of delete state, which lets
// callers disambiguate among several trashed items sharing a display
// name. Without one, the unique non-deleted child by name is returned.
func (c *Catalog) FindChild(ctx context.Context, parentID uint64, name string, inodeID *uint64) (*Inode, error) {
	q := c.handle(ctx).Where("parent_id = ?", parentID)
	if inodeID != nil {
		q = q.Where("id = ? AND name = ?", *inodeID, name)
	} else {
		q = q.Where("name = ? AND deleted IS NULL", name)
	}

	var n Inode
	if err := q.First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("child %q of %d: %w", name, parentID, ErrNotFound)
		}
		return nil, err
	}
	return &n, nil
}

// HasLiveChild reports whether a non-deleted child with the name exists.
func (c *Catalog) HasLiveChild(ctx context.Context, parentID uint64, name string) (bool, error) {
	var count int64
	err := c.handle(ctx).Model(&Inode{}).
		Where("parent_id = ? AND name = ? AND deleted IS NULL", parentID, name).
		Count(&count).Error
	return count > 0, err
}

// RootFor returns the user's root inode, creating it on first access.
// Every user has exactly one root (parent_id null).
func (c *Catalog) RootFor(ctx context.Context, ownerID uint64) (*Inode, error) {
	var n Inode
	err := c.handle(ctx).
		Where("parent_id IS NULL AND owner_id = ?", ownerID).
		First(&n).Error
	if err == nil {
		return &n, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	root := &Inode{
		OwnerID:  &ownerID,
		Type:     TypeCollection,
		Name:     "",
		Modified: time.Now(),
	}
	if err := c.SaveInode(ctx, root); err != nil {
		return nil, fmt.Errorf("failed to create root for user %d: %w", ownerID, err)
	}
	return root, nil
}

// Owners lists every user id that has a root inode.
func (c *Catalog) Owners(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := c.handle(ctx).Model(&Inode{}).
		Where("parent_id IS NULL AND owner_id IS NOT NULL").
		Pluck("owner_id", &ids).Error
	return ids, err
}

// SaveInode persists the inode, recomputing its etag, and cascades
// content changes when the etag moved: to the parent (a collection's
// etag covers its children) and to every share link mounting this inode
// anywhere, so that clients polling any mount point observe the change.
func (c *Catalog) SaveInode(ctx context.Context, n *Inode) error {
	fresh := n.ID == 0

	var old string
	if !fresh {
		var stored Inode
		if err := c.handle(ctx).Select("etag").First(&stored, n.ID).Error; err != nil {
			return err
		}
		old = stored.Etag
	}

	if fresh {
		if err := c.handle(ctx).Create(n).Error; err != nil {
			return fmt.Errorf("failed to create inode: %w", err)
		}
	}

	etag, err := c.ComputeEtag(ctx, n)
	if err != nil {
		return err
	}
	n.Etag = etag

	if err := c.handle(ctx).Save(n).Error; err != nil {
		return fmt.Errorf("failed to save inode %d: %w", n.ID, err)
	}

	if fresh || old != n.Etag {
		return c.cascadeFrom(ctx, n)
	}
	return nil
}

// ContentChanged recomputes etag and modification time. With save set
// the inode is persisted and the change cascades; without, the fields
// are only updated in memory (change-detection placeholder).
func (c *Catalog) ContentChanged(ctx context.Context, n *Inode, save bool) error {
	n.Modified = time.Now()
	if !save {
		etag, err := c.ComputeEtag(ctx, n)
		if err != nil {
			return err
		}
		n.Etag = etag
		return nil
	}
	return c.SaveInode(ctx, n)
}

// cascadeFrom propagates an etag change upward from n: to its parent
// chain and through every share link mounting an affected inode. Shares
// can form cycles (a folder mounted inside itself via another user), so
// the walk carries a visited set.
func (c *Catalog) cascadeFrom(ctx context.Context, n *Inode) error {
	visited := map[uint64]bool{n.ID: true}
	queue, err := c.cascadeTargets(ctx, n)
	if err != nil {
		return err
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.ID] {
			continue
		}
		visited[cur.ID] = true

		old := cur.Etag
		etag, err := c.ComputeEtag(ctx, &cur)
		if err != nil {
			return err
		}
		cur.Etag = etag
		cur.Modified = time.Now()

		err = c.handle(ctx).Model(&Inode{}).Where("id = ?", cur.ID).
			Updates(map[string]any{"etag": cur.Etag, "modified": cur.Modified}).Error
		if err != nil {
			return fmt.Errorf("failed to cascade to inode %d: %w", cur.ID, err)
		}

		if cur.Etag == old {
			continue
		}
		next, err := c.cascadeTargets(ctx, &cur)
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}
	return nil
}

// cascadeTargets returns the inodes directly affected by a content
// change of n: its parent and every link inode mounting it.
func (c *Catalog) cascadeTargets(ctx context.Context, n *Inode) ([]Inode, error) {
	var targets []Inode

	if n.ParentID != nil {
		var parent Inode
		err := c.handle(ctx).First(&parent, *n.ParentID).Error
		if err == nil {
			targets = append(targets, parent)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	links, err := c.LinksMounting(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	return append(targets, links...), nil
}

// SetDeleted toggles trash state. Deleting is idempotent: the timestamp
// keeps the earliest deletion time across repeated soft-deletes.
// Restoring fails without mutation when a live sibling already occupies
// the same (parent, name) slot.
func (c *Catalog) SetDeleted(ctx context.Context, n *Inode, deleted bool) (bool, error) {
	if deleted {
		now := time.Now()
		if n.Deleted == nil || now.Before(*n.Deleted) {
			n.Deleted = &now
		}
	} else {
		if n.ParentID != nil {
			taken, err := c.HasLiveChild(ctx, *n.ParentID, n.Name)
			if err != nil {
				return false, err
			}
			if taken {
				return false, nil
			}
		}
		n.Deleted = nil
	}

	err := c.handle(ctx).Model(&Inode{}).Where("id = ?", n.ID).
		Update("deleted", n.Deleted).Error
	if err != nil {
		return false, fmt.Errorf("failed to update trash state of %d: %w", n.ID, err)
	}
	return true, nil
}

// LinkInfo resolves a link inode to its share and target. A dangling
// link (share or target gone) yields nil results without error; callers
// treat that as not-found.
func (c *Catalog) LinkInfo(ctx context.Context, n *Inode) (*InodeShare, *Inode, error) {
	if n.Type != TypeLink || n.LinkTarget == nil {
		return nil, nil, nil
	}

	var share InodeShare
	if err := c.handle(ctx).First(&share, *n.LinkTarget).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var target Inode
	if err := c.handle(ctx).First(&target, share.InodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return &share, &target, nil
}

// PurgeInodeRefs removes the locks and properties of an inode, part of
// a hard delete.
func (c *Catalog) PurgeInodeRefs(ctx context.Context, inodeID uint64) error {
	if err := c.handle(ctx).Where("inode_id = ?", inodeID).Delete(&InodeLock{}).Error; err != nil {
		return err
	}
	return c.handle(ctx).Where("inode_id = ?", inodeID).Delete(&InodeProp{}).Error
}

// DeleteInodeRow removes the inode row itself.
func (c *Catalog) DeleteInodeRow(ctx context.Context, inodeID uint64) error {
	return c.handle(ctx).Delete(&Inode{}, inodeID).Error
}

// TrashedBefore lists inodes of one owner soft-deleted before the cutoff.
func (c *Catalog) TrashedBefore(ctx context.Context, ownerID uint64, cutoff time.Time) ([]Inode, error) {
	var rows []Inode
	err := c.handle(ctx).
		Where("owner_id = ? AND deleted IS NOT NULL AND deleted < ?", ownerID, cutoff).
		Find(&rows).Error
	return rows, err
}

// Trashed lists every trashed inode of one owner.
func (c *Catalog) Trashed(ctx context.Context, ownerID uint64) ([]Inode, error) {
	var rows []Inode
	err := c.handle(ctx).
		Where("owner_id = ? AND deleted IS NOT NULL", ownerID).
		Order("deleted DESC").
		Find(&rows).Error
	return rows, err
}

// OrphanInodes returns up to limit inodes whose parent row no longer
// exists. These are left behind when a recursive hard delete is
// interrupted between per-node transactions.
func (c *Catalog) OrphanInodes(ctx context.Context, limit int) ([]Inode, error) {
	var rows []Inode
	err := c.handle(ctx).
		Where("parent_id IS NOT NULL AND parent_id NOT IN (?)",
			c.handle(ctx).Model(&Inode{}).Select("id")).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FileInodesInRange returns file inodes of one owner with id in
// (afterID, afterID+span], the chunking unit for version expiry sweeps.
func (c *Catalog) FileInodesInRange(ctx context.Context, ownerID uint64, afterID, span uint64) ([]Inode, error) {
	var rows []Inode
	err := c.handle(ctx).
		Where("owner_id = ? AND type = ? AND id > ? AND id <= ?",
			ownerID, TypeFile, afterID, afterID+span).
		Order("id").
		Find(&rows).Error
	return rows, err
}

// MaxInodeID returns the highest inode id, bounding sweep ranges.
func (c *Catalog) MaxInodeID(ctx context.Context) (uint64, error) {
	var max *uint64
	err := c.handle(ctx).Model(&Inode{}).Select("MAX(id)").Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}
