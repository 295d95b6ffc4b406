package vfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/storage"
)

// TrashItem is one entry of a user's trash listing.
type TrashItem struct {
	Inode *catalog.Inode

	// QualifiedName disambiguates among trashed rows sharing a display
	// name; it round-trips through Directory.Child.
	QualifiedName string

	// OriginalPath is the strict within-owner path the item lived at, or
	// "" when the chain crosses owners or is broken.
	OriginalPath string
}

// TrashList returns the current user's trashed items, newest first.
func (rc *Context) TrashList(ctx context.Context) ([]TrashItem, error) {
	if rc.Identity.Kind != IdentityUser {
		return nil, fmt.Errorf("trash listing: %w", ErrForbidden)
	}

	rows, err := rc.Catalog.Trashed(ctx, rc.Identity.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]TrashItem, 0, len(rows))
	for i := range rows {
		n := &rows[i]
		path, err := StrictPath(ctx, rc, n.ID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			path = ""
		}
		items = append(items, TrashItem{
			Inode:         n,
			QualifiedName: QualifiedName(n),
			OriginalPath:  path,
		})
	}
	return items, nil
}

// Restore brings a trashed inode back, failing with ErrConflict when a
// live sibling took the (parent, name) slot in the meantime.
func (rc *Context) Restore(ctx context.Context, inodeID uint64) error {
	n, err := rc.Catalog.InodeByID(ctx, inodeID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("inode %d: %w", inodeID, ErrNotFound)
		}
		return err
	}
	if rc.Identity.Kind != IdentityUser || !n.OwnedBy(rc.Identity.UserID) {
		return fmt.Errorf("restore %d: %w", inodeID, ErrForbidden)
	}

	return rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		ok, err := tx.SetDeleted(ctx, n, false)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("restore slot taken: %w", ErrConflict)
		}
		return cascadeToParent(ctx, tx, n)
	})
}

// Purge permanently removes a trashed inode and its subtree.
func (rc *Context) Purge(ctx context.Context, inodeID uint64) error {
	n, err := rc.Catalog.InodeByID(ctx, inodeID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("inode %d: %w", inodeID, ErrNotFound)
		}
		return err
	}
	if rc.Identity.Kind != IdentityUser || !n.OwnedBy(rc.Identity.UserID) {
		return fmt.Errorf("purge %d: %w", inodeID, ErrForbidden)
	}
	if !n.IsDeleted() {
		return fmt.Errorf("inode %d is not in trash: %w", inodeID, ErrConflict)
	}
	return RemoveRecursive(ctx, rc, n)
}

// RemoveRecursive hard-deletes an inode and everything below it.
//
// Each node goes in its own transaction; children are removed after the
// parent's transaction committed. A crash mid-recursion leaves orphaned
// descendant rows behind, which the orphan sweep reconciles later. The
// trade-off bounds transaction size on huge subtrees.
func RemoveRecursive(ctx context.Context, rc *Context, n *catalog.Inode) error {
	children, err := rc.Catalog.AllChildren(ctx, n.ID)
	if err != nil {
		return err
	}

	err = rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		return deleteWithRefs(ctx, rc, tx, n)
	})
	if err != nil {
		return err
	}

	for i := range children {
		if err := RemoveRecursive(ctx, rc, &children[i]); err != nil {
			return err
		}
	}
	return nil
}

// deleteWithRefs removes one inode row and everything hanging off it:
// versions, shares (cascading to their mount links), locks and props.
//
// Each version's object goes through SafeRemoveObject BEFORE its row is
// deleted, so the reference count still includes the row being removed:
// two or more references mean another version or a copy shares the
// bytes and the removal is a no-op.
func deleteWithRefs(ctx context.Context, rc *Context, tx *catalog.Catalog, n *catalog.Inode) error {
	if n.Type == catalog.TypeFile {
		versions, err := tx.VersionsOf(ctx, n.ID)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if err := rc.Store.SafeRemoveObject(ctx, tx, storage.Key(v.Object)); err != nil {
				return err
			}
			if err := tx.DeleteVersionRow(ctx, v.ID); err != nil {
				return err
			}
		}
	}

	shares, err := tx.SharesOf(ctx, n.ID)
	if err != nil {
		return err
	}
	for i := range shares {
		if err := tx.DeleteShare(ctx, &shares[i]); err != nil {
			return err
		}
	}

	if err := tx.PurgeInodeRefs(ctx, n.ID); err != nil {
		return err
	}
	return tx.DeleteInodeRow(ctx, n.ID)
}
