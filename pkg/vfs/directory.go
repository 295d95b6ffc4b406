package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/perm"
	"github.com/cumulusfs/cumulus/pkg/storage"
)

// Directory is a resolved collection node.
type Directory struct {
	node
}

// IsDir reports true for directories.
func (d *Directory) IsDir() bool { return true }

// Children resolves the non-deleted children. Dangling share links are
// skipped rather than failing the whole listing.
func (d *Directory) Children(ctx context.Context) ([]Node, error) {
	rows, err := d.rc.Catalog.Children(ctx, d.inode.ID)
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(rows))
	for i := range rows {
		n, err := FromInode(ctx, d.rc, &rows[i], d.inner)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Child resolves one child by name. Qualified trash names of the form
// "name.d<id>" select a specific row regardless of delete state.
func (d *Directory) Child(ctx context.Context, name string) (Node, error) {
	plain, inodeID := ParseQualifiedName(name)
	row, err := d.rc.Catalog.FindChild(ctx, d.inode.ID, plain, inodeID)
	if errors.Is(err, catalog.ErrNotFound) && inodeID != nil {
		// A live file may legitimately carry a ".d<digits>" suffix.
		row, err = d.rc.Catalog.FindChild(ctx, d.inode.ID, name, nil)
	}
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return FromInode(ctx, d.rc, row, d.inner)
}

// CreateFile stores the source bytes as a new object and binds them as a
// file under this directory: a new inode on first write, a new version
// of the existing file otherwise.
//
// The blob is stored before the transaction opens, so a rollback never
// has to undo a completed upload; a blob left behind by a failed
// transaction is reclaimed by the orphan sweep. declaredLength below
// zero means the client sent none; declaredChecksum is the raw
// "ALGORITHM:HEXDIGEST" header or empty.
func (d *Directory) CreateFile(ctx context.Context, name string, src io.Reader, declaredLength int64, declaredChecksum string) (*File, error) {
	if !validName(name) {
		return nil, fmt.Errorf("create %q: %w", name, ErrForbidden)
	}

	existing, err := d.rc.Catalog.FindChild(ctx, d.inode.ID, name, nil)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	switch {
	case existing == nil:
		if !d.inner.Can(perm.AddFile) {
			return nil, fmt.Errorf("create %q: %w", name, ErrForbidden)
		}
	case existing.Type == catalog.TypeFile:
		if !d.inner.Can(perm.Write) {
			return nil, fmt.Errorf("overwrite %q: %w", name, ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("%q exists and is not a file: %w", name, ErrConflict)
	}

	info, err := d.rc.Store.StoreNewObject(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := d.rc.ValidateLength(declaredLength, info.Size); err != nil {
		d.rc.discardObject(ctx, info.Key)
		return nil, err
	}
	if err := d.rc.ValidateChecksum(declaredChecksum, info.Checksums); err != nil {
		d.rc.discardObject(ctx, info.Key)
		return nil, err
	}

	file, err := d.bindVersion(ctx, existing, name, info)
	if err != nil {
		d.rc.discardObject(ctx, info.Key)
		return nil, err
	}
	return file, nil
}

// bindVersion transacts the metadata side of an upload: inode creation
// or lookup plus a new current version.
func (d *Directory) bindVersion(ctx context.Context, existing *catalog.Inode, name string, info storage.ObjectInfo) (*File, error) {
	var bound *catalog.Inode
	err := d.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		target := existing
		if target == nil {
			target = &catalog.Inode{
				ParentID: &d.inode.ID,
				OwnerID:  d.inode.OwnerID,
				Type:     catalog.TypeFile,
				Name:     name,
				Modified: time.Now(),
			}
			if err := tx.SaveInode(ctx, target); err != nil {
				return err
			}
		}
		if _, err := tx.NewVersion(ctx, target, info.Size, string(info.Key), info.Checksums, d.rc.creatorID()); err != nil {
			return err
		}
		bound = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newFile(d.rc, bound, nil, nil, d.inner, d.inner), nil
}

// Mkdir creates a sub-collection. The new inode is tree-owned: it takes
// this directory's owner, no matter who creates it through a share.
func (d *Directory) Mkdir(ctx context.Context, name string) (*Directory, error) {
	if !validName(name) {
		return nil, fmt.Errorf("mkdir %q: %w", name, ErrForbidden)
	}
	if !d.inner.Can(perm.Mkdir) {
		return nil, fmt.Errorf("mkdir %q: %w", name, ErrForbidden)
	}

	taken, err := d.rc.Catalog.HasLiveChild(ctx, d.inode.ID, name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("name %q taken: %w", name, ErrConflict)
	}

	child := &catalog.Inode{
		ParentID: &d.inode.ID,
		OwnerID:  d.inode.OwnerID,
		Type:     catalog.TypeCollection,
		Name:     name,
		Modified: time.Now(),
	}
	err = d.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		return tx.SaveInode(ctx, child)
	})
	if err != nil {
		return nil, err
	}
	return newDirectory(d.rc, child, nil, nil, d.inner, d.inner.Without(perm.IsShared|perm.IsMounted)), nil
}

// CopyTo recursively clones this directory under the target. Name
// collisions resolve via incremental naming; ownership follows the
// destination tree.
func (d *Directory) CopyTo(ctx context.Context, target *Directory, newName string) (Node, error) {
	if newName == "" {
		newName = d.Name()
	}
	if !target.inner.Can(perm.Mkdir) {
		return nil, fmt.Errorf("copy into %q: %w", target.Name(), ErrForbidden)
	}

	// A directory cannot be copied into its own subtree.
	inside, err := VisibleIn(ctx, d.rc, target.inode.ID, d.inode.ID)
	if err != nil {
		return nil, err
	}
	if inside {
		return nil, fmt.Errorf("destination inside source subtree: %w", ErrConflict)
	}

	clone, err := d.cloneInto(ctx, target.inode, newName)
	if err != nil {
		return nil, err
	}
	return newDirectory(d.rc, clone, nil, nil, target.inner, target.inner.Without(perm.IsShared|perm.IsMounted)), nil
}

// cloneInto clones this directory's subtree under destParent. Each node
// is cloned in its own transaction; children follow after their parent.
func (d *Directory) cloneInto(ctx context.Context, destParent *catalog.Inode, name string) (*catalog.Inode, error) {
	freeName, err := IncrementalName(ctx, d.rc, destParent.ID, name)
	if err != nil {
		return nil, err
	}

	clone := &catalog.Inode{
		ParentID: &destParent.ID,
		OwnerID:  destParent.OwnerID,
		Type:     catalog.TypeCollection,
		Name:     freeName,
		Modified: time.Now(),
	}
	err = d.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		return tx.SaveInode(ctx, clone)
	})
	if err != nil {
		return nil, err
	}

	children, err := d.rc.Catalog.Children(ctx, d.inode.ID)
	if err != nil {
		return nil, err
	}
	for i := range children {
		child := &children[i]
		switch child.Type {
		case catalog.TypeCollection:
			sub := newDirectory(d.rc, child, nil, nil, d.inner, d.inner)
			if _, err := sub.cloneInto(ctx, clone, child.Name); err != nil {
				return nil, err
			}
		case catalog.TypeFile:
			f := newFile(d.rc, child, nil, nil, d.inner, d.inner)
			if _, err := f.cloneInto(ctx, clone, child.Name); err != nil {
				return nil, err
			}
		case catalog.TypeLink:
			// Mounts are not copied: a copy of a mount point in another
			// tree would violate share containment.
		}
	}
	return clone, nil
}
