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

// File is a resolved file node.
type File struct {
	node
}

// IsDir reports false for files.
func (f *File) IsDir() bool { return false }

// currentVersion loads the live version row. A file without one reads
// as empty, which only happens transiently between inode creation and
// the first version bind.
func (f *File) currentVersion(ctx context.Context) (*catalog.FileVersion, error) {
	if f.inode.CurrentVersionID == nil {
		return nil, fmt.Errorf("file %d has no content: %w", f.inode.ID, ErrNotFound)
	}
	return f.rc.Catalog.VersionByID(ctx, *f.inode.CurrentVersionID)
}

// Open returns the byte stream of the current version.
func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	v, err := f.currentVersion(ctx)
	if err != nil {
		return nil, err
	}
	r, err := f.rc.Store.OpenReader(ctx, storage.Key(v.Object))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("object %s: %w", v.Object, ErrNotFound)
		}
		return nil, err
	}
	return r, nil
}

// Put replaces the file's content with a new version. The blob is
// stored before the metadata transaction, same as Directory.CreateFile.
func (f *File) Put(ctx context.Context, src io.Reader, declaredLength int64, declaredChecksum string) error {
	// Content mutations answer to the inner permissions: the outer set
	// governs the mount point itself and drops Write across a mount
	// boundary, inner carries the grant through to the target's content.
	if !f.inner.Can(perm.Write) {
		return fmt.Errorf("write %q: %w", f.Name(), ErrForbidden)
	}

	info, err := f.rc.Store.StoreNewObject(ctx, src)
	if err != nil {
		return err
	}
	if err := f.rc.ValidateLength(declaredLength, info.Size); err != nil {
		f.rc.discardObject(ctx, info.Key)
		return err
	}
	if err := f.rc.ValidateChecksum(declaredChecksum, info.Checksums); err != nil {
		f.rc.discardObject(ctx, info.Key)
		return err
	}

	err = f.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		_, err := tx.NewVersion(ctx, f.inode, info.Size, string(info.Key), info.Checksums, f.rc.creatorID())
		return err
	})
	if err != nil {
		f.rc.discardObject(ctx, info.Key)
		return err
	}
	return nil
}

// Versions lists the file's version history, newest first.
func (f *File) Versions(ctx context.Context) ([]catalog.FileVersion, error) {
	return f.rc.Catalog.VersionsOf(ctx, f.inode.ID)
}

// RestoreVersion makes an old version current again by binding a fresh
// version row to the same object. History stays append-only; nothing is
// rewritten.
func (f *File) RestoreVersion(ctx context.Context, versionID uint64) error {
	if !f.inner.Can(perm.Write) {
		return fmt.Errorf("restore %q: %w", f.Name(), ErrForbidden)
	}

	v, err := f.rc.Catalog.VersionByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("version %d: %w", versionID, ErrNotFound)
		}
		return err
	}
	if v.InodeID != f.inode.ID {
		return fmt.Errorf("version %d belongs to another file: %w", versionID, ErrForbidden)
	}

	return f.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		_, err := tx.NewVersion(ctx, f.inode, v.Size, v.Object, v.GetHashes(), f.rc.creatorID())
		return err
	})
}

// DeleteVersion drops one historical version and reclaims its object if
// this was the last reference. The current version cannot be deleted.
func (f *File) DeleteVersion(ctx context.Context, versionID uint64) error {
	if !f.inner.Can(perm.Write) {
		return fmt.Errorf("prune %q: %w", f.Name(), ErrForbidden)
	}
	if f.inode.CurrentVersionID != nil && *f.inode.CurrentVersionID == versionID {
		return fmt.Errorf("version %d is current: %w", versionID, ErrConflict)
	}

	v, err := f.rc.Catalog.VersionByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("version %d: %w", versionID, ErrNotFound)
		}
		return err
	}
	if v.InodeID != f.inode.ID {
		return fmt.Errorf("version %d belongs to another file: %w", versionID, ErrForbidden)
	}

	// The reference check runs while this version's row still exists: a
	// single remaining reference means it is ours alone and the bytes go.
	if err := f.rc.Store.SafeRemoveObject(ctx, f.rc.Catalog, storage.Key(v.Object)); err != nil {
		return err
	}
	return f.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		return tx.DeleteVersionRow(ctx, versionID)
	})
}

// CopyTo clones the file under the target directory. Only the current
// version travels; the clone's version row points at the same storage
// object, so no bytes are duplicated.
func (f *File) CopyTo(ctx context.Context, target *Directory, newName string) (Node, error) {
	if newName == "" {
		newName = f.Name()
	}
	if !target.inner.Can(perm.AddFile) {
		return nil, fmt.Errorf("copy into %q: %w", target.Name(), ErrForbidden)
	}
	clone, err := f.cloneInto(ctx, target.inode, newName)
	if err != nil {
		return nil, err
	}
	return newFile(f.rc, clone, nil, nil, target.inner, target.inner), nil
}

// cloneInto creates the clone inode and version inside one transaction.
func (f *File) cloneInto(ctx context.Context, destParent *catalog.Inode, name string) (*catalog.Inode, error) {
	v, err := f.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	freeName, err := IncrementalName(ctx, f.rc, destParent.ID, name)
	if err != nil {
		return nil, err
	}

	clone := &catalog.Inode{
		ParentID: &destParent.ID,
		OwnerID:  destParent.OwnerID,
		Type:     catalog.TypeFile,
		Name:     freeName,
		Modified: time.Now(),
	}
	err = f.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		if err := tx.SaveInode(ctx, clone); err != nil {
			return err
		}
		_, err := tx.NewVersion(ctx, clone, v.Size, v.Object, v.GetHashes(), f.rc.creatorID())
		return err
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}
