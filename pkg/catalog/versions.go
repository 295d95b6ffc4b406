package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// NewVersion creates a version row for a file inode, binds it as the
// current version and persists the inode with cascade. Must run inside
// an ambient transaction.
func (c *Catalog) NewVersion(ctx context.Context, n *Inode, size int64, object string, hashes map[string]string, creatorID *uint64) (*FileVersion, error) {
	if n.Type != TypeFile {
		return nil, fmt.Errorf("inode %d is not a file", n.ID)
	}

	v := &FileVersion{
		InodeID:   n.ID,
		Created:   time.Now(),
		CreatorID: creatorID,
		Size:      size,
		Object:    object,
	}
	v.SetHashes(hashes)

	if err := c.handle(ctx).Create(v).Error; err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	n.CurrentVersionID = &v.ID
	n.Size = size
	if err := c.ContentChanged(ctx, n, true); err != nil {
		return nil, err
	}
	return v, nil
}

// VersionsOf returns the versions of a file, newest first.
func (c *Catalog) VersionsOf(ctx context.Context, inodeID uint64) ([]FileVersion, error) {
	var rows []FileVersion
	err := c.handle(ctx).
		Where("inode_id = ?", inodeID).
		Order("created DESC, id DESC").
		Find(&rows).Error
	return rows, err
}

// VersionByID loads one version row.
func (c *Catalog) VersionByID(ctx context.Context, id uint64) (*FileVersion, error) {
	var v FileVersion
	if err := c.handle(ctx).First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("version %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &v, nil
}

// DeleteVersionRow removes one version row. The backing object is the
// caller's concern (reference-counted removal).
func (c *Catalog) DeleteVersionRow(ctx context.Context, id uint64) error {
	return c.handle(ctx).Delete(&FileVersion{}, id).Error
}
