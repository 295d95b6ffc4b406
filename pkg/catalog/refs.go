package catalog

import (
	"context"
	"fmt"
)

// The catalog implements storage.RefCounter: the object store asks it
// how many rows still point at an object before physically removing it.

// CountObjectRefs counts live references to an object key across file
// versions, chunked-upload parts and thumbnails.
func (c *Catalog) CountObjectRefs(ctx context.Context, key string) (int64, error) {
	var total, n int64

	if err := c.handle(ctx).Model(&FileVersion{}).Where("object = ?", key).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count version refs: %w", err)
	}
	total += n

	if err := c.handle(ctx).Model(&ChunkedUploadPart{}).Where("object = ?", key).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count part refs: %w", err)
	}
	total += n

	if err := c.handle(ctx).Model(&Thumbnail{}).Where("object = ?", key).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count thumbnail refs: %w", err)
	}
	return total + n, nil
}

// RemoveThumbnails deletes the thumbnail rows derived from a source
// object and returns the storage keys of the derived objects so the
// caller can remove their bytes.
func (c *Catalog) RemoveThumbnails(ctx context.Context, forObject string) ([]string, error) {
	var rows []Thumbnail
	if err := c.handle(ctx).Where("for_object = ?", forObject).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if err := c.handle(ctx).Where("for_object = ?", forObject).Delete(&Thumbnail{}).Error; err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(rows))
	for _, t := range rows {
		keys = append(keys, t.Object)
	}
	return keys, nil
}

// SaveThumbnail records a derived preview object in the cache.
func (c *Catalog) SaveThumbnail(ctx context.Context, t *Thumbnail) error {
	return c.handle(ctx).Create(t).Error
}

// ThumbnailFor looks up a cached thumbnail of the given dimensions.
func (c *Catalog) ThumbnailFor(ctx context.Context, forObject string, width, height int) (*Thumbnail, error) {
	var t Thumbnail
	err := c.handle(ctx).
		Where("for_object = ? AND width = ? AND height = ?", forObject, width, height).
		First(&t).Error
	if err != nil {
		return nil, fmt.Errorf("thumbnail for %s: %w", forObject, ErrNotFound)
	}
	return &t, nil
}
