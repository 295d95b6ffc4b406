package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GetOrCreateUpload resolves the upload record for a transfer id,
// creating it on first use. Concurrent first-parts racing on the same
// transfer are resolved by the unique constraint on transfer_id: the
// losing insert re-reads the winner's row.
func (c *Catalog) GetOrCreateUpload(ctx context.Context, transferID string, numParts *int, totalLength *int64) (*ChunkedUpload, error) {
	var u ChunkedUpload
	err := c.handle(ctx).Where("transfer_id = ?", transferID).First(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	u = ChunkedUpload{
		TransferID:  transferID,
		Started:     time.Now(),
		NumParts:    numParts,
		TotalLength: totalLength,
	}
	if err := c.handle(ctx).Create(&u).Error; err != nil {
		// Lost the insert race; the row must exist now.
		var won ChunkedUpload
		if ferr := c.handle(ctx).Where("transfer_id = ?", transferID).First(&won).Error; ferr == nil {
			return &won, nil
		}
		return nil, fmt.Errorf("failed to create upload %q: %w", transferID, err)
	}
	return &u, nil
}

// UpsertPart records a received part. Re-sending a part number replaces
// the previous row; the old object key is returned so the caller can
// free its bytes.
func (c *Catalog) UpsertPart(ctx context.Context, uploadID uint64, part int, size int64, object string) (string, error) {
	var existing ChunkedUploadPart
	err := c.handle(ctx).
		Where("upload_id = ? AND part = ?", uploadID, part).
		First(&existing).Error

	switch {
	case err == nil:
		old := existing.Object
		existing.Size = size
		existing.Object = object
		if err := c.handle(ctx).Save(&existing).Error; err != nil {
			return "", err
		}
		if old == object {
			return "", nil
		}
		return old, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := ChunkedUploadPart{UploadID: uploadID, Part: part, Size: size, Object: object}
		if err := c.handle(ctx).Create(&row).Error; err != nil {
			return "", fmt.Errorf("failed to record part %d: %w", part, err)
		}
		return "", nil
	default:
		return "", err
	}
}

// Parts returns the received parts of an upload in part order.
func (c *Catalog) Parts(ctx context.Context, uploadID uint64) ([]ChunkedUploadPart, error) {
	var rows []ChunkedUploadPart
	err := c.handle(ctx).
		Where("upload_id = ?", uploadID).
		Order("part").
		Find(&rows).Error
	return rows, err
}

// CountParts counts the received parts of an upload.
func (c *Catalog) CountParts(ctx context.Context, uploadID uint64) (int, error) {
	var count int64
	err := c.handle(ctx).Model(&ChunkedUploadPart{}).
		Where("upload_id = ?", uploadID).
		Count(&count).Error
	return int(count), err
}

// DeleteUpload removes the upload record and its part rows. Backing
// objects are the caller's concern.
func (c *Catalog) DeleteUpload(ctx context.Context, uploadID uint64) error {
	if err := c.handle(ctx).Where("upload_id = ?", uploadID).Delete(&ChunkedUploadPart{}).Error; err != nil {
		return err
	}
	return c.handle(ctx).Delete(&ChunkedUpload{}, uploadID).Error
}

// StaleUploads lists uploads started before the cutoff, candidates for
// garbage collection.
func (c *Catalog) StaleUploads(ctx context.Context, cutoff time.Time) ([]ChunkedUpload, error) {
	var rows []ChunkedUpload
	err := c.handle(ctx).Where("started < ?", cutoff).Find(&rows).Error
	return rows, err
}
