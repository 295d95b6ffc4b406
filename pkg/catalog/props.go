package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// SetProp upserts a named property on an inode. Properties are unique
// per (inode, name); re-setting replaces type and value.
func (c *Catalog) SetProp(ctx context.Context, inodeID uint64, name, propType, value string) error {
	var existing InodeProp
	err := c.handle(ctx).
		Where("inode_id = ? AND name = ?", inodeID, name).
		First(&existing).Error

	switch {
	case err == nil:
		existing.Type = propType
		existing.Value = value
		return c.handle(ctx).Save(&existing).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		prop := InodeProp{InodeID: inodeID, Name: name, Type: propType, Value: value}
		if err := c.handle(ctx).Create(&prop).Error; err != nil {
			return fmt.Errorf("failed to set property %q: %w", name, err)
		}
		return nil
	default:
		return err
	}
}

// GetProp returns a property, or ErrNotFound.
func (c *Catalog) GetProp(ctx context.Context, inodeID uint64, name string) (*InodeProp, error) {
	var prop InodeProp
	err := c.handle(ctx).
		Where("inode_id = ? AND name = ?", inodeID, name).
		First(&prop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("property %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &prop, nil
}

// PropsOf lists every property of an inode.
func (c *Catalog) PropsOf(ctx context.Context, inodeID uint64) ([]InodeProp, error) {
	var rows []InodeProp
	err := c.handle(ctx).Where("inode_id = ?", inodeID).Find(&rows).Error
	return rows, err
}

// DeleteProp removes a property; deleting a missing one is a no-op.
func (c *Catalog) DeleteProp(ctx context.Context, inodeID uint64, name string) error {
	return c.handle(ctx).
		Where("inode_id = ? AND name = ?", inodeID, name).
		Delete(&InodeProp{}).Error
}
