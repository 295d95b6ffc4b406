package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CreateShare persists a new share grant on an inode.
func (c *Catalog) CreateShare(ctx context.Context, s *InodeShare) error {
	s.Modified = time.Now()
	if err := c.handle(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}
	return nil
}

// SaveShare persists changes to an existing share, bumping modified.
func (c *Catalog) SaveShare(ctx context.Context, s *InodeShare) error {
	s.Modified = time.Now()
	return c.handle(ctx).Save(s).Error
}

// ShareByID loads one share row.
func (c *Catalog) ShareByID(ctx context.Context, id uint64) (*InodeShare, error) {
	var s InodeShare
	if err := c.handle(ctx).First(&s, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("share %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

// ShareByToken resolves a public share by its link token.
func (c *Catalog) ShareByToken(ctx context.Context, token string) (*InodeShare, error) {
	var s InodeShare
	if err := c.handle(ctx).Where("token = ?", token).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("share token %q: %w", token, ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

// SharesOf lists every share grant on one inode.
func (c *Catalog) SharesOf(ctx context.Context, inodeID uint64) ([]InodeShare, error) {
	var rows []InodeShare
	err := c.handle(ctx).Where("inode_id = ?", inodeID).Find(&rows).Error
	return rows, err
}

// SharesReferencing lists shares targeting any of the given inodes.
func (c *Catalog) SharesReferencing(ctx context.Context, inodeIDs []uint64) ([]InodeShare, error) {
	if len(inodeIDs) == 0 {
		return nil, nil
	}
	var rows []InodeShare
	err := c.handle(ctx).Where("inode_id IN ?", inodeIDs).Find(&rows).Error
	return rows, err
}

// LinksToShare lists the link inodes pointing at one share.
func (c *Catalog) LinksToShare(ctx context.Context, shareID uint64) ([]Inode, error) {
	var rows []Inode
	err := c.handle(ctx).
		Where("type = ? AND link_target = ?", TypeLink, shareID).
		Find(&rows).Error
	return rows, err
}

// LinksMounting lists the link inodes that mount the given inode, via
// any of its shares.
func (c *Catalog) LinksMounting(ctx context.Context, inodeID uint64) ([]Inode, error) {
	var rows []Inode
	err := c.handle(ctx).
		Where("type = ? AND link_target IN (?)", TypeLink,
			c.handle(ctx).Model(&InodeShare{}).Select("id").Where("inode_id = ?", inodeID)).
		Find(&rows).Error
	return rows, err
}

// DeleteShare removes a share grant and cascades to every link inode
// pointing at it: a mount without its grant is meaningless.
func (c *Catalog) DeleteShare(ctx context.Context, s *InodeShare) error {
	links, err := c.LinksToShare(ctx, s.ID)
	if err != nil {
		return err
	}
	for _, link := range links {
		if err := c.PurgeInodeRefs(ctx, link.ID); err != nil {
			return err
		}
		if err := c.DeleteInodeRow(ctx, link.ID); err != nil {
			return err
		}
	}
	if err := c.handle(ctx).Delete(&InodeShare{}, s.ID).Error; err != nil {
		return fmt.Errorf("failed to delete share %d: %w", s.ID, err)
	}
	return nil
}
