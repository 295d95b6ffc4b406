package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cumulusfs/cumulus/internal/logger"
)

// sweepExpiredLocks drops expired lock rows. It runs once per catalog
// instance, lazily before the first lock-table access; no background
// timer is involved.
func (c *Catalog) sweepExpiredLocks(ctx context.Context) {
	c.lockSweep.Do(func() {
		res := c.handle(ctx).Where("expires < ?", time.Now()).Delete(&InodeLock{})
		if res.Error != nil {
			logger.Warn("failed to sweep expired locks: %v", res.Error)
			return
		}
		if res.RowsAffected > 0 {
			logger.Debug("swept %d expired locks", res.RowsAffected)
		}
	})
}

// CreateLock inserts a lock row. The unique constraint on the token is
// the sole guard against duplicate lock creation under concurrency.
func (c *Catalog) CreateLock(ctx context.Context, l *InodeLock) error {
	c.sweepExpiredLocks(ctx)
	l.Created = time.Now()
	if err := c.handle(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("%w: lock token %q", ErrConflict, l.Token)
	}
	return nil
}

// LockByToken resolves a live lock by token.
func (c *Catalog) LockByToken(ctx context.Context, token string) (*InodeLock, error) {
	c.sweepExpiredLocks(ctx)
	var l InodeLock
	err := c.handle(ctx).
		Where("token = ? AND expires >= ?", token, time.Now()).
		First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lock %q: %w", token, ErrNotFound)
		}
		return nil, err
	}
	return &l, nil
}

// LocksFor lists live locks on any of the given inodes.
func (c *Catalog) LocksFor(ctx context.Context, inodeIDs []uint64) ([]InodeLock, error) {
	c.sweepExpiredLocks(ctx)
	if len(inodeIDs) == 0 {
		return nil, nil
	}
	var rows []InodeLock
	err := c.handle(ctx).
		Where("inode_id IN ? AND expires >= ?", inodeIDs, time.Now()).
		Find(&rows).Error
	return rows, err
}

// RefreshLock extends a lock's expiry.
func (c *Catalog) RefreshLock(ctx context.Context, token string, expires time.Time) error {
	res := c.handle(ctx).Model(&InodeLock{}).
		Where("token = ?", token).
		Update("expires", expires)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("lock %q: %w", token, ErrNotFound)
	}
	return nil
}

// DeleteLock releases a lock by token.
func (c *Catalog) DeleteLock(ctx context.Context, token string) error {
	return c.handle(ctx).Where("token = ?", token).Delete(&InodeLock{}).Error
}
