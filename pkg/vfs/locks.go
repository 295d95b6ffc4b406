package vfs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/perm"
)

// LockSpec is what a LOCK request declares.
type LockSpec struct {
	// Depth is catalog.LockDepthShallow or catalog.LockDepthDeep. A deep
	// lock covers the whole subtree below the locked collection.
	Depth   int
	Scope   string
	Owner   string
	Timeout time.Duration
}

// Lock places an advisory lock on the node. The unique constraint on
// the token is the sole guard against duplicate creation; no in-process
// coordination is involved.
func (n *node) Lock(ctx context.Context, spec LockSpec) (*catalog.InodeLock, error) {
	if !n.inner.Can(perm.Write) {
		return nil, fmt.Errorf("lock %q: %w", n.Name(), ErrForbidden)
	}
	if spec.Timeout <= 0 {
		spec.Timeout = time.Hour
	}

	l := &catalog.InodeLock{
		InodeID: n.inode.ID,
		Token:   "opaquelocktoken:" + uuid.NewString(),
		Expires: time.Now().Add(spec.Timeout),
		Depth:   spec.Depth,
		Scope:   spec.Scope,
		Owner:   spec.Owner,
	}
	if err := n.rc.Catalog.CreateLock(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// RefreshLock extends a held lock.
func (rc *Context) RefreshLock(ctx context.Context, token string, timeout time.Duration) (*catalog.InodeLock, error) {
	if timeout <= 0 {
		timeout = time.Hour
	}
	if err := rc.Catalog.RefreshLock(ctx, token, time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	return rc.Catalog.LockByToken(ctx, token)
}

// Unlock releases a lock by token. Releasing an unknown or expired
// token is a no-op.
func (rc *Context) Unlock(ctx context.Context, token string) error {
	return rc.Catalog.DeleteLock(ctx, token)
}

// LocksCovering returns the live locks that apply to an inode: locks on
// the inode itself plus deep locks on anything it is visible in, which
// includes ancestors reached only through a share mount.
func (rc *Context) LocksCovering(ctx context.Context, inodeID uint64) ([]catalog.InodeLock, error) {
	ids, err := reachableUp(ctx, rc, inodeID)
	if err != nil {
		return nil, err
	}

	locks, err := rc.Catalog.LocksFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	covering := locks[:0]
	for _, l := range locks {
		if l.InodeID == inodeID || l.Depth == catalog.LockDepthDeep {
			covering = append(covering, l)
		}
	}
	return covering, nil
}
