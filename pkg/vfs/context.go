// Package vfs maps catalog rows to protocol-facing nodes: it resolves
// share links, composes permissions across ownership and mount
// boundaries, and implements the directory and file behaviors the
// protocol layer dispatches to.
package vfs

import (
	"context"
	"fmt"
	"strings"

	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/perm"
	"github.com/cumulusfs/cumulus/pkg/storage"
)

// IdentityKind discriminates how the current request was authenticated.
type IdentityKind int

const (
	// IdentityUnauthenticated is an anonymous request.
	IdentityUnauthenticated IdentityKind = iota
	// IdentityUser is a logged-in user.
	IdentityUser
	// IdentityShare is a visitor holding a public share token.
	IdentityShare
)

// Identity is the resolved caller, produced by the session collaborator
// before this layer is invoked.
type Identity struct {
	Kind    IdentityKind
	UserID  uint64
	ShareID uint64
}

// Context carries everything one protocol request needs to resolve and
// operate on nodes. The caches are per-request by construction, never
// shared across requests or with background jobs.
type Context struct {
	Catalog  *catalog.Catalog
	Store    *storage.Store
	Identity Identity

	linkCache   map[uint64]linkResolution
	sharedCache map[uint64]bool
	ownerNames  map[uint64]string
}

type linkResolution struct {
	share  *catalog.InodeShare
	target *catalog.Inode
}

// NewContext builds the per-request context.
func NewContext(cat *catalog.Catalog, store *storage.Store, id Identity) *Context {
	return &Context{
		Catalog:     cat,
		Store:       store,
		Identity:    id,
		linkCache:   make(map[uint64]linkResolution),
		sharedCache: make(map[uint64]bool),
		ownerNames:  make(map[uint64]string),
	}
}

// Root resolves the virtual filesystem root for the current identity: a
// user's own tree root, or the target collection of a public share.
func (rc *Context) Root(ctx context.Context) (*Directory, error) {
	switch rc.Identity.Kind {
	case IdentityUser:
		root, err := rc.Catalog.RootFor(ctx, rc.Identity.UserID)
		if err != nil {
			return nil, err
		}
		n, err := FromInode(ctx, rc, root, rootDeclared)
		if err != nil {
			return nil, err
		}
		return n.(*Directory), nil

	case IdentityShare:
		share, err := rc.Catalog.ShareByID(ctx, rc.Identity.ShareID)
		if err != nil {
			return nil, err
		}
		target, err := rc.Catalog.InodeByID(ctx, share.InodeID)
		if err != nil {
			return nil, err
		}
		if target.IsDeleted() {
			return nil, fmt.Errorf("share %d target: %w", share.ID, ErrNotFound)
		}
		if target.Type != catalog.TypeCollection {
			return nil, fmt.Errorf("share %d is not a collection: %w", share.ID, ErrBadRequest)
		}
		grant := perm.FromString(share.Permissions)
		return newDirectory(rc, target, nil, share,
			grant.With(perm.IsMounted),
			grant.With(perm.IsMountedSub)), nil

	default:
		return nil, fmt.Errorf("anonymous access: %w", ErrForbidden)
	}
}

// creatorID is the user id recorded on versions created by this request.
func (rc *Context) creatorID() *uint64 {
	if rc.Identity.Kind == IdentityUser {
		id := rc.Identity.UserID
		return &id
	}
	return nil
}

// ValidateLength checks an assembled or stored size against the length
// the client declared. A negative declared length means none was sent.
func (rc *Context) ValidateLength(declared, actual int64) error {
	if declared >= 0 && declared != actual {
		return fmt.Errorf("declared length %d, stored %d: %w", declared, actual, ErrBadRequest)
	}
	return nil
}

// ValidateChecksum checks a client-declared checksum header of the form
// "ALGORITHM:HEXDIGEST" against the computed digests. The comparison is
// case-insensitive; a declared algorithm the store did not compute is
// silently ignored rather than rejected.
func (rc *Context) ValidateChecksum(header string, sums map[string]string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	alg, want, ok := strings.Cut(header, ":")
	if !ok || alg == "" || want == "" {
		return fmt.Errorf("malformed checksum header %q: %w", header, ErrBadRequest)
	}
	got, ok := sums[strings.ToLower(alg)]
	if !ok {
		return nil
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%s checksum mismatch: %w", strings.ToLower(alg), ErrBadRequest)
	}
	return nil
}

// OwnerName returns the cached display name for a user id, falling back
// to a stable placeholder. The identity collaborator populates the cache
// via CacheOwnerName.
func (rc *Context) OwnerName(userID uint64) string {
	if name, ok := rc.ownerNames[userID]; ok {
		return name
	}
	return fmt.Sprintf("user-%d", userID)
}

// CacheOwnerName records a user's display name for this request.
func (rc *Context) CacheOwnerName(userID uint64, name string) {
	rc.ownerNames[userID] = name
}

// linkInfo resolves a link inode through the per-request cache.
func (rc *Context) linkInfo(ctx context.Context, n *catalog.Inode) (*catalog.InodeShare, *catalog.Inode, error) {
	if res, ok := rc.linkCache[n.ID]; ok {
		return res.share, res.target, nil
	}
	share, target, err := rc.Catalog.LinkInfo(ctx, n)
	if err != nil {
		return nil, nil, err
	}
	rc.linkCache[n.ID] = linkResolution{share: share, target: target}
	return share, target, nil
}

// isShared reports whether an inode carries at least one share grant,
// through the per-request cache.
func (rc *Context) isShared(ctx context.Context, inodeID uint64) (bool, error) {
	if shared, ok := rc.sharedCache[inodeID]; ok {
		return shared, nil
	}
	shares, err := rc.Catalog.SharesOf(ctx, inodeID)
	if err != nil {
		return false, err
	}
	rc.sharedCache[inodeID] = len(shares) > 0
	return len(shares) > 0, nil
}

// discardObject removes a stored object that never made it into a
// version row. The caller holds no reference of its own, so the object
// is removed only when no catalog row references it: rejected content
// that deduplicated onto an existing object belongs to that object's
// owners.
func (rc *Context) discardObject(ctx context.Context, key storage.Key) {
	_ = rc.Store.RemoveUnreferenced(ctx, rc.Catalog, key)
}
