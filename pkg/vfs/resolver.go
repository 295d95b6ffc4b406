package vfs

import (
	"context"
	"fmt"

	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/perm"
)

// rootDeclared is the permission set pushed down from a user's own tree
// root: full mutation rights plus the right to share onward.
const rootDeclared = perm.DefaultOwned | perm.Reshare

// FromInode turns a catalog row into a protocol-facing node.
//
// Share links are resolved exactly once, here: the returned node is
// bound to the link's target and behaves as its concrete type, while the
// link row is kept so mount-point operations (rename, move, delete of
// the mount itself) act on the viewer's tree. A link whose target is
// another link is rejected; chains are not representable.
//
// declared is the permission set granted by the surrounding context,
// typically the parent's inner set, or rootDeclared at a user's root.
func FromInode(ctx context.Context, rc *Context, n *catalog.Inode, declared perm.PermSet) (Node, error) {
	if n.Type != catalog.TypeLink {
		outer, inner, err := composePlain(ctx, rc, n, declared)
		if err != nil {
			return nil, err
		}
		return construct(rc, n, nil, nil, outer, inner)
	}

	share, target, err := rc.linkInfo(ctx, n)
	if err != nil {
		return nil, err
	}
	if share == nil || target == nil {
		return nil, fmt.Errorf("dangling link %d: %w", n.ID, ErrNotFound)
	}
	if target.Type == catalog.TypeLink {
		return nil, fmt.Errorf("link %d resolves to another link: %w", n.ID, ErrBadRequest)
	}
	if target.IsDeleted() {
		return nil, fmt.Errorf("link %d target trashed: %w", n.ID, ErrNotFound)
	}

	grant := perm.FromString(share.Permissions)

	// Outer: what the viewer may do to the mount point itself. Managing
	// the link in their own tree follows from owning the link; the only
	// capability the grant contributes at this level is reshare.
	outer := composeEffective(rc, n, declared).
		Without(perm.Write | perm.AddFile | perm.Mkdir | perm.Reshare).
		With(grant & perm.Reshare).
		With(perm.IsMounted)

	// Inner: the share's grant, narrowed by the outer context. Crossing
	// the mount can only remove capabilities, never add them.
	inner := grant.Inherit(declared).With(perm.IsMountedSub)

	return construct(rc, target, n, share, outer, inner)
}

// composePlain computes the permission pair for a non-link inode.
func composePlain(ctx context.Context, rc *Context, n *catalog.Inode, declared perm.PermSet) (outer, inner perm.PermSet, err error) {
	outer = composeEffective(rc, n, declared)

	shared, err := rc.isShared(ctx, n.ID)
	if err != nil {
		return 0, 0, err
	}
	if shared {
		outer = outer.With(perm.IsShared)
	}

	// For non-mounted nodes inner equals outer minus the node-local
	// flags. IsMountedSub survives so it keeps propagating to children
	// reached through a mount.
	inner = outer.Without(perm.IsShared | perm.IsMounted)
	return outer, inner, nil
}

// composeEffective narrows the declared set for one inode. Owned inodes
// are never restricted below DefaultOwned: an owner can always manage
// their tree-owned nodes, even through someone else's restrictive mount.
func composeEffective(rc *Context, n *catalog.Inode, declared perm.PermSet) perm.PermSet {
	p := declared
	if rc.Identity.Kind == IdentityUser && n.OwnedBy(rc.Identity.UserID) {
		p = p.With(perm.DefaultOwned)
	}
	return p
}

// construct builds the concrete node type for a resolved target.
func construct(rc *Context, target, link *catalog.Inode, share *catalog.InodeShare, outer, inner perm.PermSet) (Node, error) {
	switch target.Type {
	case catalog.TypeCollection:
		return newDirectory(rc, target, link, share, outer, inner), nil
	case catalog.TypeFile:
		return newFile(rc, target, link, share, outer, inner), nil
	default:
		return nil, fmt.Errorf("unresolvable inode type %q: %w", target.Type, ErrBadRequest)
	}
}

func newDirectory(rc *Context, target, link *catalog.Inode, share *catalog.InodeShare, outer, inner perm.PermSet) *Directory {
	return &Directory{node{rc: rc, inode: target, link: link, share: share, outer: outer, inner: inner}}
}

func newFile(rc *Context, target, link *catalog.Inode, share *catalog.InodeShare, outer, inner perm.PermSet) *File {
	return &File{node{rc: rc, inode: target, link: link, share: share, outer: outer, inner: inner}}
}
