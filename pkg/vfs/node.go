package vfs

import (
	"context"
	"fmt"
	"time"

	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/perm"
)

// Node is the protocol-facing view of a resolved inode. The set of
// implementations is closed: Directory and File. Share links never
// surface as nodes; they are resolved away at construction time.
type Node interface {
	Inode() *catalog.Inode
	Name() string
	Size() int64
	Etag() string
	Modified() time.Time
	IsDir() bool

	// Perms is what the viewer may do to this node itself: rename, move
	// or delete the mount point as they see it.
	Perms() perm.PermSet
	// InnerPerms is what the viewer may do to content inside this node:
	// add files, create collections, write.
	InnerPerms() perm.PermSet
	// InheritPerms narrows both permission sets against a declared outer
	// set. Used when grafting a node under a synthetic root.
	InheritPerms(declared perm.PermSet)

	Rename(ctx context.Context, newName string) error
	Delete(ctx context.Context) error
	Move(ctx context.Context, target *Directory, newName string) error

	sealed()
}

// node is the state shared by Directory and File. inode is the resolved
// target; link is the mount-point inode when the node was reached
// through a share, nil otherwise.
type node struct {
	rc    *Context
	inode *catalog.Inode
	link  *catalog.Inode
	share *catalog.InodeShare
	outer perm.PermSet
	inner perm.PermSet
}

func (n *node) sealed() {}

func (n *node) Inode() *catalog.Inode { return n.inode }

// treeInode is the inode that mount-point operations act on: the link
// row in the viewer's tree for mounted nodes, the inode itself otherwise.
func (n *node) treeInode() *catalog.Inode {
	if n.link != nil {
		return n.link
	}
	return n.inode
}

// Name is the node's display name as the viewer sees it, which for a
// mount is the link's name in the viewer's tree, not the target's.
func (n *node) Name() string { return n.treeInode().Name }

func (n *node) Size() int64 { return n.inode.Size }

func (n *node) Etag() string { return n.inode.Etag }

func (n *node) Modified() time.Time { return n.inode.Modified }

func (n *node) Perms() perm.PermSet { return n.outer }

func (n *node) InnerPerms() perm.PermSet { return n.inner }

func (n *node) InheritPerms(declared perm.PermSet) {
	n.outer = n.outer.Inherit(declared)
	n.inner = n.inner.Inherit(declared)
}

// Rename changes the node's name in place. The (parent, name) slot must
// be free among live siblings.
func (n *node) Rename(ctx context.Context, newName string) error {
	if !n.outer.Can(perm.Rename) {
		return fmt.Errorf("rename %q: %w", n.Name(), ErrForbidden)
	}
	if !validName(newName) {
		return fmt.Errorf("rename to %q: %w", newName, ErrForbidden)
	}

	target := n.treeInode()
	if target.ParentID != nil {
		taken, err := n.rc.Catalog.HasLiveChild(ctx, *target.ParentID, newName)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("name %q taken: %w", newName, ErrConflict)
		}
	}

	return n.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		target.Name = newName
		target.Modified = time.Now()
		return tx.SaveInode(ctx, target)
	})
}

// Delete moves the node to trash and cascades the content change to the
// parent. Deleting a mount removes the link from the viewer's tree; the
// shared content is untouched.
func (n *node) Delete(ctx context.Context) error {
	if !n.outer.Can(perm.Delete) {
		return fmt.Errorf("delete %q: %w", n.Name(), ErrForbidden)
	}

	target := n.treeInode()
	return n.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		if _, err := tx.SetDeleted(ctx, target, true); err != nil {
			return err
		}
		return cascadeToParent(ctx, tx, target)
	})
}

// Move reparents the node. All preconditions are checked before any
// mutation so a failed move is side-effect free.
func (n *node) Move(ctx context.Context, target *Directory, newName string) error {
	if newName == "" {
		newName = n.Name()
	}
	if !validName(newName) {
		return fmt.Errorf("move to %q: %w", newName, ErrForbidden)
	}
	if !n.outer.Can(perm.Move) {
		return fmt.Errorf("move %q: %w", n.Name(), ErrForbidden)
	}

	moved := n.treeInode()
	needed := perm.AddFile
	if moved.Type != catalog.TypeFile {
		needed = perm.Mkdir
	}
	if !target.inner.Can(needed) {
		return fmt.Errorf("move into %q: %w", target.Name(), ErrForbidden)
	}

	// No tree loops: the destination must not live inside the moved
	// subtree, not even through a share mount of it.
	if moved.Type != catalog.TypeFile {
		inside, err := VisibleIn(ctx, n.rc, target.inode.ID, moved.ID)
		if err != nil {
			return err
		}
		if inside {
			return fmt.Errorf("destination inside source subtree: %w", ErrConflict)
		}
	}

	// A received share stays within its owner's tree.
	if moved.Type == catalog.TypeLink {
		destOwner := target.inode.OwnerID
		if moved.OwnerID == nil || destOwner == nil || *moved.OwnerID != *destOwner {
			return fmt.Errorf("mount cannot leave its owner's tree: %w", ErrForbidden)
		}
	}

	taken, err := n.rc.Catalog.HasLiveChild(ctx, target.inode.ID, newName)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("name %q taken in destination: %w", newName, ErrConflict)
	}

	oldParentID := moved.ParentID
	return n.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		moved.ParentID = &target.inode.ID
		moved.Name = newName
		moved.Modified = time.Now()
		if err := tx.SaveInode(ctx, moved); err != nil {
			return err
		}
		if oldParentID == nil {
			return nil
		}
		oldParent, err := tx.InodeByID(ctx, *oldParentID)
		if err != nil {
			return err
		}
		return tx.ContentChanged(ctx, oldParent, true)
	})
}

// cascadeToParent recomputes and persists the parent's etag after a
// structural change to one of its children.
func cascadeToParent(ctx context.Context, tx *catalog.Catalog, n *catalog.Inode) error {
	if n.ParentID == nil {
		return nil
	}
	parent, err := tx.InodeByID(ctx, *n.ParentID)
	if err != nil {
		return err
	}
	return tx.ContentChanged(ctx, parent, true)
}

// validName rejects names that cannot exist in the tree.
func validName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	for _, c := range name {
		if c == '/' || c == 0 {
			return false
		}
	}
	return true
}
