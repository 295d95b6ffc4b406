package vfs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cumulusfs/cumulus/pkg/catalog"
)

// maxNameAttempts bounds the incremental-name search.
const maxNameAttempts = 1000

// VisibleIn reports whether inodeID is reachable from ancestorID.
//
// The walk follows parent pointers upward, and additionally jumps from
// every visited inode to each link inode mounting it: a shared folder is
// visible wherever any of its mounts is. Shares can form cycles, so the
// walk is an iterative worklist with a visited set, never recursion.
//
// Inodes vanishing mid-walk (concurrent hard delete) are skipped.
func VisibleIn(ctx context.Context, rc *Context, inodeID, ancestorID uint64) (bool, error) {
	visited := make(map[uint64]bool)
	queue := []uint64{inodeID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == ancestorID {
			return true, nil
		}
		if visited[id] {
			continue
		}
		visited[id] = true

		n, err := rc.Catalog.InodeByID(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return false, err
		}

		if n.ParentID != nil {
			queue = append(queue, *n.ParentID)
		}

		links, err := rc.Catalog.LinksMounting(ctx, id)
		if err != nil {
			return false, err
		}
		for i := range links {
			queue = append(queue, links[i].ID)
		}
	}
	return false, nil
}

// reachableUp collects every inode id visible from inodeID upward,
// itself included: the parent chain plus every mount point chain. Used
// for lock coverage.
func reachableUp(ctx context.Context, rc *Context, inodeID uint64) ([]uint64, error) {
	visited := make(map[uint64]bool)
	var ids []uint64
	queue := []uint64{inodeID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		ids = append(ids, id)

		n, err := rc.Catalog.InodeByID(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if n.ParentID != nil {
			queue = append(queue, *n.ParentID)
		}
		links, err := rc.Catalog.LinksMounting(ctx, id)
		if err != nil {
			return nil, err
		}
		for i := range links {
			queue = append(queue, links[i].ID)
		}
	}
	return ids, nil
}

// IncrementalName returns the desired name if free in the parent, or the
// first free " (n)" variant, with the suffix inserted before the file
// extension. After maxNameAttempts variants the search gives up with
// ErrConflict rather than looping on pathological directories.
func IncrementalName(ctx context.Context, rc *Context, parentID uint64, name string) (string, error) {
	taken, err := rc.Catalog.HasLiveChild(ctx, parentID, name)
	if err != nil {
		return "", err
	}
	if !taken {
		return name, nil
	}

	base, ext := splitExtension(name)
	for n := 1; n <= maxNameAttempts; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		taken, err := rc.Catalog.HasLiveChild(ctx, parentID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %q: %w", name, ErrConflict)
}

// splitExtension separates the final extension; a leading dot is part of
// the base name, not an extension.
func splitExtension(name string) (base, ext string) {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}

// StrictPath walks parents accumulating display names into a path rooted
// at the owner's tree root. The walk aborts with ErrNotFound the instant
// ownership changes along the chain: the result is only meaningful
// strictly within one owner's tree, never through shares.
func StrictPath(ctx context.Context, rc *Context, inodeID uint64) (string, error) {
	n, err := rc.Catalog.InodeByID(ctx, inodeID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return "", fmt.Errorf("inode %d: %w", inodeID, ErrNotFound)
		}
		return "", err
	}
	owner := n.OwnerID

	var parts []string
	for n.ParentID != nil {
		parts = append(parts, n.Name)
		n, err = rc.Catalog.InodeByID(ctx, *n.ParentID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return "", fmt.Errorf("broken chain above %d: %w", inodeID, ErrNotFound)
			}
			return "", err
		}
		if owner == nil || n.OwnerID == nil || *n.OwnerID != *owner {
			return "", fmt.Errorf("path of %d crosses owners: %w", inodeID, ErrNotFound)
		}
	}

	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	if b.Len() == 0 {
		return "/", nil
	}
	return b.String(), nil
}

// QualifiedName renders a trash entry name that stays unique among
// several trashed rows sharing a display name: "name.d<id>".
func QualifiedName(n *catalog.Inode) string {
	return fmt.Sprintf("%s.d%d", n.Name, n.ID)
}

// ParseQualifiedName splits a possibly qualified name back into display
// name and inode id. Plain names return a nil id.
func ParseQualifiedName(name string) (string, *uint64) {
	i := strings.LastIndex(name, ".d")
	if i <= 0 {
		return name, nil
	}
	id, err := strconv.ParseUint(name[i+2:], 10, 64)
	if err != nil || id == 0 {
		return name, nil
	}
	return name[:i], &id
}
