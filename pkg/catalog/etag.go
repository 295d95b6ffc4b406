package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Etag derivation is part of the wire contract: sync clients compare
// etags across requests and across mount points, so the rules below must
// stay stable.
//
//   - Collection: hash of (id, sorted list of non-deleted children etags)
//   - File:       hash of (id, current version size, version object key)
//   - Link:       identical to the etag of the resolved target, so that
//     shares are transparent for caching purposes
//
// An unsaved inode has no id yet; its etag is a hash over the field
// values, good enough for change detection but not stable.

func etagHash(parts ...string) string {
	h := sha1.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeEtag derives the inode's etag from current catalog state.
func (c *Catalog) ComputeEtag(ctx context.Context, n *Inode) (string, error) {
	if n.ID == 0 {
		return c.unsavedEtag(n), nil
	}

	switch n.Type {
	case TypeCollection:
		var childEtags []string
		err := c.handle(ctx).Model(&Inode{}).
			Where("parent_id = ? AND deleted IS NULL", n.ID).
			Pluck("etag", &childEtags).Error
		if err != nil {
			return "", fmt.Errorf("failed to load child etags of %d: %w", n.ID, err)
		}
		sort.Strings(childEtags)
		return etagHash(append([]string{fmt.Sprint(n.ID)}, childEtags...)...), nil

	case TypeFile:
		if n.CurrentVersionID == nil {
			return etagHash(fmt.Sprint(n.ID)), nil
		}
		var v FileVersion
		if err := c.handle(ctx).First(&v, *n.CurrentVersionID).Error; err != nil {
			return "", fmt.Errorf("failed to load version %d: %w", *n.CurrentVersionID, err)
		}
		return etagHash(fmt.Sprint(n.ID), fmt.Sprint(v.Size), v.Object), nil

	case TypeLink:
		_, target, err := c.LinkInfo(ctx, n)
		if err != nil {
			return "", err
		}
		if target == nil {
			// Dangling link: keep a stable placeholder rather than fail.
			return etagHash(fmt.Sprint(n.ID), "dangling"), nil
		}
		return target.Etag, nil

	default:
		return "", fmt.Errorf("unknown inode type %q", n.Type)
	}
}

// unsavedEtag hashes the not-yet-persisted field values.
func (c *Catalog) unsavedEtag(n *Inode) string {
	parent, owner := uint64(0), uint64(0)
	if n.ParentID != nil {
		parent = *n.ParentID
	}
	if n.OwnerID != nil {
		owner = *n.OwnerID
	}
	return etagHash("unsaved", string(n.Type), n.Name,
		fmt.Sprint(parent), fmt.Sprint(owner), fmt.Sprint(n.Size))
}
