// Package catalog implements the relational catalog behind the virtual
// filesystem: the inode tree, file versions, shares, properties, WebDAV
// locks, chunked uploads and the thumbnail cache.
//
// The schema is part of the compatibility contract (sync clients depend
// on etag derivation, and the admin tooling on the table layout), so
// every model pins its table and column names explicitly instead of
// relying on GORM defaults.
package catalog

import (
	"encoding/json"
	"time"
)

// InodeType discriminates the three node kinds in the tree.
type InodeType string

const (
	// TypeCollection is a directory.
	TypeCollection InodeType = "collection"
	// TypeFile is a regular file with version history.
	TypeFile InodeType = "file"
	// TypeLink is an internal share link: a mount point standing in for
	// another inode elsewhere, subject to a share grant.
	TypeLink InodeType = "link"
)

// Inode is one node of the virtual filesystem tree.
//
// Invariants enforced by this package and pkg/vfs:
//   - the tree has no parent cycles; share links may induce graph cycles
//     which reachability checks guard against
//   - (parent_id, name) is unique among non-deleted siblings
//   - every user has exactly one root (parent_id null)
//   - a link inode never has children or versions
//   - owner_id of non-link inodes is inherited from the parent at
//     creation time, even when created through a share
type Inode struct {
	ID               uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	ParentID         *uint64    `gorm:"column:parent_id;index"`
	OwnerID          *uint64    `gorm:"column:owner_id;index"`
	Type             InodeType  `gorm:"column:type;not null"`
	Name             string     `gorm:"column:name;not null"`
	Deleted          *time.Time `gorm:"column:deleted"`
	Modified         time.Time  `gorm:"column:modified"`
	Size             int64      `gorm:"column:size;not null;default:0"`
	Etag             string     `gorm:"column:etag"`
	CurrentVersionID *uint64    `gorm:"column:current_version_id"`
	LinkTarget       *uint64    `gorm:"column:link_target"`
}

func (Inode) TableName() string { return "inodes" }

// IsDeleted reports whether the inode is in trash.
func (n *Inode) IsDeleted() bool { return n.Deleted != nil }

// OwnedBy reports whether the inode is tree-owned by the given user.
func (n *Inode) OwnedBy(userID uint64) bool {
	return n.OwnerID != nil && *n.OwnerID == userID
}

// FileVersion is one historical content binding of a file inode. The
// inode's current_version_id selects the live version.
type FileVersion struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	InodeID   uint64    `gorm:"column:inode_id;index;not null"`
	Created   time.Time `gorm:"column:created"`
	CreatorID *uint64   `gorm:"column:creator_id"`
	Size      int64     `gorm:"column:size;not null;default:0"`
	Object    string    `gorm:"column:object;not null"`
	Name      *string   `gorm:"column:name"`
	Hashes    string    `gorm:"column:hashes"`
}

func (FileVersion) TableName() string { return "file_versions" }

// SetHashes serializes per-algorithm digests into the hashes column.
func (v *FileVersion) SetHashes(sums map[string]string) {
	if len(sums) == 0 {
		v.Hashes = ""
		return
	}
	data, err := json.Marshal(sums)
	if err != nil {
		return
	}
	v.Hashes = string(data)
}

// GetHashes deserializes the hashes column; missing or malformed data
// yields an empty map.
func (v *FileVersion) GetHashes() map[string]string {
	sums := make(map[string]string)
	if v.Hashes != "" {
		_ = json.Unmarshal([]byte(v.Hashes), &sums)
	}
	return sums
}

// Named reports whether a human assigned a label to this version.
// Named versions are exempt from retention expiry.
func (v *FileVersion) Named() bool {
	return v.Name != nil && *v.Name != ""
}

// InodeShare is a sharing grant on an inode. One inode may carry several
// shares, e.g. one user-directed and one public link.
type InodeShare struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	InodeID      uint64    `gorm:"column:inode_id;index;not null"`
	SharerID     *uint64   `gorm:"column:sharer_id"`
	Modified     time.Time `gorm:"column:modified"`
	Permissions  string    `gorm:"column:permissions;not null"`
	Token        *string   `gorm:"column:token;uniqueIndex"`
	Password     *string   `gorm:"column:password"`
	Presentation *string   `gorm:"column:presentation"`
}

func (InodeShare) TableName() string { return "inode_shares" }

// Public reports whether the share is reachable by link token.
func (s *InodeShare) Public() bool { return s.Token != nil && *s.Token != "" }

// InodeProp is an arbitrary named property attached to an inode, used
// for protocol-level custom metadata.
type InodeProp struct {
	ID      uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	InodeID uint64 `gorm:"column:inode_id;uniqueIndex:idx_inode_prop;not null"`
	Name    string `gorm:"column:name;uniqueIndex:idx_inode_prop;not null"`
	Type    string `gorm:"column:type"`
	Value   string `gorm:"column:value"`
}

func (InodeProp) TableName() string { return "inode_props" }

// Lock depth constants per the WebDAV model.
const (
	LockDepthShallow = 0
	LockDepthDeep    = 1
)

// InodeLock is an advisory WebDAV lock. Expired locks are lazily purged
// before the first lock-table access of a catalog instance.
type InodeLock struct {
	ID      uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	InodeID uint64    `gorm:"column:inode_id;index;not null"`
	Token   string    `gorm:"column:token;uniqueIndex;not null"`
	Created time.Time `gorm:"column:created"`
	Expires time.Time `gorm:"column:expires"`
	Depth   int       `gorm:"column:depth;not null;default:0"`
	Scope   string    `gorm:"column:scope"`
	Owner   string    `gorm:"column:owner"`
}

func (InodeLock) TableName() string { return "inode_locks" }

// ChunkedUpload is an in-progress multi-part upload. NumParts is set by
// the V1 protocol (fixed part count), TotalLength by V2 (declared byte
// length, parts counted on the fly).
type ChunkedUpload struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	TransferID  string    `gorm:"column:transfer_id;uniqueIndex;not null"`
	Started     time.Time `gorm:"column:started"`
	NumParts    *int      `gorm:"column:num_parts"`
	TotalLength *int64    `gorm:"column:total_length"`
}

func (ChunkedUpload) TableName() string { return "chunked_uploads" }

// ChunkedUploadPart is one received part of a chunked upload, backed by
// its own storage object until assembly.
type ChunkedUploadPart struct {
	ID       uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	UploadID uint64 `gorm:"column:upload_id;uniqueIndex:idx_upload_part;not null"`
	Part     int    `gorm:"column:part;uniqueIndex:idx_upload_part;not null"`
	Size     int64  `gorm:"column:size;not null;default:0"`
	Object   string `gorm:"column:object;not null"`
}

func (ChunkedUploadPart) TableName() string { return "chunked_upload_parts" }

// Thumbnail caches a derived preview object for a source object.
type Thumbnail struct {
	ID          uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	ForObject   string `gorm:"column:for_object;index;not null"`
	Width       int    `gorm:"column:width;not null"`
	Height      int    `gorm:"column:height;not null"`
	ContentType string `gorm:"column:content_type"`
	Object      string `gorm:"column:object;not null"`
}

func (Thumbnail) TableName() string { return "thumbnails" }
