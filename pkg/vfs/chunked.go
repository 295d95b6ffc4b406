package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cumulusfs/cumulus/pkg/catalog"
	"github.com/cumulusfs/cumulus/pkg/perm"
	"github.com/cumulusfs/cumulus/pkg/storage"
)

// chunkMarker separates the file name from the transfer fields in the
// V1 chunked naming convention.
const chunkMarker = "-chunking-"

// ChunkMeta describes one part of a chunked transfer.
//
// V1 encodes everything in the part's name, "name-chunking-transfer-
// count-part": a fixed part count known up front. V2 sends the transfer
// id and a declared total byte length instead; completion is detected by
// accumulated size.
type ChunkMeta struct {
	Name        string
	TransferID  string
	NumParts    *int
	TotalLength *int64
	Part        int
}

// ParseChunkedName parses a V1 chunk name. The three trailing fields are
// numeric; everything before the marker is the target file name.
func ParseChunkedName(raw string) (ChunkMeta, bool) {
	i := strings.LastIndex(raw, chunkMarker)
	if i <= 0 {
		return ChunkMeta{}, false
	}
	name := raw[:i]
	fields := strings.Split(raw[i+len(chunkMarker):], "-")
	if len(fields) != 3 {
		return ChunkMeta{}, false
	}

	transfer := fields[0]
	count, err1 := strconv.Atoi(fields[1])
	part, err2 := strconv.Atoi(fields[2])
	if _, err := strconv.Atoi(transfer); err != nil || err1 != nil || err2 != nil {
		return ChunkMeta{}, false
	}
	if count <= 0 || part < 0 || part >= count {
		return ChunkMeta{}, false
	}

	return ChunkMeta{Name: name, TransferID: "v1-" + transfer + "-" + name, NumParts: &count, Part: part}, true
}

// IsChunkedName reports whether a PUT name addresses a V1 chunk.
func IsChunkedName(raw string) bool {
	_, ok := ParseChunkedName(raw)
	return ok
}

// PutChunk accepts one part of a V1 chunked upload addressed by its raw
// chunk name. See PutChunkMeta for the flow and return contract.
func (d *Directory) PutChunk(ctx context.Context, rawName string, src io.Reader, declaredLength int64, declaredChecksum string) (*File, error) {
	meta, ok := ParseChunkedName(rawName)
	if !ok {
		return nil, fmt.Errorf("malformed chunk name %q: %w", rawName, ErrBadRequest)
	}
	return d.PutChunkMeta(ctx, meta, src, declaredLength, declaredChecksum)
}

// PutChunkMeta accepts one part of a chunked upload (either protocol).
//
// The part's bytes are stored as their own object and recorded on the
// upload; re-sending a part number replaces the previous bytes and frees
// them. Once every expected part is present the parts are assembled, in
// part order, into one object inside its own transaction separate from
// part accumulation, bound as a new version of the target file, and the
// upload bookkeeping plus part objects are removed.
//
// declaredLength and declaredChecksum apply to the ASSEMBLED content and
// are checked only at completion; a mismatch rejects the transfer with
// ErrBadRequest and no version is created.
//
// Returns the target file once assembly happened, nil while the transfer
// is still incomplete.
func (d *Directory) PutChunkMeta(ctx context.Context, meta ChunkMeta, src io.Reader, declaredLength int64, declaredChecksum string) (*File, error) {
	if !validName(meta.Name) {
		return nil, fmt.Errorf("chunk target %q: %w", meta.Name, ErrBadRequest)
	}
	if meta.TransferID == "" || (meta.NumParts == nil && meta.TotalLength == nil) {
		return nil, fmt.Errorf("underspecified transfer: %w", ErrBadRequest)
	}

	existing, err := d.rc.Catalog.FindChild(ctx, d.inode.ID, meta.Name, nil)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}
	switch {
	case existing == nil:
		if !d.inner.Can(perm.AddFile) {
			return nil, fmt.Errorf("create %q: %w", meta.Name, ErrForbidden)
		}
	case existing.Type == catalog.TypeFile:
		if !d.inner.Can(perm.Write) {
			return nil, fmt.Errorf("overwrite %q: %w", meta.Name, ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("%q exists and is not a file: %w", meta.Name, ErrConflict)
	}

	info, err := d.rc.Store.StoreNewObject(ctx, src)
	if err != nil {
		return nil, err
	}

	var (
		upload   *catalog.ChunkedUpload
		replaced string
	)
	err = d.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		upload, err = tx.GetOrCreateUpload(ctx, meta.TransferID, meta.NumParts, meta.TotalLength)
		if err != nil {
			return err
		}
		replaced, err = tx.UpsertPart(ctx, upload.ID, meta.Part, info.Size, string(info.Key))
		return err
	})
	if err != nil {
		d.rc.discardObject(ctx, info.Key)
		return nil, err
	}
	if replaced != "" {
		d.rc.discardObject(ctx, storage.Key(replaced))
	}

	done, err := d.transferComplete(ctx, upload)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, nil
	}
	return d.assembleUpload(ctx, upload, meta.Name, existing, declaredLength, declaredChecksum)
}

// transferComplete decides whether every expected part has arrived: by
// count for V1, by accumulated byte length for V2.
func (d *Directory) transferComplete(ctx context.Context, u *catalog.ChunkedUpload) (bool, error) {
	if u.NumParts != nil {
		count, err := d.rc.Catalog.CountParts(ctx, u.ID)
		if err != nil {
			return false, err
		}
		return count >= *u.NumParts, nil
	}

	if u.TotalLength != nil {
		parts, err := d.rc.Catalog.Parts(ctx, u.ID)
		if err != nil {
			return false, err
		}
		var total int64
		for _, p := range parts {
			total += p.Size
		}
		return total >= *u.TotalLength, nil
	}
	return false, nil
}

// assembleUpload concatenates the parts into one object and binds it as
// a new version of the target file, all bookkeeping in one transaction.
func (d *Directory) assembleUpload(ctx context.Context, u *catalog.ChunkedUpload, name string, existing *catalog.Inode, declaredLength int64, declaredChecksum string) (*File, error) {
	parts, err := d.rc.Catalog.Parts(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	keys := make([]storage.Key, 0, len(parts))
	for _, p := range parts {
		keys = append(keys, storage.Key(p.Object))
	}

	assembled, err := d.rc.Store.AssembleObject(ctx, keys)
	if err != nil {
		return nil, err
	}

	if err := d.rc.ValidateLength(declaredLength, assembled.Size); err != nil {
		d.rc.discardObject(ctx, assembled.Key)
		return nil, err
	}
	if err := d.rc.ValidateChecksum(declaredChecksum, assembled.Checksums); err != nil {
		d.rc.discardObject(ctx, assembled.Key)
		return nil, err
	}

	var bound *catalog.Inode
	err = d.rc.Catalog.Tx(ctx, func(tx *catalog.Catalog) error {
		target := existing
		if target == nil {
			target = &catalog.Inode{
				ParentID: &d.inode.ID,
				OwnerID:  d.inode.OwnerID,
				Type:     catalog.TypeFile,
				Name:     name,
				Modified: time.Now(),
			}
			if err := tx.SaveInode(ctx, target); err != nil {
				return err
			}
		}
		if _, err := tx.NewVersion(ctx, target, assembled.Size, string(assembled.Key), assembled.Checksums, d.rc.creatorID()); err != nil {
			return err
		}
		bound = target
		return tx.DeleteUpload(ctx, u.ID)
	})
	if err != nil {
		d.rc.discardObject(ctx, assembled.Key)
		return nil, err
	}

	for _, key := range keys {
		// A single-part transfer assembles to the part's own key,
		// which the new version now references.
		if key == assembled.Key {
			continue
		}
		d.rc.discardObject(ctx, key)
	}
	return newFile(d.rc, bound, nil, nil, d.inner, d.inner), nil
}
