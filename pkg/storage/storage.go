// Package storage implements the content-addressed object store that
// backs file versions, chunked-upload parts and thumbnails.
//
// The store is independent of backend technology: backends implement a
// small blob interface and are tagged with intents that declare what
// they may be used for (holding in-flight temporary objects, holding
// promoted storage objects, or both). One logical object is stored as N
// physical parts rolled at a configurable chunk size, so a backend never
// needs range writes and per-request memory stays bounded.
//
// Object keys are deterministic: "o/<hash>-<size>-<chunkSize>". Identical
// bytes stored with identical chunking land on the same key; identical
// bytes with different chunking do not. That is an accepted limitation,
// not a bug: the naming favors locality and simplicity over full dedup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Intent tags what a backend may be used for.
type Intent uint8

const (
	// IntentTemporary marks a backend eligible for in-flight objects.
	IntentTemporary Intent = 1 << iota
	// IntentStorage marks a backend eligible for promoted objects.
	IntentStorage
)

// Has reports whether all bits in want are present.
func (i Intent) Has(want Intent) bool {
	return i&want == want
}

// String renders the intent set for logs and the CLI.
func (i Intent) String() string {
	switch {
	case i.Has(IntentTemporary | IntentStorage):
		return "temporary+storage"
	case i.Has(IntentTemporary):
		return "temporary"
	case i.Has(IntentStorage):
		return "storage"
	default:
		return "none"
	}
}

// ParseIntent maps a configuration string to an Intent bit.
func ParseIntent(s string) (Intent, error) {
	switch s {
	case "temporary":
		return IntentTemporary, nil
	case "storage":
		return IntentStorage, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownIntent, s)
	}
}

// Key identifies one logical object.
type Key string

// EmptyObject is the reserved key representing zero-byte content. It is
// never written to a backend; readers treat it as an empty stream.
const EmptyObject Key = "empty:0"

// ObjectInfo describes the outcome of a store operation.
type ObjectInfo struct {
	// Key is the logical object key (possibly EmptyObject).
	Key Key

	// Size is the total byte count of the object.
	Size int64

	// Hash is the primary hex digest used in the object key.
	Hash string

	// ChunkSize is the chunk size the object was stored with.
	ChunkSize int64

	// Checksums maps lowercase algorithm names to hex digests for every
	// configured checksum algorithm (always includes the primary).
	Checksums map[string]string
}

// Backend is the minimal blob interface a storage technology provides.
// Keys passed to a backend are physical part keys, not logical object
// keys; the store layer owns the part layout.
type Backend interface {
	// Name returns the configured backend name.
	Name() string

	// Intents returns the backend's intent tags.
	Intents() Intent

	// Open returns a reader for the blob, or ErrObjectNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Create returns a writer for a new blob, replacing any existing one.
	Create(ctx context.Context, key string) (io.WriteCloser, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the blob is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Rename moves a blob to a new key within this backend.
	Rename(ctx context.Context, oldKey, newKey string) error

	// List returns all blob keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// CapacityReporter is an optional backend capability used by the CLI to
// display free/total space. Backends without a meaningful answer simply
// do not implement it.
type CapacityReporter interface {
	Capacity(ctx context.Context) (free, total uint64, err error)
}

// RefCounter answers how many catalog rows still reference an object.
// The catalog implements it; storage stays free of database imports.
type RefCounter interface {
	// CountObjectRefs counts live references to the key across file
	// versions, chunked-upload parts and thumbnails.
	CountObjectRefs(ctx context.Context, key string) (int64, error)

	// RemoveThumbnails deletes thumbnail rows derived from the key and
	// returns the storage keys of the derived objects.
	RemoveThumbnails(ctx context.Context, key string) ([]string, error)
}

var (
	// ErrObjectNotFound indicates no backend holds the requested object.
	ErrObjectNotFound = errors.New("object not found")

	// ErrNoBackend indicates no configured backend satisfies an intent.
	ErrNoBackend = errors.New("no backend satisfies intent")

	// ErrUnknownIntent indicates an unrecognized intent tag in config.
	ErrUnknownIntent = errors.New("unknown backend intent")

	// ErrNothingCopied indicates a copy transferred zero bytes. A zero
	// byte transfer cannot be told apart from a failed one, so it is
	// reported as one.
	ErrNothingCopied = errors.New("nothing copied")
)

// partKey returns the physical key of part idx of a logical object.
func partKey(key Key, idx int) string {
	return fmt.Sprintf("%s.%d", key, idx)
}
