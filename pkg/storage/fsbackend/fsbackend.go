// Package fsbackend implements a storage backend on a local directory.
//
// Blob keys map directly to paths under the base directory, so a bucket
// of promoted objects is inspectable with ordinary shell tools. The
// backend is the usual choice for the temporary intent even when
// promoted objects live on an object store.
package fsbackend

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cumulusfs/cumulus/pkg/storage"
)

// FSBackend stores blobs as plain files under a base directory.
type FSBackend struct {
	name    string
	intents storage.Intent
	base    string
}

// New creates the base directory if needed and returns the backend.
func New(ctx context.Context, name string, intents storage.Intent, base string) (*FSBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSBackend{name: name, intents: intents, base: base}, nil
}

func (b *FSBackend) Name() string            { return b.name }
func (b *FSBackend) Intents() storage.Intent { return b.intents }

// path maps a blob key to its location under the base directory.
func (b *FSBackend) path(key string) string {
	return filepath.Join(b.base, filepath.FromSlash(key))
}

func (b *FSBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

func (b *FSBackend) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := b.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent of %s: %w", key, err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", key, err)
	}
	return f, nil
}

func (b *FSBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (b *FSBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := os.Stat(b.path(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *FSBackend) Rename(ctx context.Context, oldKey, newKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := b.path(newKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", newKey, err)
	}
	if err := os.Rename(b.path(oldKey), dst); err != nil {
		return fmt.Errorf("failed to rename %s: %w", oldKey, err)
	}
	return nil
}

func (b *FSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	return keys, nil
}

// Capacity reports free and total bytes of the filesystem holding the
// base directory.
func (b *FSBackend) Capacity(ctx context.Context) (free, total uint64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(b.base, &st); err != nil {
		return 0, 0, fmt.Errorf("failed to statfs %s: %w", b.base, err)
	}
	bs := uint64(st.Bsize)
	return st.Bavail * bs, st.Blocks * bs, nil
}
