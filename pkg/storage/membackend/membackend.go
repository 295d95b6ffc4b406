// Package membackend implements an in-memory storage backend.
//
// It exists for tests and for running a throwaway server without any
// storage configuration. Blobs live in a plain map guarded by a RWMutex.
package membackend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cumulusfs/cumulus/pkg/storage"
)

// MemBackend keeps blobs in process memory.
type MemBackend struct {
	name    string
	intents storage.Intent

	mu    sync.RWMutex
	blobs map[string][]byte
}

// New returns an empty in-memory backend.
func New(name string, intents storage.Intent) *MemBackend {
	return &MemBackend{
		name:    name,
		intents: intents,
		blobs:   make(map[string][]byte),
	}
}

func (b *MemBackend) Name() string            { return b.name }
func (b *MemBackend) Intents() storage.Intent { return b.intents }

func (b *MemBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	data, ok := b.blobs[key]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// memWriter buffers writes and publishes the blob on Close.
type memWriter struct {
	b   *MemBackend
	key string
	buf bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.b.mu.Lock()
	defer w.b.mu.Unlock()
	w.b.blobs[w.key] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

func (b *MemBackend) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memWriter{b: b, key: key}, nil
}

func (b *MemBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.blobs, key)
	b.mu.Unlock()
	return nil
}

func (b *MemBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.RLock()
	_, ok := b.blobs[key]
	b.mu.RUnlock()
	return ok, nil
}

func (b *MemBackend) Rename(ctx context.Context, oldKey, newKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[oldKey]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, oldKey)
	}
	b.blobs[newKey] = data
	delete(b.blobs, oldKey)
	return nil
}

func (b *MemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Capacity reports the bytes currently held; memory has no fixed total.
func (b *MemBackend) Capacity(ctx context.Context) (free, total uint64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var used uint64
	for _, data := range b.blobs {
		used += uint64(len(data))
	}
	return 0, used, nil
}
