package storage

import (
	"context"
	"fmt"
	"io"
)

// chunkWriter streams one logical object onto a backend as a series of
// physical parts, rolling to the next part whenever the running chunk
// reaches the configured chunk size.
type chunkWriter struct {
	ctx       context.Context
	backend   Backend
	key       Key
	chunkSize int64

	cur     io.WriteCloser
	curSize int64
	parts   int
	total   int64
}

func newChunkWriter(ctx context.Context, backend Backend, key Key, chunkSize int64) *chunkWriter {
	return &chunkWriter{
		ctx:       ctx,
		backend:   backend,
		key:       key,
		chunkSize: chunkSize,
	}
}

// beginChunk closes the running part, if any, and opens part idx.
func (w *chunkWriter) beginChunk(idx int) error {
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return fmt.Errorf("failed to close chunk %d: %w", w.parts-1, err)
		}
	}

	cur, err := w.backend.Create(w.ctx, partKey(w.key, idx))
	if err != nil {
		return fmt.Errorf("failed to create chunk %d: %w", idx, err)
	}

	w.cur = cur
	w.curSize = 0
	w.parts = idx + 1
	return nil
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if err := w.ctx.Err(); err != nil {
			return written, err
		}

		if w.cur == nil || w.curSize >= w.chunkSize {
			if err := w.beginChunk(w.parts); err != nil {
				return written, err
			}
		}

		n := int64(len(p))
		if room := w.chunkSize - w.curSize; n > room {
			n = room
		}

		m, err := w.cur.Write(p[:n])
		w.curSize += int64(m)
		w.total += int64(m)
		written += m
		if err != nil {
			return written, err
		}

		p = p[m:]
	}
	return written, nil
}

// Close finalizes the running part. A zero-byte object closes without
// ever having opened a part.
func (w *chunkWriter) Close() error {
	if w.cur == nil {
		return nil
	}
	err := w.cur.Close()
	w.cur = nil
	return err
}

// Abort closes and removes every part written so far. Used on the error
// path so partial objects never outlive the request that wrote them.
func (w *chunkWriter) Abort() {
	if w.cur != nil {
		_ = w.cur.Close()
		w.cur = nil
	}
	for i := 0; i < w.parts; i++ {
		_ = w.backend.Delete(w.ctx, partKey(w.key, i))
	}
}
