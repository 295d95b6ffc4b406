package storage

import (
	"context"
	"errors"
	"io"
)

// partReader concatenates the physical parts of one logical object into
// a single byte stream. Parts are opened lazily; the stream ends when
// the next part index does not exist.
type partReader struct {
	ctx     context.Context
	backend Backend
	key     Key

	cur io.ReadCloser
	idx int
}

// newPartReader opens part 0 eagerly so that a missing object surfaces
// as ErrObjectNotFound instead of an empty stream.
func newPartReader(ctx context.Context, backend Backend, key Key) (*partReader, error) {
	first, err := backend.Open(ctx, partKey(key, 0))
	if err != nil {
		return nil, err
	}
	return &partReader{ctx: ctx, backend: backend, key: key, cur: first, idx: 0}, nil
}

func (r *partReader) Read(p []byte) (int, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		if r.cur == nil {
			return 0, io.EOF
		}

		n, err := r.cur.Read(p)
		if n > 0 || !errors.Is(err, io.EOF) {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			return n, err
		}

		// Current part exhausted; roll to the next one if it exists.
		if err := r.cur.Close(); err != nil {
			return 0, err
		}
		r.cur = nil

		next, err := r.backend.Open(r.ctx, partKey(r.key, r.idx+1))
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				return 0, io.EOF
			}
			return 0, err
		}
		r.cur = next
		r.idx++
	}
}

func (r *partReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

// emptyReader serves reads of the EmptyObject sentinel.
type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
func (emptyReader) Close() error             { return nil }
