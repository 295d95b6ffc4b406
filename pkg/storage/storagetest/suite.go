// Package storagetest provides a reusable conformance suite for Backend
// implementations. It tests the interface contract, not implementation
// details, so every backend runs the same assertions.
package storagetest

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumulusfs/cumulus/pkg/storage"
)

// BackendSuite runs the Backend contract tests.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &storagetest.BackendSuite{
//	        NewBackend: func(t *testing.T) storage.Backend { ... },
//	    }
//	    suite.Run(t)
//	}
type BackendSuite struct {
	// NewBackend returns a fresh, empty backend per test.
	NewBackend func(t *testing.T) storage.Backend
}

// Run executes all tests in the suite.
func (s *BackendSuite) Run(t *testing.T) {
	t.Run("CreateOpenRoundTrip", s.testCreateOpen)
	t.Run("OpenMissing", s.testOpenMissing)
	t.Run("ExistsDelete", s.testExistsDelete)
	t.Run("DeleteMissingIsNoop", s.testDeleteMissing)
	t.Run("Rename", s.testRename)
	t.Run("ListPrefix", s.testListPrefix)
}

func write(t *testing.T, b storage.Backend, key, data string) {
	t.Helper()
	w, err := b.Create(context.Background(), key)
	require.NoError(t, err)
	_, err = w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func read(t *testing.T, b storage.Backend, key string) string {
	t.Helper()
	r, err := b.Open(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func (s *BackendSuite) testCreateOpen(t *testing.T) {
	b := s.NewBackend(t)
	write(t, b, "o/abc.0", "hello world")
	assert.Equal(t, "hello world", read(t, b, "o/abc.0"))

	// Create replaces existing content.
	write(t, b, "o/abc.0", "replaced")
	assert.Equal(t, "replaced", read(t, b, "o/abc.0"))
}

func (s *BackendSuite) testOpenMissing(t *testing.T) {
	b := s.NewBackend(t)
	_, err := b.Open(context.Background(), "o/nope.0")
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound))
}

func (s *BackendSuite) testExistsDelete(t *testing.T) {
	b := s.NewBackend(t)
	ctx := context.Background()

	write(t, b, "tmp/x.0", "data")
	ok, err := b.Exists(ctx, "tmp/x.0")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Delete(ctx, "tmp/x.0"))
	ok, err = b.Exists(ctx, "tmp/x.0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func (s *BackendSuite) testDeleteMissing(t *testing.T) {
	b := s.NewBackend(t)
	assert.NoError(t, b.Delete(context.Background(), "tmp/never-existed.0"))
}

func (s *BackendSuite) testRename(t *testing.T) {
	b := s.NewBackend(t)
	ctx := context.Background()

	write(t, b, "tmp/src.0", "payload")
	require.NoError(t, b.Rename(ctx, "tmp/src.0", "o/dst.0"))

	ok, err := b.Exists(ctx, "tmp/src.0")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "payload", read(t, b, "o/dst.0"))
}

func (s *BackendSuite) testListPrefix(t *testing.T) {
	b := s.NewBackend(t)

	write(t, b, "o/a.0", "1")
	write(t, b, "o/a.1", "2")
	write(t, b, "o/b.0", "3")
	write(t, b, "tmp/c.0", "4")

	keys, err := b.List(context.Background(), "o/")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"o/a.0", "o/a.1", "o/b.0"}, keys)
}
