package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumulusfs/cumulus/pkg/catalog"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(Config{Path: t.TempDir(), TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func shareWithPassword(t *testing.T, id uint64, password string) *catalog.InodeShare {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	return &catalog.InodeShare{ID: id, Password: &hash}
}

func TestGrantAndValid(t *testing.T) {
	s := newTestStore(t, time.Hour)
	share := shareWithPassword(t, 42, "secret")

	ok, err := s.Valid("tok", share)
	require.NoError(t, err)
	assert.False(t, ok, "no session before grant")

	require.NoError(t, s.Grant("tok", share))

	ok, err = s.Valid("tok", share)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Valid("other-token", share)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasswordChangeInvalidates(t *testing.T) {
	s := newTestStore(t, time.Hour)
	share := shareWithPassword(t, 7, "before")
	require.NoError(t, s.Grant("tok", share))

	hash, err := HashPassword("after")
	require.NoError(t, err)
	share.Password = &hash

	ok, err := s.Valid("tok", share)
	require.NoError(t, err)
	assert.False(t, ok, "rotating the password revokes sessions")
}

func TestSessionsAreScopedToShare(t *testing.T) {
	s := newTestStore(t, time.Hour)
	a := shareWithPassword(t, 1, "pw")
	b := &catalog.InodeShare{ID: 2, Password: a.Password}

	require.NoError(t, s.Grant("tok", a))

	ok, err := s.Valid("tok", b)
	require.NoError(t, err)
	assert.False(t, ok, "same token, different share")
}

func TestRevoke(t *testing.T) {
	s := newTestStore(t, time.Hour)
	share := shareWithPassword(t, 3, "pw")
	require.NoError(t, s.Grant("tok", share))

	require.NoError(t, s.Revoke("tok", share.ID))

	ok, err := s.Valid("tok", share)
	require.NoError(t, err)
	assert.False(t, ok)

	// Revoking again is a no-op.
	require.NoError(t, s.Revoke("tok", share.ID))
}

func TestTTLExpiry(t *testing.T) {
	s := newTestStore(t, 50*time.Millisecond)
	share := shareWithPassword(t, 9, "pw")
	require.NoError(t, s.Grant("tok", share))

	time.Sleep(120 * time.Millisecond)

	ok, err := s.Valid("tok", share)
	require.NoError(t, err)
	assert.False(t, ok, "entry expired with its TTL")
}

func TestUnprotectedShare(t *testing.T) {
	s := newTestStore(t, time.Hour)
	share := &catalog.InodeShare{ID: 11}

	require.NoError(t, s.Grant("tok", share))
	ok, err := s.Valid("tok", share)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, VerifyPassword(hash, "hunter2"))
	assert.False(t, VerifyPassword(hash, "hunter3"))
	assert.False(t, VerifyPassword("not-a-hash", "hunter2"))
}
