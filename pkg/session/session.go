// Package session stores authenticated public-share sessions.
//
// A visitor who presents the correct password for a password-protected
// share link gets a session token. The token is only honored while the
// share's password hash is unchanged, so rotating the password revokes
// every outstanding session at once.
package session

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/cumulusfs/cumulus/internal/logger"
	"github.com/cumulusfs/cumulus/pkg/catalog"
)

// DefaultTTL is the session lifetime used when none is configured.
const DefaultTTL = 24 * time.Hour

// Store persists share sessions in BadgerDB. Entries carry a TTL, so
// expiry needs no sweep of its own.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Config configures the session store.
type Config struct {
	// Path is the directory BadgerDB stores its files in. Empty means
	// in-memory, which drops all sessions on restart.
	Path string

	// TTL is the session lifetime (default 24h).
	TTL time.Duration
}

// Open creates or opens the session database.
func Open(config Config) (*Store, error) {
	var opts badger.Options
	if config.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	logger.Info("session store ready: path=%q ttl=%s", config.Path, ttl)
	return &Store{db: db, ttl: ttl}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Grant records a session for the given share. The stored value is the
// share's current password hash; Valid compares against it so a later
// password change invalidates the session.
func (s *Store) Grant(token string, share *catalog.InodeShare) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(sessionKey(token, share.ID), []byte(passwordHash(share)))
		return txn.SetEntry(e.WithTTL(s.ttl))
	})
}

// Valid reports whether token holds a live session for the share. A
// session is live while its entry has not expired and the share's
// password hash still matches the one recorded at grant time.
func (s *Store) Valid(token string, share *catalog.InodeShare) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(token, share.ID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ok = string(val) == passwordHash(share)
			return nil
		})
	})
	return ok, err
}

// Revoke drops one session. Missing entries are not an error.
func (s *Store) Revoke(token string, shareID uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(sessionKey(token, shareID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func sessionKey(token string, shareID uint64) []byte {
	return fmt.Appendf(nil, "s/%d/%s", shareID, token)
}

func passwordHash(share *catalog.InodeShare) string {
	if share.Password == nil {
		return ""
	}
	return *share.Password
}
