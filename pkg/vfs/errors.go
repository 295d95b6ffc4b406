package vfs

import "errors"

var (
	// ErrNotFound indicates a missing path, inode, share or version.
	// Dangling share links degrade to ErrNotFound, never to an internal
	// error.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates a failed permission check, an invalid name
	// or a disallowed cross-tree move.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a name collision or a destination inside the
	// source subtree.
	ErrConflict = errors.New("conflict")

	// ErrBadRequest indicates a malformed chunk name, a checksum or
	// length mismatch, or an unassemblable chunk set.
	ErrBadRequest = errors.New("bad request")
)
