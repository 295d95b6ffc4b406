// Package perm implements the capability bitset used across the virtual
// filesystem.
//
// A PermSet is an immutable value: every operation returns a new set.
// Seven bits are capabilities (what a user may do), three are flags
// describing how a node is reached (shared, mounted, inside a mount).
// Flags are never inherited through the permission algebra; capabilities
// can only narrow when crossing a share boundary.
package perm

import "strings"

// PermSet is a bitmask over the fixed capability vocabulary.
type PermSet uint16

const (
	// Write allows changing the content of an existing file.
	Write PermSet = 1 << iota
	// Delete allows moving a node to trash or purging it.
	Delete
	// Rename allows changing a node's name in place.
	Rename
	// Move allows reparenting a node.
	Move
	// AddFile allows creating files inside a collection.
	AddFile
	// Mkdir allows creating sub-collections inside a collection.
	Mkdir
	// Reshare allows granting a received share onward.
	Reshare

	// IsShared marks a node that has at least one share grant on it.
	IsShared
	// IsMounted marks the mount point of a received share.
	IsMounted
	// IsMountedSub marks a node reached through a mount point.
	IsMountedSub
)

const (
	// None is the empty permission set.
	None PermSet = 0

	// DefaultOwned is what an owner always holds on tree-owned nodes:
	// the six mutation capabilities.
	DefaultOwned = Write | Delete | Rename | Move | AddFile | Mkdir

	// inheritableMask covers the capabilities that flow through Inherit.
	inheritableMask = Write | Delete | Rename | Move | AddFile | Mkdir | Reshare

	// flagMask covers the bits preserved regardless of the parent grant.
	flagMask = IsShared | IsMounted | IsMountedSub

	// Mask is the full legal permission range.
	Mask = inheritableMask | flagMask
)

// permChars maps each bit, lowest first, to its wire character.
const permChars = "WDNVCKRSMm"

// With returns a copy with the given bits set, masked to the legal range.
func (p PermSet) With(flags PermSet) PermSet {
	return (p | flags) & Mask
}

// Without returns a copy with the given bits cleared.
func (p PermSet) Without(flags PermSet) PermSet {
	return p &^ flags
}

// Can reports whether every bit in flags is set.
func (p PermSet) Can(flags PermSet) bool {
	return p&flags == flags
}

// Inherit composes this set with a declared parent set.
//
// The result's capabilities are the intersection of both sets: crossing
// a boundary can only narrow what is allowed. The receiver's own flag
// bits survive untouched, since how a node was reached does not depend
// on the parent grant.
func (p PermSet) Inherit(parent PermSet) PermSet {
	return (p & parent & inheritableMask) | (p & flagMask)
}

// String renders the set in its wire form, one character per set bit in
// WDNVCKRSMm order. The empty set renders as "".
func (p PermSet) String() string {
	var b strings.Builder
	for i, c := range permChars {
		if p&(1<<i) != 0 {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// FromString parses the wire form produced by String. Unknown characters
// are ignored, so FromString(x.String()) == x & Mask for any x.
func FromString(s string) PermSet {
	var p PermSet
	for _, c := range s {
		if i := strings.IndexRune(permChars, c); i >= 0 {
			p |= 1 << i
		}
	}
	return p
}
