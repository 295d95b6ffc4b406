package perm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringRoundTrip(t *testing.T) {
	cases := []struct {
		set  PermSet
		want string
	}{
		{None, ""},
		{Write, "W"},
		{DefaultOwned, "WDNVCK"},
		{Write | Rename | Move | AddFile | Mkdir, "WNVCK"},
		{DefaultOwned | Reshare | IsShared, "WDNVCKRS"},
		{IsMounted | IsMountedSub, "Mm"},
		{Mask, "WDNVCKRSMm"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.set.String())
		assert.Equal(t, tc.set, FromString(tc.want))
	}
}

func TestFromStringIgnoresUnknown(t *testing.T) {
	assert.Equal(t, Write|Delete, FromString("W x?D"))
}

// Every mask in the legal range must satisfy the inheritance law.
func TestInheritLaw(t *testing.T) {
	for a := PermSet(0); a <= Mask; a++ {
		for _, b := range []PermSet{None, Write, DefaultOwned, Mask, Reshare | IsMounted} {
			got := a.Inherit(b)
			want := (a & b & (Mask &^ flagMask)) | (a & flagMask)
			if got != want {
				t.Fatalf("Inherit(%s, %s) = %s, want %s", a, b, got, want)
			}
		}
	}
}

func TestInheritNarrowsCapabilitiesOnly(t *testing.T) {
	child := DefaultOwned | Reshare | IsMounted

	// Parent grants nothing: capabilities vanish, flags survive.
	assert.Equal(t, IsMounted, child.Inherit(None))

	// Parent grants a subset: intersection.
	assert.Equal(t, Write|AddFile|IsMounted, child.Inherit(Write|AddFile))

	// Parent flags never leak into the child.
	assert.Equal(t, Write|IsMounted, child.Inherit(Write|IsShared|IsMountedSub))
}

func TestWithWithoutMasked(t *testing.T) {
	p := None.With(Write | Delete)
	assert.True(t, p.Can(Write))
	assert.True(t, p.Can(Write|Delete))
	assert.False(t, p.Can(Mkdir))

	p = p.Without(Delete)
	assert.False(t, p.Can(Delete))

	// Out-of-range bits are dropped by With.
	assert.Equal(t, Write, None.With(Write|PermSet(1<<12)))
}
