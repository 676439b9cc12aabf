package modcore_test

import (
	"testing"

	"github.com/nmxmxh/modhost/kernel/modcore"
	"github.com/stretchr/testify/assert"
)

func TestVersionSatisfiesSameTriple(t *testing.T) {
	v := modcore.Version{Major: 1, Minor: 2, Patch: 3}
	assert.True(t, v.Satisfies(v))
}

func TestVersionSatisfiesHigherMinor(t *testing.T) {
	v := modcore.Version{Major: 1, Minor: 3, Patch: 0}
	req := modcore.Version{Major: 1, Minor: 2, Patch: 5}
	assert.True(t, v.Satisfies(req))
}

func TestVersionRejectsLowerPatchSameMinor(t *testing.T) {
	v := modcore.Version{Major: 1, Minor: 2, Patch: 1}
	req := modcore.Version{Major: 1, Minor: 2, Patch: 5}
	assert.False(t, v.Satisfies(req))
}

func TestVersionRejectsDifferentMajor(t *testing.T) {
	v := modcore.Version{Major: 2, Minor: 0, Patch: 0}
	req := modcore.Version{Major: 1, Minor: 0, Patch: 0}
	assert.False(t, v.Satisfies(req))
}

func TestVersionLessOrdersByMajorThenMinorThenPatch(t *testing.T) {
	assert.True(t, (modcore.Version{Major: 1}).Less(modcore.Version{Major: 2}))
	assert.True(t, (modcore.Version{Major: 1, Minor: 1}).Less(modcore.Version{Major: 1, Minor: 2}))
	assert.True(t, (modcore.Version{Major: 1, Minor: 1, Patch: 1}).Less(modcore.Version{Major: 1, Minor: 1, Patch: 2}))
	assert.False(t, (modcore.Version{Major: 1, Minor: 1, Patch: 2}).Less(modcore.Version{Major: 1, Minor: 1, Patch: 1}))
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "1.2.3", modcore.Version{Major: 1, Minor: 2, Patch: 3}.String())
}
