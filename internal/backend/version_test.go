package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want Version
	}{
		{"plain", "rclone v1.62.2\n- os/version: linux\n", Version{1, 62, 2}},
		{"no v prefix", "rclone 1.59.0", Version{1, 59, 0}},
		{"two components", "rclone v1.60", Version{1, 60, 0}},
		{"preceded by noise", "some banner\nrclone v1.57.1\n", Version{1, 57, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVersionFailure(t *testing.T) {
	_, err := ParseVersion("no version here")
	require.Error(t, err)
}

func TestAtLeast(t *testing.T) {
	assert.True(t, Version{1, 59, 0}.AtLeast(Version{1, 59, 0}))
	assert.True(t, Version{1, 60, 0}.AtLeast(Version{1, 59, 0}))
	assert.True(t, Version{2, 0, 0}.AtLeast(Version{1, 99, 9}))
	assert.False(t, Version{1, 58, 9}.AtLeast(Version{1, 59, 0}))
	assert.False(t, Version{0, 9, 0}.AtLeast(Version{1, 0, 0}))
}

func TestVersionGates(t *testing.T) {
	// Overlapping moves opened in 1.59.0.
	assert.False(t, gateOpen(capOverlappingMoves, Version{1, 58, 2}))
	assert.True(t, gateOpen(capOverlappingMoves, Version{1, 59, 0}))
	assert.True(t, gateOpen(capOverlappingMoves, Version{1, 62, 1}))

	// Unknown version keeps all gates closed.
	assert.False(t, gateOpen(capOverlappingMoves, Version{}))

	// Unknown capability is closed at any version.
	assert.False(t, gateOpen("telepathy", Version{9, 9, 9}))
}
