package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "accord/pkg/domain-errors"
)

// TestParseID_Invariants validates the parsing invariant:
// "IDs must be non-empty, bounded, printable strings"
func TestParseID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseNodeID("   ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects oversized input", func(t *testing.T) {
		_, err := ParseBundleID(strings.Repeat("a", maxIDLength+1))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects control characters", func(t *testing.T) {
		_, err := ParseDecisionID("dec\x00-1")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("trims and accepts valid input", func(t *testing.T) {
		id, err := ParseNodeID("  node-a ")
		require.NoError(t, err)
		assert.Equal(t, NodeID("node-a"), id)
		assert.False(t, id.IsNil())
	})
}

func TestParseProtocolVersion(t *testing.T) {
	v, err := ParseProtocolVersion("1.0")
	require.NoError(t, err)
	assert.Equal(t, ProtocolVersionV1, v)
	assert.Equal(t, DefaultProtocolVersion(), v)

	_, err = ParseProtocolVersion("2.0")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidConfiguration))
}
