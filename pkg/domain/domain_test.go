package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "trustdesk/pkg/domain-errors"
)

// TestParseIDs_Invariants validates the parsing invariant:
// "ids arriving from chat payloads or REST paths are positive integers"
//
// Justification: pure trust-boundary parsing, cheap to pin down exhaustively.
func TestParseIDs_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseSubmissionID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects non numeric", func(t *testing.T) {
		_, err := ParseInfoRequestID("12a")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects zero and negative", func(t *testing.T) {
		_, err := ParseSubmitterID("0")
		require.Error(t, err)
		_, err = ParseSubmitterID("-4")
		require.Error(t, err)
	})

	t.Run("accepts positive values", func(t *testing.T) {
		id, err := ParseSubmissionID(" 42 ")
		require.NoError(t, err)
		assert.Equal(t, SubmissionID(42), id)
		assert.Equal(t, "42", id.String())
	})
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		parsed, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("whitelist")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestNormalizeHandle(t *testing.T) {
	assert.Equal(t, "scammer", NormalizeHandle("  @Scammer "))
	assert.Equal(t, "scammer", NormalizeHandle("scammer"))
	assert.Equal(t, "", NormalizeHandle("@"))
}
