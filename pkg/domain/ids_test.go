package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "relaypool/pkg/domain-errors"
)

// TestParseAccountID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty UUID strings".
func TestParseAccountID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseAccountID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseAccountID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts nil UUID, caught later by IsNil", func(t *testing.T) {
		id, err := ParseAccountID(uuid.Nil.String())
		require.NoError(t, err)
		assert.True(t, id.IsNil())
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseAccountID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, AccountID(validUUID), id)
		assert.False(t, id.IsNil())
	})
}

func TestParseSessionKey(t *testing.T) {
	t.Run("rejects empty key", func(t *testing.T) {
		_, err := ParseSessionKey("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts any non-empty opaque value", func(t *testing.T) {
		key, err := ParseSessionKey("conv-42/али")
		require.NoError(t, err)
		assert.Equal(t, SessionKey("conv-42/али"), key)
	})
}

// TestTypeDistinction verifies the compiler enforces type safety.
// This is a compile-time check - if this compiles, the invariant holds.
func TestTypeDistinction(t *testing.T) {
	accountID := AccountID(uuid.New())

	// This would fail to compile if types were interchangeable:
	// var _ SessionKey = accountID // compile error

	assert.False(t, accountID.IsNil())
}
