package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "geoverify/pkg/domain-errors"
)

func TestTokenID(t *testing.T) {
	t.Run("new ids parse back and are distinct", func(t *testing.T) {
		a, err := NewTokenID()
		require.NoError(t, err)
		b, err := NewTokenID()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)

		parsed, err := ParseTokenID("  " + a.String() + " ")
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	})

	t.Run("rejects malformed tokens as invalid token", func(t *testing.T) {
		for _, raw := range []string{"", "short", strings.Repeat("!", tokenLen)} {
			_, err := ParseTokenID(raw)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidToken), raw)
		}
	})

	t.Run("verification id is stable per token", func(t *testing.T) {
		a, _ := NewTokenID()
		b, _ := NewTokenID()
		assert.Equal(t, a.VerificationID(), a.VerificationID())
		assert.NotEqual(t, a.VerificationID(), b.VerificationID())
	})

	t.Run("short never leaks the full token", func(t *testing.T) {
		a, _ := NewTokenID()
		assert.Len(t, a.Short(), 8)
	})
}

func TestPrincipalVisibility(t *testing.T) {
	admin := Principal{Kind: PrincipalAdmin, ID: "ops@example.com"}
	keyA := Principal{Kind: PrincipalAPIKey, ID: "key_a"}
	keyB := Principal{Kind: PrincipalAPIKey, ID: "key_b"}

	assert.True(t, admin.CanSee(keyA))
	assert.True(t, keyA.CanSee(keyA))
	assert.False(t, keyA.CanSee(keyB))
	assert.False(t, keyA.CanSee(admin))
}

func TestParseAPIKeyID(t *testing.T) {
	_, err := ParseAPIKeyID("nope")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	id, err := ParseAPIKeyID("key_abc123")
	require.NoError(t, err)
	assert.Equal(t, APIKeyID("key_abc123"), id)
}
