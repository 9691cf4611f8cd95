package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "geoverify/pkg/domain-errors"
)

func TestGenerate(t *testing.T) {
	raw, prefix, err := Generate("live")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "gv_live_"))
	assert.Len(t, raw, len("gv_live_")+43)
	assert.Len(t, prefix, PrefixLength)
	assert.True(t, strings.HasPrefix(raw, prefix))

	other, _, err := Generate("live")
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestPrefix(t *testing.T) {
	raw, prefix, err := Generate("test")
	require.NoError(t, err)

	got, err := Prefix(raw)
	require.NoError(t, err)
	assert.Equal(t, prefix, got)

	for _, bad := range []string{"", "gv_", "gv_live", "gv_live_short", "sk_live_" + strings.Repeat("a", 43), "gv_live_" + strings.Repeat("*", 43)} {
		_, err := Prefix(bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized), bad)
	}
}

func TestHashAndVerify(t *testing.T) {
	raw, _, err := Generate("live")
	require.NoError(t, err)
	hash, err := Hash(raw)
	require.NoError(t, err)
	assert.NotContains(t, hash, raw)

	require.NoError(t, Verify(raw, hash))
	err = Verify(raw+"x", hash)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = Hash("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestLooksLikeKey(t *testing.T) {
	assert.True(t, LooksLikeKey("gv_live_abc"))
	assert.False(t, LooksLikeKey("eyJhbGciOiJIUzI1NiJ9.e30.sig"))
}
