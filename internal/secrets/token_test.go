package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken_Format(t *testing.T) {
	token, prefix, err := GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prefix, TokenPrefix))
	assert.Len(t, prefix, len(TokenPrefix)+8)
	assert.True(t, strings.HasPrefix(token, prefix+"."))
	assert.Len(t, strings.TrimPrefix(token, prefix+"."), 43)

	parsed, ok := ParseTokenPrefix(token)
	require.True(t, ok)
	assert.Equal(t, prefix, parsed)
}

func TestParseTokenPrefix_Rejects(t *testing.T) {
	for _, tok := range []string{"", "mcva_abc", ".mcva_abc", "other_0011.x", "mcva_.x"} {
		_, ok := ParseTokenPrefix(tok)
		assert.False(t, ok, "token %q", tok)
	}
}

func TestHashAndVerifyToken(t *testing.T) {
	token, _, err := GenerateToken()
	require.NoError(t, err)

	stored, err := HashToken(token)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "scrypt$"))
	assert.NotContains(t, stored, token)

	assert.True(t, VerifyToken(token, stored))
	assert.False(t, VerifyToken(token+"x", stored))

	again, err := HashToken(token)
	require.NoError(t, err)
	assert.NotEqual(t, stored, again, "salt must differ per hash")
}

func TestVerifyToken_MalformedHash(t *testing.T) {
	for _, stored := range []string{"", "scrypt$onlyone", "bcrypt$AAAA$AAAA", "scrypt$!!$AAAA", "scrypt$AAAA$"} {
		assert.False(t, VerifyToken("mcva_00000000.x", stored), "stored %q", stored)
	}
}
