package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidHandle(t *testing.T) {
	tests := []struct {
		handle string
		want   bool
	}{
		{"github", true},
		{"github_api-key.2", true},
		{"9lives", true},
		{"", false},
		{"-leading", false},
		{".hidden", false},
		{"has space", false},
		{"slash/inside", false},
		{"{{vault:x}}", false},
		{strings.Repeat("a", MaxHandleLength), true},
		{strings.Repeat("a", MaxHandleLength+1), false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ValidHandle(tc.handle), "handle %q", tc.handle)
	}
}

func TestItemTypeAndExposureValid(t *testing.T) {
	assert.True(t, ItemTypeUsernamePassword.Valid())
	assert.False(t, ItemType("ssh_key").Valid())
	assert.True(t, ExposureRevealable.Valid())
	assert.False(t, ExposureMode("").Valid())
}

func TestLookupField(t *testing.T) {
	f, ok := LookupField("user")
	assert.True(t, ok)
	assert.Equal(t, FieldUsername, f)

	_, ok = LookupField("USER")
	assert.False(t, ok, "aliases are case-sensitive")
	_, ok = LookupField(" user ")
	assert.False(t, ok)

	f, ok = LookupField("api_key")
	assert.True(t, ok)
	assert.Equal(t, FieldSecret, f)

	_, ok = LookupField("private_key")
	assert.False(t, ok)
}

func TestNormalizeField_IgnoresCase(t *testing.T) {
	assert.Equal(t, FieldUsername, NormalizeField("USER"))
	assert.Equal(t, FieldUsername, NormalizeField("Username"))
	assert.Equal(t, FieldSecret, NormalizeField("API_KEY"))
}
