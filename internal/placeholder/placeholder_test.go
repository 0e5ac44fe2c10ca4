package placeholder

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcvault/pkg/schema"
)

func newScanner(t *testing.T) *Scanner {
	t.Helper()
	s, err := NewScanner("")
	require.NoError(t, err)
	return s
}

func TestNewScanner_RejectsBadPrefix(t *testing.T) {
	_, err := NewScanner("va{ult")
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))

	s, err := NewScanner("secret")
	require.NoError(t, err)
	assert.Equal(t, "secret", s.Prefix())
}

func TestParse(t *testing.T) {
	tests := []struct {
		spec   string
		handle string
		field  schema.Field
		ok     bool
	}{
		{"github", "github", schema.FieldSecret, true},
		{"github.username", "github", schema.FieldUsername, true},
		{"github.user", "github", schema.FieldUsername, true},
		{"github.PASSWORD", "github.PASSWORD", schema.FieldSecret, true}, // aliases are case-sensitive
		{"h1.USER", "h1.USER", schema.FieldSecret, true},
		{"github.api_key", "github", schema.FieldSecret, true},
		{"db.prod.token", "db.prod", schema.FieldSecret, true},
		{"db.prod", "db.prod", schema.FieldSecret, true}, // unknown field: whole spec is the handle
		{"  spaced  ", "spaced", schema.FieldSecret, true},
		{"-leading", "", "", false},
		{"has space", "", "", false},
		{".username", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			h, f, ok := Parse(tt.spec)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.handle, h)
			assert.Equal(t, tt.field, f)
		})
	}
}

func TestFindInString(t *testing.T) {
	s := newScanner(t)
	refs := s.FindInString("u={{vault:gh.username}} p={{ vault:gh }} x={{other:gh}} y={{vault:bad handle}}")
	require.Len(t, refs, 2)
	assert.Equal(t, Ref{Raw: "{{vault:gh.username}}", Handle: "gh", Field: schema.FieldUsername}, refs[0])
	assert.Equal(t, Ref{Raw: "{{ vault:gh }}", Handle: "gh", Field: schema.FieldSecret}, refs[1])
	assert.Equal(t, "gh#secret", refs[1].Key())

	assert.Empty(t, s.FindInString("no placeholders"))
}

func TestScan_DedupesByRawText(t *testing.T) {
	s := newScanner(t)
	doc := map[string]any{
		"url":     "https://x/{{vault:h1}}",
		"headers": map[string]any{"a": "{{vault:h1}}", "b": "{{vault:h1.secret}}"},
		"args":    []any{"{{vault:h2.username}}", 42.0},
	}
	refs, err := s.Scan(doc)
	require.NoError(t, err)
	assert.Len(t, refs, 3)

	keys := map[string]bool{}
	for _, r := range refs {
		keys[r.Key()] = true
	}
	assert.Equal(t, map[string]bool{"h1#secret": true, "h2#username": true}, keys)
}

func TestScan_NoPlaceholders(t *testing.T) {
	refs, err := newScanner(t).Scan(map[string]any{"q": "plain", "n": 1.0})
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestSubstitute(t *testing.T) {
	s := newScanner(t)
	doc := map[string]any{
		"url":  "https://x/{{vault:h1}}",
		"auth": []any{"{{vault:h2.username}}:{{vault:h1}}", "{{vault:missing}}"},
	}
	out, err := s.Substitute(doc, map[string]string{
		"{{vault:h1}}":          "sk-XYZ123456789",
		"{{vault:h2.username}}": "{{vault:h1}}", // substituted text is not rescanned
	})
	require.NoError(t, err)

	want := map[string]any{
		"url":  "https://x/sk-XYZ123456789",
		"auth": []any{"{{vault:h1}}:sk-XYZ123456789", "{{vault:missing}}"},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Substitute mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "https://x/{{vault:h1}}", doc["url"], "input untouched")
}
