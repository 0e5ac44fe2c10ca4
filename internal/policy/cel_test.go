package policy

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcvault/pkg/schema"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	return e
}

func TestValidate(t *testing.T) {
	e := newEngine(t)

	assert.NoError(t, e.Validate(""))
	assert.NoError(t, e.Validate(`tool == "http.fetch"`))
	assert.NoError(t, e.Validate(`tool.startsWith("github.") && field == "secret"`))

	err := e.Validate(`tool ==`)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = e.Validate(`"not a bool"`)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "bool")

	err = e.Validate(`unknown_var == "x"`)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = e.Validate(strings.Repeat("x", MaxExpressionLength+1))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestAllow(t *testing.T) {
	e := newEngine(t)
	in := Input{AgentID: "a1", Handle: "gh", Field: "secret", Service: "GitHub", ToolName: "github.create_issue", SessionKey: "s1"}

	assert.NoError(t, e.Allow("", in))
	assert.NoError(t, e.Allow(`tool.startsWith("github.")`, in))
	assert.NoError(t, e.Allow(`service == "GitHub" && agent == "a1"`, in))

	err := e.Allow(`tool == "shell.exec"`, in)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeForbidden))
	assert.Contains(t, err.Error(), "github.create_issue")

	err = e.Allow(`tool ==`, in)
	assert.True(t, schema.IsCode(err, schema.ErrCodeForbidden), "invalid stored policy fails closed")
}

func TestAllow_EvalErrorFailsClosed(t *testing.T) {
	e := newEngine(t)
	err := e.Allow(`int(session) > 0`, Input{Handle: "gh", SessionKey: "not-a-number"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeForbidden))
}

func TestAllow_ConcurrentCache(t *testing.T) {
	e := newEngine(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Allow(`field in ["secret", "username"]`, Input{Field: "secret"}))
		}()
	}
	wg.Wait()
	assert.Len(t, e.cache, 1)
}
