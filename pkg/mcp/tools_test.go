package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcvault/internal/policy"
	"github.com/rendis/mcvault/internal/secrets"
	"github.com/rendis/mcvault/internal/store"
	"github.com/rendis/mcvault/internal/vault"
	"github.com/rendis/mcvault/pkg/schema"
)

const testSecret = "sk-XYZ123456789"

func newTestVault(t *testing.T) *vault.Service {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	key := make([]byte, secrets.KeySize)
	for i := range key {
		key[i] = byte(i + 3)
	}
	keyring, err := secrets.NewKeyring(map[int][]byte{1: key}, 1)
	require.NoError(t, err)
	engine, err := policy.NewEngine()
	require.NoError(t, err)
	return vault.New(vault.Options{Store: st, Sealer: keyring, Policy: engine})
}

func seededServer(t *testing.T) (*VaultServer, *vault.Service) {
	t.Helper()
	svc := newTestVault(t)
	ctx := context.Background()

	_, err := svc.CreateItem(ctx, "agent-1", schema.CreateItemRequest{
		Handle:   "github",
		Type:     schema.ItemTypeAPIKey,
		Service:  "GitHub",
		Secret:   testSecret,
		Username: "octo",
	})
	require.NoError(t, err)
	old, err := svc.CreateItem(ctx, "agent-1", schema.CreateItemRequest{
		Handle: "legacy",
		Type:   schema.ItemTypeSecret,
		Secret: "hunter2-legacy",
	})
	require.NoError(t, err)
	disabled := true
	_, err = svc.UpdateItem(ctx, "agent-1", old.ID, schema.UpdateItemRequest{Disabled: &disabled})
	require.NoError(t, err)

	_, err = svc.CreateItem(ctx, "agent-2", schema.CreateItemRequest{
		Handle: "other",
		Type:   schema.ItemTypeAPIKey,
		Secret: "sk-OTHER-AGENT-000",
	})
	require.NoError(t, err)

	return NewVaultServer(VaultServerDeps{Vault: svc, AgentID: "agent-1"}), svc
}

// --- Helper ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// --- Tests ---

func TestHandlesTool(t *testing.T) {
	s, _ := seededServer(t)

	result, err := s.handleHandles(context.Background(), buildRequest("vault.handles", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Handles []handleSummary `json:"handles"`
		Count   int             `json:"count"`
	}
	unmarshalResult(t, result, &out)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "github", out.Handles[0].Handle)
	assert.Equal(t, "{{vault:github}}", out.Handles[0].Placeholder)
	assert.True(t, out.Handles[0].HasUsername)
	assert.NotContains(t, extractText(t, result), testSecret)
}

func TestHandlesToolIncludeDisabled(t *testing.T) {
	s, _ := seededServer(t)

	result, err := s.handleHandles(context.Background(), buildRequest("vault.handles", map[string]any{
		"include_disabled": true,
	}))
	require.NoError(t, err)

	var out struct {
		Handles []handleSummary `json:"handles"`
	}
	unmarshalResult(t, result, &out)
	handles := make([]string, len(out.Handles))
	for i, h := range out.Handles {
		handles[i] = h.Handle
	}
	assert.ElementsMatch(t, []string{"github", "legacy"}, handles)
	assert.NotContains(t, handles, "other")
}

func TestHintTool(t *testing.T) {
	s, _ := seededServer(t)

	result, err := s.handleHint(context.Background(), buildRequest("vault.hint", map[string]any{
		"handle": "github",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "{{vault:github}}")
	assert.Contains(t, text, "{{vault:github.username}}")
	assert.NotContains(t, text, testSecret)
}

func TestHintToolMissingHandle(t *testing.T) {
	s, _ := seededServer(t)

	result, err := s.handleHint(context.Background(), buildRequest("vault.hint", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHintToolOtherAgent(t *testing.T) {
	s, _ := seededServer(t)

	result, err := s.handleHint(context.Background(), buildRequest("vault.hint", map[string]any{
		"handle": "other",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestAuditTool(t *testing.T) {
	s, svc := seededServer(t)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, vault.Caller{AgentID: "agent-1"}, "github", "secret", "sess-1", "browser.login")
	require.NoError(t, err)

	result, err := s.handleAudit(ctx, buildRequest("vault.audit", map[string]any{
		"action": "resolve",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Entries []store.AuditEntry `json:"entries"`
		Count   int                `json:"count"`
	}
	unmarshalResult(t, result, &out)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "browser.login", out.Entries[0].ToolName)
	assert.Equal(t, "agent-1", out.Entries[0].AgentID)
	assert.NotContains(t, extractText(t, result), testSecret)
}

func TestAuditToolScopedToAgent(t *testing.T) {
	s, _ := seededServer(t)

	result, err := s.handleAudit(context.Background(), buildRequest("vault.audit", map[string]any{
		"limit": float64(100),
	}))
	require.NoError(t, err)

	var out struct {
		Entries []store.AuditEntry `json:"entries"`
	}
	unmarshalResult(t, result, &out)
	require.NotEmpty(t, out.Entries)
	for _, e := range out.Entries {
		assert.Equal(t, "agent-1", e.AgentID)
	}
}

func TestAuditToolJQ(t *testing.T) {
	s, _ := seededServer(t)

	result, err := s.handleAudit(context.Background(), buildRequest("vault.audit", map[string]any{
		"jq": `[.[] | .action] | sort`,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var actions []string
	unmarshalResult(t, result, &actions)
	assert.Equal(t, []string{"create", "create", "disable"}, actions)
}

func TestAuditToolBadJQ(t *testing.T) {
	s, _ := seededServer(t)

	result, err := s.handleAudit(context.Background(), buildRequest("vault.audit", map[string]any{
		"jq": `.[] |||`,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "jq parse error")
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
