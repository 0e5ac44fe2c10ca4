package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcvault/internal/secrets"
	"github.com/rendis/mcvault/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func newItem(agentID, handle string) *VaultItem {
	return &VaultItem{
		ID:           uuid.New().String(),
		AgentID:      agentID,
		Handle:       handle,
		Type:         schema.ItemTypeAPIKey,
		Service:      "GitHub",
		Tags:         []string{"ci", "prod"},
		ExposureMode: schema.ExposureInjectOnly,
		Envelope: secrets.Envelope{
			Ciphertext: "Y2lwaGVy",
			IV:         "aXZpdml2aXZpdml2",
			AuthTag:    "dGFndGFndGFndGFndGFn",
			KeyVersion: 1,
		},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestSplitStatements_SkipsComments(t *testing.T) {
	stmts := splitStatements("-- header; with semicolon\nCREATE TABLE a (x INT);\n\n-- trailing\nCREATE TABLE b (y INT);\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y INT)", stmts[1])
}

// --- Items ---

func TestCreateAndGetItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newItem("a1", "github")
	it.Username = "octocat"
	it.Policy = `tool == "http.fetch"`
	require.NoError(t, s.CreateItem(ctx, it))

	got, err := s.GetItem(ctx, "a1", it.ID)
	require.NoError(t, err)
	assert.Equal(t, "github", got.Handle)
	assert.Equal(t, schema.ItemTypeAPIKey, got.Type)
	assert.Equal(t, "octocat", got.Username)
	assert.Equal(t, []string{"ci", "prod"}, got.Tags)
	assert.Equal(t, it.Envelope, got.Envelope)
	assert.Equal(t, `tool == "http.fetch"`, got.Policy)
	assert.False(t, got.Disabled)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.LastUsedAt)

	byHandle, err := s.GetItemByHandle(ctx, "a1", "github")
	require.NoError(t, err)
	assert.Equal(t, it.ID, byHandle.ID)
}

func TestGetItem_ScopedToAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newItem("a1", "github")
	require.NoError(t, s.CreateItem(ctx, it))

	_, err := s.GetItem(ctx, "a2", it.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	_, err = s.GetItemByHandle(ctx, "a2", "github")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestCreateItem_DuplicateHandleConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateItem(ctx, newItem("a1", "github")))
	err := s.CreateItem(ctx, newItem("a1", "github"))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	// Same handle for another agent is fine.
	require.NoError(t, s.CreateItem(ctx, newItem("a2", "github")))
}

func TestCreateItem_ConcurrentSameHandle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateItem(ctx, newItem("a1", "shared"))
		}(i)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case schema.IsCode(err, schema.ErrCodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestHandleExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateItem(ctx, newItem("a1", "github")))

	exists, err := s.HandleExists(ctx, "a1", "github")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.HandleExists(ctx, "a1", "gitlab")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListItems_FiltersDisabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	enabled := newItem("a1", "b-enabled")
	disabled := newItem("a1", "a-disabled")
	disabled.Disabled = true
	require.NoError(t, s.CreateItem(ctx, enabled))
	require.NoError(t, s.CreateItem(ctx, disabled))
	require.NoError(t, s.CreateItem(ctx, newItem("a2", "other")))

	items, err := s.ListItems(ctx, ItemFilter{AgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b-enabled", items[0].Handle)

	items, err = s.ListItems(ctx, ItemFilter{AgentID: "a1", IncludeDisabled: true})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a-disabled", items[0].Handle, "ordered by handle")
}

func TestUpdateItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newItem("a1", "github")
	require.NoError(t, s.CreateItem(ctx, it))

	rotated := time.Now().UTC().Truncate(time.Second)
	it.Notes = "rotated quarterly"
	it.Disabled = true
	it.Tags = nil
	it.Envelope.Ciphertext = "bmV3"
	it.Envelope.KeyVersion = 2
	it.LastRotatedAt = &rotated
	require.NoError(t, s.UpdateItem(ctx, it))

	got, err := s.GetItem(ctx, "a1", it.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated quarterly", got.Notes)
	assert.True(t, got.Disabled)
	assert.Empty(t, got.Tags)
	assert.Equal(t, "bmV3", got.Envelope.Ciphertext)
	assert.Equal(t, 2, got.Envelope.KeyVersion)
	require.NotNil(t, got.LastRotatedAt)
	assert.True(t, rotated.Equal(got.LastRotatedAt.UTC()))
}

func TestUpdateItem_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateItem(context.Background(), newItem("a1", "ghost"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestDeleteItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newItem("a1", "github")
	require.NoError(t, s.CreateItem(ctx, it))
	require.NoError(t, s.DeleteItem(ctx, "a1", it.ID))

	err := s.DeleteItem(ctx, "a1", it.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	// Handle is free again.
	require.NoError(t, s.CreateItem(ctx, newItem("a1", "github")))
}

func TestTouchItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newItem("a1", "github")
	require.NoError(t, s.CreateItem(ctx, it))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.TouchItems(ctx, []string{it.ID, "missing"}, at))
	require.NoError(t, s.TouchItems(ctx, nil, at))

	got, err := s.GetItem(ctx, "a1", it.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, at.Equal(got.LastUsedAt.UTC()))
}

func TestPublic_OmitsEnvelope(t *testing.T) {
	it := newItem("a1", "github")
	pub := it.Public()
	assert.Equal(t, "github", pub.Handle)
	assert.Equal(t, 1, pub.KeyVersion)

	pub.Tags[0] = "mutated"
	assert.Equal(t, "ci", it.Tags[0], "tags are copied")
}

// --- Agents ---

func TestRegisterAndGetAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterAgent(ctx, &Agent{ID: "a1", Name: "builder", Type: "llm"}))
	require.NoError(t, s.UpdateAgentSeen(ctx, "a1"))

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "builder", got.Name)
	assert.NotNil(t, got.LastSeenAt)

	_, err = s.GetAgent(ctx, "nope")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.True(t, schema.IsCode(s.UpdateAgentSeen(ctx, "nope"), schema.ErrCodeNotFound))
}

// --- Tokens ---

func TestTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := &AgentToken{ID: uuid.New().String(), AgentID: "a1", Prefix: "mcva_0011aabb", Hash: "scrypt$x$y", Label: "ci"}
	require.NoError(t, s.CreateToken(ctx, tok))

	dup := &AgentToken{ID: uuid.New().String(), AgentID: "a1", Prefix: "mcva_0011aabb", Hash: "scrypt$x$y"}
	assert.True(t, schema.IsCode(s.CreateToken(ctx, dup), schema.ErrCodeConflict))

	got, err := s.GetTokenByPrefix(ctx, "mcva_0011aabb")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AgentID)
	assert.Equal(t, "scrypt$x$y", got.Hash)
	assert.False(t, got.Disabled)

	require.NoError(t, s.SetTokenDisabled(ctx, tok.ID, true))
	require.NoError(t, s.TouchToken(ctx, tok.ID, time.Now().UTC()))

	list, err := s.ListTokens(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Disabled)
	assert.NotNil(t, list[0].LastUsedAt)

	_, err = s.GetTokenByPrefix(ctx, "mcva_ffffffff")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

// --- Audit ---

func TestAuditAppendListPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	entries := []*AuditEntry{
		{ID: uuid.New().String(), Timestamp: old, ActorType: ActorAgent, AgentID: "a1", Action: AuditResolve, Status: AuditOK},
		{ID: uuid.New().String(), Timestamp: recent, ActorType: ActorAgent, AgentID: "a1", Action: AuditResolve, Status: AuditDeny,
			Error: "disabled", SessionKey: "s1", ToolName: "http.fetch", Meta: map[string]any{"handle": "github"}},
		{ID: uuid.New().String(), Timestamp: recent, ActorType: ActorHuman, AgentID: "a2", Action: AuditCreate, Status: AuditOK},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendAudit(ctx, e))
	}

	list, err := s.ListAudit(ctx, AuditFilter{AgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, AuditDeny, list[0].Status, "newest first")
	assert.Equal(t, "github", list[0].Meta["handle"])
	assert.Equal(t, "http.fetch", list[0].ToolName)

	denied, err := s.ListAudit(ctx, AuditFilter{Status: AuditDeny})
	require.NoError(t, err)
	assert.Len(t, denied, 1)

	n, err := s.PruneAudit(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := s.ListAudit(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
