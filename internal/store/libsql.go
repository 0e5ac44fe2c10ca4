package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/mcvault/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/vault.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Vault items ---

const itemColumns = `id, agent_id, handle, type, service, username, notes, tags,
	ciphertext, iv, auth_tag, key_version, exposure_mode, disabled, policy,
	created_at, updated_at, last_used_at, last_rotated_at`

// CreateItem inserts a new item. A duplicate (agent_id, handle) is a CONFLICT.
func (s *LibSQLStore) CreateItem(ctx context.Context, it *VaultItem) error {
	tags, err := marshalTags(it.Tags)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_items (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.AgentID, it.Handle, string(it.Type),
		nullStr(it.Service), nullStr(it.Username), nullStr(it.Notes), tags,
		it.Envelope.Ciphertext, it.Envelope.IV, it.Envelope.AuthTag, it.Envelope.KeyVersion,
		string(it.ExposureMode), boolInt(it.Disabled), nullStr(it.Policy),
		timeOr(it.CreatedAt, now), timeOr(it.UpdatedAt, now), nullTime(it.LastUsedAt), nullTime(it.LastRotatedAt),
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "handle %q already exists for agent %q", it.Handle, it.AgentID).
			WithCause(err).
			WithDetails(map[string]any{"handle": it.Handle})
	}
	return err
}

func (s *LibSQLStore) GetItem(ctx context.Context, agentID, id string) (*VaultItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM vault_items WHERE agent_id = ? AND id = ?`, agentID, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("vault item", id)
	}
	return it, err
}

func (s *LibSQLStore) GetItemByHandle(ctx context.Context, agentID, handle string) (*VaultItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM vault_items WHERE agent_id = ? AND handle = ?`, agentID, handle)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("vault handle", handle)
	}
	return it, err
}

func (s *LibSQLStore) ListItems(ctx context.Context, filter ItemFilter) ([]*VaultItem, error) {
	var where []string
	var args []any
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if !filter.IncludeDisabled {
		where = append(where, "disabled = 0")
	}

	query := `SELECT ` + itemColumns + ` FROM vault_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY handle ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*VaultItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *LibSQLStore) HandleExists(ctx context.Context, agentID, handle string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM vault_items WHERE agent_id = ? AND handle = ?`, agentID, handle,
	).Scan(&n)
	return n > 0, err
}

// UpdateItem rewrites the mutable columns of an item. Handle, type and
// owner are immutable because they are bound into the envelope.
func (s *LibSQLStore) UpdateItem(ctx context.Context, it *VaultItem) error {
	tags, err := marshalTags(it.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE vault_items SET service = ?, username = ?, notes = ?, tags = ?,
		   ciphertext = ?, iv = ?, auth_tag = ?, key_version = ?,
		   exposure_mode = ?, disabled = ?, policy = ?,
		   updated_at = ?, last_rotated_at = ?
		 WHERE agent_id = ? AND id = ?`,
		nullStr(it.Service), nullStr(it.Username), nullStr(it.Notes), tags,
		it.Envelope.Ciphertext, it.Envelope.IV, it.Envelope.AuthTag, it.Envelope.KeyVersion,
		string(it.ExposureMode), boolInt(it.Disabled), nullStr(it.Policy),
		timeOr(it.UpdatedAt, time.Now().UTC()), nullTime(it.LastRotatedAt),
		it.AgentID, it.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "vault item", it.ID)
}

func (s *LibSQLStore) DeleteItem(ctx context.Context, agentID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_items WHERE agent_id = ? AND id = ?`, agentID, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "vault item", id)
}

// TouchItems sets last_used_at on every listed item; unknown ids are ignored.
func (s *LibSQLStore) TouchItems(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE vault_items SET last_used_at = ? WHERE id IN (`+placeholders+`)`, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*VaultItem, error) {
	it := &VaultItem{}
	var (
		typ, exposure                  string
		service, username, notes, tags sql.NullString
		policy                         sql.NullString
		disabled                       int64
		lastUsed, lastRotated          sql.NullTime
	)
	err := r.Scan(&it.ID, &it.AgentID, &it.Handle, &typ, &service, &username, &notes, &tags,
		&it.Envelope.Ciphertext, &it.Envelope.IV, &it.Envelope.AuthTag, &it.Envelope.KeyVersion,
		&exposure, &disabled, &policy,
		&it.CreatedAt, &it.UpdatedAt, &lastUsed, &lastRotated)
	if err != nil {
		return nil, err
	}
	it.Type = schema.ItemType(typ)
	it.ExposureMode = schema.ExposureMode(exposure)
	it.Service = service.String
	it.Username = username.String
	it.Notes = notes.String
	it.Policy = policy.String
	it.Disabled = disabled != 0
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &it.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	it.LastUsedAt = timePtr(lastUsed)
	it.LastRotatedAt = timePtr(lastRotated)
	return it, nil
}

// --- Agents ---

func (s *LibSQLStore) RegisterAgent(ctx context.Context, agent *Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, type, metadata, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, metadata=excluded.metadata`,
		agent.ID, agent.Name, agent.Type, nullRaw(agent.Metadata), timeOr(agent.CreatedAt, time.Now().UTC()),
	)
	return err
}

func (s *LibSQLStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a := &Agent{}
	var metadata sql.NullString
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, metadata, created_at, last_seen_at FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Type, &metadata, &a.CreatedAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("agent", id)
	}
	if err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		a.Metadata = json.RawMessage(metadata.String)
	}
	a.LastSeenAt = timePtr(lastSeen)
	return a, nil
}

func (s *LibSQLStore) UpdateAgentSeen(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_seen_at = ? WHERE id = ?`, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "agent", id)
}

// --- Agent tokens ---

func (s *LibSQLStore) CreateToken(ctx context.Context, tok *AgentToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_agent_tokens (id, agent_id, token_prefix, token_hash, label, disabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tok.ID, tok.AgentID, tok.Prefix, tok.Hash, nullStr(tok.Label), boolInt(tok.Disabled),
		timeOr(tok.CreatedAt, time.Now().UTC()),
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "token prefix %q already exists", tok.Prefix).WithCause(err)
	}
	return err
}

const tokenColumns = `id, agent_id, token_prefix, token_hash, label, disabled, created_at, last_used_at`

func (s *LibSQLStore) GetTokenByPrefix(ctx context.Context, prefix string) (*AgentToken, error) {
	tok, err := scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM vault_agent_tokens WHERE token_prefix = ?`, prefix))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("token", prefix)
	}
	return tok, err
}

func (s *LibSQLStore) ListTokens(ctx context.Context, agentID string) ([]*AgentToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM vault_agent_tokens WHERE agent_id = ? ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) SetTokenDisabled(ctx context.Context, id string, disabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vault_agent_tokens SET disabled = ? WHERE id = ?`, boolInt(disabled), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "token", id)
}

func (s *LibSQLStore) TouchToken(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE vault_agent_tokens SET last_used_at = ? WHERE id = ?`, at, id)
	return err
}

func scanToken(r rowScanner) (*AgentToken, error) {
	tok := &AgentToken{}
	var label sql.NullString
	var disabled int64
	var lastUsed sql.NullTime
	if err := r.Scan(&tok.ID, &tok.AgentID, &tok.Prefix, &tok.Hash, &label, &disabled, &tok.CreatedAt, &lastUsed); err != nil {
		return nil, err
	}
	tok.Label = label.String
	tok.Disabled = disabled != 0
	tok.LastUsedAt = timePtr(lastUsed)
	return tok, nil
}

// --- Audit ---

func (s *LibSQLStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	var meta any
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("marshal audit meta: %w", err)
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_audit (id, ts, actor_type, agent_id, vault_item_id, action, status, session_key, tool_name, error, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, timeOr(e.Timestamp, time.Now().UTC()), e.ActorType, nullStr(e.AgentID), nullStr(e.ItemID),
		e.Action, e.Status, nullStr(e.SessionKey), nullStr(e.ToolName), nullStr(e.Error), meta,
	)
	return err
}

func (s *LibSQLStore) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	var where []string
	var args []any
	add := func(col, v string) {
		if v != "" {
			where = append(where, col+" = ?")
			args = append(args, v)
		}
	}
	add("agent_id", filter.AgentID)
	add("vault_item_id", filter.ItemID)
	add("action", filter.Action)
	add("status", filter.Status)
	if filter.Since != nil {
		where = append(where, "ts >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, ts, actor_type, agent_id, vault_item_id, action, status, session_key, tool_name, error, meta FROM vault_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var agentID, itemID, sessionKey, toolName, errMsg, meta sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorType, &agentID, &itemID, &e.Action, &e.Status,
			&sessionKey, &toolName, &errMsg, &meta); err != nil {
			return nil, err
		}
		e.AgentID = agentID.String
		e.ItemID = itemID.String
		e.SessionKey = sessionKey.String
		e.ToolName = toolName.String
		e.Error = errMsg.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal audit meta: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneAudit deletes entries older than before and returns how many went.
func (s *LibSQLStore) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_audit WHERE ts < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.VaultError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var verr *schema.VaultError
	if errors.As(err, &verr) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLITE_CONSTRAINT_UNIQUE")
}

func marshalTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func timeOr(t, def time.Time) time.Time {
	if t.IsZero() {
		return def
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
