package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/mcvault/internal/secrets"
	"github.com/rendis/mcvault/pkg/schema"
)

// VaultItem is the persisted representation of a credential record.
// The envelope is always stored and loaded as a unit.
type VaultItem struct {
	ID            string              `json:"id"`
	AgentID       string              `json:"agent_id"`
	Handle        string              `json:"handle"`
	Type          schema.ItemType     `json:"type"`
	Service       string              `json:"service,omitempty"`
	Username      string              `json:"username,omitempty"`
	Notes         string              `json:"notes,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
	Envelope      secrets.Envelope    `json:"-"`
	ExposureMode  schema.ExposureMode `json:"exposure_mode"`
	Disabled      bool                `json:"disabled"`
	Policy        string              `json:"policy,omitempty"` // CEL expression gating resolution
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	LastUsedAt    *time.Time          `json:"last_used_at,omitempty"`
	LastRotatedAt *time.Time          `json:"last_rotated_at,omitempty"`
}

// Public returns the item without envelope material.
func (it *VaultItem) Public() schema.Item {
	return schema.Item{
		ID:            it.ID,
		AgentID:       it.AgentID,
		Handle:        it.Handle,
		Type:          it.Type,
		Service:       it.Service,
		Username:      it.Username,
		Notes:         it.Notes,
		Tags:          append([]string(nil), it.Tags...),
		ExposureMode:  it.ExposureMode,
		Disabled:      it.Disabled,
		Policy:        it.Policy,
		KeyVersion:    it.Envelope.KeyVersion,
		CreatedAt:     it.CreatedAt,
		UpdatedAt:     it.UpdatedAt,
		LastUsedAt:    it.LastUsedAt,
		LastRotatedAt: it.LastRotatedAt,
	}
}

// Agent is a registered identity that can own items and tokens.
type Agent struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       string          `json:"type"` // llm, system, human, service
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	LastSeenAt *time.Time      `json:"last_seen_at,omitempty"`
}

// AgentToken is a hashed bearer credential for the resolve endpoint.
type AgentToken struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agent_id"`
	Prefix     string     `json:"token_prefix"`
	Hash       string     `json:"-"`
	Label      string     `json:"label,omitempty"`
	Disabled   bool       `json:"disabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Audit actor types, actions and statuses.
const (
	ActorHuman = "human"
	ActorAgent = "agent"

	AuditCreate  = "create"
	AuditUpdate  = "update"
	AuditRotate  = "rotate"
	AuditDisable = "disable"
	AuditEnable  = "enable"
	AuditDelete  = "delete"
	AuditResolve = "resolve"
	AuditReveal  = "reveal"

	AuditOK    = "ok"
	AuditDeny  = "deny"
	AuditError = "error"
)

// AuditEntry is an immutable record of a vault action.
type AuditEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"ts"`
	ActorType  string         `json:"actor_type"`
	AgentID    string         `json:"agent_id,omitempty"`
	ItemID     string         `json:"vault_item_id,omitempty"`
	Action     string         `json:"action"`
	Status     string         `json:"status"`
	SessionKey string         `json:"session_key,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Error      string         `json:"error,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// --- Filter types ---

// ItemFilter specifies criteria for listing items.
type ItemFilter struct {
	AgentID         string
	IncludeDisabled bool
	Limit           int
}

// AuditFilter specifies criteria for listing audit entries, newest first.
type AuditFilter struct {
	AgentID string
	ItemID  string
	Action  string
	Status  string
	Since   *time.Time
	Limit   int
}
