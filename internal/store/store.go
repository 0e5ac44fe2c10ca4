package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Vault items
	CreateItem(ctx context.Context, item *VaultItem) error
	GetItem(ctx context.Context, agentID, id string) (*VaultItem, error)
	GetItemByHandle(ctx context.Context, agentID, handle string) (*VaultItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]*VaultItem, error)
	HandleExists(ctx context.Context, agentID, handle string) (bool, error)
	UpdateItem(ctx context.Context, item *VaultItem) error
	DeleteItem(ctx context.Context, agentID, id string) error
	TouchItems(ctx context.Context, ids []string, at time.Time) error

	// Agents
	RegisterAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	UpdateAgentSeen(ctx context.Context, id string) error

	// Agent tokens
	CreateToken(ctx context.Context, token *AgentToken) error
	GetTokenByPrefix(ctx context.Context, prefix string) (*AgentToken, error)
	ListTokens(ctx context.Context, agentID string) ([]*AgentToken, error)
	SetTokenDisabled(ctx context.Context, id string, disabled bool) error
	TouchToken(ctx context.Context, id string, at time.Time) error

	// Audit (append-only)
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
	PruneAudit(ctx context.Context, before time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
