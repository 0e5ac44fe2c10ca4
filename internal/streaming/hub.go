// Package streaming fans committed audit entries out to live subscribers.
package streaming

import (
	"context"

	"github.com/rendis/mcvault/internal/store"
)

// Filter specifies which audit entries a subscriber wants to receive.
// Empty fields match everything.
type Filter struct {
	AgentID  string   `json:"agent_id,omitempty"`
	Actions  []string `json:"actions,omitempty"`
	Statuses []string `json:"statuses,omitempty"`
}

// Publisher accepts committed audit entries.
type Publisher interface {
	Publish(ctx context.Context, entry *store.AuditEntry) error
}

// Hub provides pub/sub for audit entries.
type Hub interface {
	Publisher
	Subscribe(ctx context.Context, filter Filter) (<-chan *store.AuditEntry, func(), error)
}
