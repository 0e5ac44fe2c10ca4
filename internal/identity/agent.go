// Package identity registers the agents that own vault items and tokens.
package identity

import (
	"context"
	"strings"

	"github.com/rendis/mcvault/internal/store"
	"github.com/rendis/mcvault/pkg/schema"
)

// Agent type constants.
const (
	AgentTypeLLM     = "llm"
	AgentTypeSystem  = "system"
	AgentTypeHuman   = "human"
	AgentTypeService = "service"
)

// MaxAgentIDLength bounds agent ids; they are part of the AAD and the HKDF info.
const MaxAgentIDLength = 128

// Registry is the part of store.Store identity needs.
type Registry interface {
	RegisterAgent(ctx context.Context, agent *store.Agent) error
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	UpdateAgentSeen(ctx context.Context, id string) error
}

// ValidateAgentType checks that typ is one of the valid agent types.
func ValidateAgentType(typ string) error {
	switch typ {
	case AgentTypeLLM, AgentTypeSystem, AgentTypeHuman, AgentTypeService:
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeValidation,
		"invalid agent type %q: must be one of llm, system, human, service", typ)
}

// ValidateAgentID rejects ids that would make the associated data ambiguous.
func ValidateAgentID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return schema.NewError(schema.ErrCodeValidation, "agent id is required")
	case len(id) > MaxAgentIDLength:
		return schema.NewErrorf(schema.ErrCodeValidation, "agent id exceeds %d characters", MaxAgentIDLength)
	case strings.ContainsAny(id, "|/\n\r"):
		return schema.NewErrorf(schema.ErrCodeValidation, "agent id %q contains a reserved character", id)
	}
	return nil
}

// EnsureRegistered returns the stored agent, registering it first when it
// is unknown. New agents are named after their id with type llm. An existing
// agent gets last_seen_at bumped.
func EnsureRegistered(ctx context.Context, r Registry, id string) (*store.Agent, error) {
	if err := ValidateAgentID(id); err != nil {
		return nil, err
	}
	existing, err := r.GetAgent(ctx, id)
	if err == nil {
		_ = r.UpdateAgentSeen(ctx, id)
		return existing, nil
	}
	if !schema.IsCode(err, schema.ErrCodeNotFound) {
		return nil, err
	}

	agent := &store.Agent{ID: id, Name: id, Type: AgentTypeLLM}
	if err := r.RegisterAgent(ctx, agent); err != nil {
		return nil, err
	}
	return r.GetAgent(ctx, id)
}
