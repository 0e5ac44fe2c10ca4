package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/mcvault/internal/store"
	"github.com/rendis/mcvault/pkg/schema"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// handleSummary is the agent-facing view of an item.
type handleSummary struct {
	Handle       string              `json:"handle"`
	Type         schema.ItemType     `json:"type"`
	Service      string              `json:"service,omitempty"`
	ExposureMode schema.ExposureMode `json:"exposureMode"`
	Disabled     bool                `json:"disabled"`
	HasUsername  bool                `json:"hasUsername"`
	Placeholder  string              `json:"placeholder"`
}

// handleHandles lists the agent's handles.
func (s *VaultServer) handleHandles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	includeDisabled := req.GetBool("include_disabled", false)

	items, err := s.vault.ListItems(ctx, s.agentID)
	if err != nil {
		return toolError("list handles", err), nil
	}
	out := make([]handleSummary, 0, len(items))
	for _, it := range items {
		if it.Disabled && !includeDisabled {
			continue
		}
		out = append(out, handleSummary{
			Handle:       it.Handle,
			Type:         it.Type,
			Service:      it.Service,
			ExposureMode: it.ExposureMode,
			Disabled:     it.Disabled,
			HasUsername:  it.Username != "",
			Placeholder:  "{{vault:" + it.Handle + "}}",
		})
	}
	return marshalResult(map[string]any{"handles": out, "count": len(out)})
}

// handleHint returns the hint markdown for a handle.
func (s *VaultServer) handleHint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handle, err := req.RequireString("handle")
	if err != nil || strings.TrimSpace(handle) == "" {
		return mcp.NewToolResultError("handle is required"), nil
	}
	hint, err := s.vault.Hint(ctx, s.agentID, strings.TrimSpace(handle))
	if err != nil {
		return toolError("hint", err), nil
	}
	return mcp.NewToolResultText(hint), nil
}

// handleAudit lists recent audit entries, optionally reshaped with jq.
func (s *VaultServer) handleAudit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(req.GetFloat("limit", defaultAuditLimit))
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	entries, err := s.vault.ListAudit(ctx, store.AuditFilter{
		AgentID: s.agentID,
		Action:  req.GetString("action", ""),
		Status:  req.GetString("status", ""),
		Limit:   limit,
	})
	if err != nil {
		return toolError("list audit", err), nil
	}
	if entries == nil {
		entries = []*store.AuditEntry{}
	}

	expr := strings.TrimSpace(req.GetString("jq", ""))
	if expr == "" {
		return marshalResult(map[string]any{"entries": entries, "count": len(entries)})
	}

	doc, err := toGeneric(entries)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to prepare audit entries: %v", err)), nil
	}
	result, err := s.jq.Evaluate(ctx, expr, doc)
	if err != nil {
		return toolError("jq", err), nil
	}
	return marshalResult(result)
}

// toGeneric converts v to the plain JSON value tree jq operates on.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toolError(op string, err error) *mcp.CallToolResult {
	if code := schema.CodeOf(err); code != "" {
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %s", op, err.Error()))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s failed", op))
}

// marshalResult converts a value to a JSON tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
