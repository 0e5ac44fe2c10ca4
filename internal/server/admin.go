package server

import (
	"net/http"
	"strings"

	"github.com/rendis/mcvault/internal/store"
	"github.com/rendis/mcvault/internal/validation"
	"github.com/rendis/mcvault/pkg/schema"
)

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Vault.ListItems(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if items == nil {
		items = []schema.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req schema.CreateItemRequest
	if err := s.decode(r, validation.CreateItem, &req); err != nil {
		writeVaultError(w, err)
		return
	}
	item, err := s.deps.Vault.CreateItem(r.Context(), r.PathValue("agentId"), req)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "item": item})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Vault.GetItem(r.Context(), r.PathValue("agentId"), r.PathValue("itemId"))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "item": item})
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req schema.UpdateItemRequest
	if err := s.decode(r, validation.UpdateItem, &req); err != nil {
		writeVaultError(w, err)
		return
	}
	item, err := s.deps.Vault.UpdateItem(r.Context(), r.PathValue("agentId"), r.PathValue("itemId"), req)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "item": item})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Vault.DeleteItem(r.Context(), r.PathValue("agentId"), r.PathValue("itemId")); err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRotateItem(w http.ResponseWriter, r *http.Request) {
	var req schema.RotateItemRequest
	if err := s.decode(r, validation.RotateItem, &req); err != nil {
		writeVaultError(w, err)
		return
	}
	item, err := s.deps.Vault.RotateItem(r.Context(), r.PathValue("agentId"), r.PathValue("itemId"), req)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "item": item})
}

func (s *Server) handleRevealItem(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Vault.RevealItem(r.Context(), r.PathValue("agentId"), r.PathValue("itemId"))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleItemHint(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Vault.GetItem(r.Context(), r.PathValue("agentId"), r.PathValue("itemId"))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	hint, err := s.deps.Vault.Hint(r.Context(), item.AgentID, item.Handle)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "handle": item.Handle, "hint": hint})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	toks, err := s.deps.Auth.List(r.Context(), r.PathValue("agentId"))
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if toks == nil {
		toks = []*store.AgentToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tokens": toks})
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label string `json:"label"`
	}
	if raw, err := readBody(r); err != nil {
		writeVaultError(w, err)
		return
	} else if len(strings.TrimSpace(string(raw))) > 0 {
		if err := decodeJSON(raw, &body); err != nil {
			writeVaultError(w, err)
			return
		}
	}
	issued, err := s.deps.Auth.Issue(r.Context(), r.PathValue("agentId"), body.Label)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "token": issued.Token, "record": issued.Record})
}

func (s *Server) handleDisableToken(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Auth.Revoke(r.Context(), r.PathValue("tokenId")); err != nil {
		writeVaultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	entries, err := s.deps.Vault.ListAudit(r.Context(), store.AuditFilter{
		AgentID: strings.TrimSpace(q.Get("agentId")),
		ItemID:  strings.TrimSpace(q.Get("vaultItemId")),
		Action:  strings.TrimSpace(q.Get("action")),
		Status:  strings.TrimSpace(q.Get("status")),
		Limit:   limit,
	})
	if err != nil {
		writeVaultError(w, err)
		return
	}
	if entries == nil {
		entries = []*store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": entries})
}
