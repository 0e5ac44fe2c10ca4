package vault

import (
	"context"
	"errors"
	"strings"

	"github.com/rendis/mcvault/internal/policy"
	"github.com/rendis/mcvault/internal/store"
	"github.com/rendis/mcvault/pkg/schema"
)

// Caller identifies the authenticated agent token behind a resolve call.
type Caller struct {
	AgentID     string
	TokenID     string
	TokenPrefix string
}

// ResolveBatch resolves every request for the caller's agent or fails as a
// whole. Each request is audited individually.
func (s *Service) ResolveBatch(ctx context.Context, caller Caller, req schema.ResolveBatchRequest) (map[string]string, error) {
	if err := s.requireSealer(); err != nil {
		return nil, err
	}
	if len(req.Requests) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "requests must be a non-empty array")
	}
	if len(req.Requests) > s.maxBatch {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "too many requests (max %d)", s.maxBatch)
	}
	for i := range req.Requests {
		r := &req.Requests[i]
		r.Key = strings.TrimSpace(r.Key)
		r.Handle = strings.TrimSpace(r.Handle)
		if r.Key == "" || r.Handle == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "requests[%d]: key and handle are required", i)
		}
	}

	items, err := s.store.ListItems(ctx, store.ItemFilter{AgentID: caller.AgentID, IncludeDisabled: true})
	if err != nil {
		return nil, err
	}
	byHandle := make(map[string]*store.VaultItem, len(items))
	for _, it := range items {
		byHandle[it.Handle] = it
	}

	values := make(map[string]string, len(req.Requests))
	used := make(map[string]struct{})
	for _, r := range req.Requests {
		field := schema.NormalizeField(r.Field)
		it := byHandle[r.Handle]
		value, err := s.resolveOne(ctx, caller, req, r, field, it)
		if err != nil {
			return nil, err
		}
		values[r.Key] = value
		used[it.ID] = struct{}{}
	}

	s.touch(ctx, caller, used)
	return values, nil
}

// Resolve resolves a single (handle, field) pair.
func (s *Service) Resolve(ctx context.Context, caller Caller, handle, field, sessionKey, toolName string) (string, error) {
	values, err := s.ResolveBatch(ctx, caller, schema.ResolveBatchRequest{
		Requests:   []schema.ResolveRequest{{Key: "value", Handle: handle, Field: field}},
		SessionKey: sessionKey,
		ToolName:   toolName,
	})
	if err != nil {
		return "", err
	}
	return values["value"], nil
}

func (s *Service) resolveOne(ctx context.Context, caller Caller, req schema.ResolveBatchRequest,
	r schema.ResolveRequest, field schema.Field, it *store.VaultItem) (string, error) {
	entry := &store.AuditEntry{
		ActorType:  store.ActorAgent,
		AgentID:    caller.AgentID,
		Action:     store.AuditResolve,
		SessionKey: req.SessionKey,
		ToolName:   req.ToolName,
		Meta: map[string]any{
			"handle":      r.Handle,
			"field":       string(field),
			"tokenPrefix": caller.TokenPrefix,
			"key":         r.Key,
		},
	}
	deny := func(reason string, err error) (string, error) {
		entry.Status, entry.Error = store.AuditDeny, reason
		s.audit(ctx, entry)
		return "", err
	}

	if it == nil {
		return deny("not_found", schema.NewErrorf(schema.ErrCodeNotFound, "unknown handle: %s", r.Handle))
	}
	entry.ItemID = it.ID
	if it.Disabled {
		return deny("disabled", schema.NewErrorf(schema.ErrCodeDisabled, "credential is disabled: %s", r.Handle))
	}
	if it.Policy != "" {
		if err := s.allow(it, caller, field, req); err != nil {
			return deny("policy", err)
		}
	}

	var value string
	if field == schema.FieldUsername {
		value = it.Username
	} else {
		plain, err := s.sealer.Open(it.Envelope, envelopeContext(it))
		if err != nil {
			entry.Status, entry.Error = store.AuditError, "decrypt_failed"
			s.audit(ctx, entry)
			var verr *schema.VaultError
			if errors.As(err, &verr) {
				return "", err
			}
			return "", schema.NewErrorf(schema.ErrCodeDecryption, "failed to decrypt credential: %s", r.Handle).WithCause(err)
		}
		value = string(plain)
	}

	entry.Status = store.AuditOK
	s.audit(ctx, entry)
	return value, nil
}

func (s *Service) allow(it *store.VaultItem, caller Caller, field schema.Field, req schema.ResolveBatchRequest) error {
	if s.policy == nil {
		return schema.NewErrorf(schema.ErrCodeForbidden, "policy denied access to %s", it.Handle)
	}
	return s.policy.Allow(it.Policy, policy.Input{
		AgentID:    caller.AgentID,
		Handle:     it.Handle,
		Field:      string(field),
		Service:    it.Service,
		ToolName:   req.ToolName,
		SessionKey: req.SessionKey,
	})
}

// touch records usage timestamps. Failures are logged only.
func (s *Service) touch(ctx context.Context, caller Caller, used map[string]struct{}) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	if caller.TokenID != "" {
		if err := s.store.TouchToken(ctx, caller.TokenID, now); err != nil {
			s.logger.WarnContext(ctx, "touch token failed", "token_prefix", caller.TokenPrefix, "error", err)
		}
	}
	if len(used) == 0 {
		return
	}
	ids := make([]string, 0, len(used))
	for id := range used {
		ids = append(ids, id)
	}
	if err := s.store.TouchItems(ctx, ids, now); err != nil {
		s.logger.WarnContext(ctx, "touch items failed", "agent_id", caller.AgentID, "error", err)
	}
	if err := s.store.UpdateAgentSeen(ctx, caller.AgentID); err != nil && !schema.IsCode(err, schema.ErrCodeNotFound) {
		s.logger.WarnContext(ctx, "touch agent failed", "agent_id", caller.AgentID, "error", err)
	}
}
