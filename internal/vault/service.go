// Package vault holds the item repository rules: handle uniqueness and
// generation, envelope sealing, exposure checks, policy gating, and the
// server side of resolve-batch.
package vault

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/mcvault/internal/identity"
	"github.com/rendis/mcvault/internal/policy"
	"github.com/rendis/mcvault/internal/secrets"
	"github.com/rendis/mcvault/internal/store"
	"github.com/rendis/mcvault/internal/streaming"
	"github.com/rendis/mcvault/pkg/schema"
)

// DefaultMaxBatch caps the requests of one resolve-batch call.
const DefaultMaxBatch = 50

// Options wires a Service. Sealer may be nil when no master key is
// configured; every operation touching secrets then fails with
// CONFIGURATION_ERROR.
type Options struct {
	Store    store.Store
	Sealer   secrets.Sealer
	Policy   *policy.Engine
	Logger   *slog.Logger
	MaxBatch int

	// Hub, when set, receives every committed audit entry.
	Hub streaming.Publisher
}

// Service implements item administration and resolution. Safe for
// concurrent use.
type Service struct {
	store    store.Store
	sealer   secrets.Sealer
	policy   *policy.Engine
	logger   *slog.Logger
	hub      streaming.Publisher
	maxBatch int
	now      func() time.Time
}

// New creates a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	return &Service{
		store:    opts.Store,
		sealer:   opts.Sealer,
		policy:   opts.Policy,
		logger:   opts.Logger,
		hub:      opts.Hub,
		maxBatch: opts.MaxBatch,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Configured reports whether a master key is available.
func (s *Service) Configured() bool { return s.sealer != nil }

func (s *Service) requireSealer() error {
	if s.sealer == nil {
		return schema.NewError(schema.ErrCodeConfiguration, "vault setup required: no master key configured")
	}
	return nil
}

func (s *Service) validatePolicy(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	if s.policy == nil {
		return schema.NewError(schema.ErrCodeConfiguration, "item policies are not enabled")
	}
	return s.policy.Validate(expr)
}

// CreateItem validates, seals and stores a new item. An explicit handle must
// be well formed and unused; an omitted one is generated.
func (s *Service) CreateItem(ctx context.Context, agentID string, in schema.CreateItemRequest) (schema.Item, error) {
	if err := s.requireSealer(); err != nil {
		return schema.Item{}, err
	}
	if err := identity.ValidateAgentID(agentID); err != nil {
		return schema.Item{}, err
	}
	if !in.Type.Valid() {
		return schema.Item{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid type %q", in.Type)
	}
	if in.ExposureMode == "" {
		in.ExposureMode = schema.ExposureInjectOnly
	}
	if !in.ExposureMode.Valid() {
		return schema.Item{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid exposureMode %q", in.ExposureMode)
	}
	if strings.TrimSpace(in.Secret) == "" {
		return schema.Item{}, schema.NewError(schema.ErrCodeValidation, "missing secret value")
	}
	if err := s.validatePolicy(in.Policy); err != nil {
		return schema.Item{}, err
	}

	service := strings.TrimSpace(in.Service)
	handle := strings.TrimSpace(in.Handle)
	if handle != "" {
		if !schema.ValidHandle(handle) {
			return schema.Item{}, schema.NewErrorf(schema.ErrCodeValidation,
				"handle must match ^[A-Za-z0-9][A-Za-z0-9._-]*$ and be at most %d characters", schema.MaxHandleLength)
		}
		exists, err := s.store.HandleExists(ctx, agentID, handle)
		if err != nil {
			return schema.Item{}, err
		}
		if exists {
			return schema.Item{}, schema.NewErrorf(schema.ErrCodeConflict, "handle %q already exists for this agent", handle)
		}
	} else {
		var err error
		if handle, err = s.generateHandle(ctx, agentID, service, in.Type); err != nil {
			return schema.Item{}, err
		}
	}

	if _, err := identity.EnsureRegistered(ctx, s.store, agentID); err != nil {
		return schema.Item{}, err
	}

	env, err := s.sealer.Seal([]byte(in.Secret), secrets.EnvelopeContext{AgentID: agentID, Handle: handle, Type: in.Type})
	if err != nil {
		return schema.Item{}, err
	}

	now := s.now()
	item := &store.VaultItem{
		ID:            uuid.New().String(),
		AgentID:       agentID,
		Handle:        handle,
		Type:          in.Type,
		Service:       service,
		Username:      strings.TrimSpace(in.Username),
		Notes:         strings.TrimSpace(in.Notes),
		Tags:          in.Tags,
		Envelope:      env,
		ExposureMode:  in.ExposureMode,
		Policy:        strings.TrimSpace(in.Policy),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastRotatedAt: &now,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return schema.Item{}, err
	}

	s.audit(ctx, &store.AuditEntry{
		ActorType: store.ActorHuman,
		AgentID:   agentID,
		ItemID:    item.ID,
		Action:    store.AuditCreate,
		Status:    store.AuditOK,
		Meta:      map[string]any{"handle": handle, "type": string(in.Type), "service": service},
	})
	return item.Public(), nil
}

// ListItems returns every item of the agent, disabled ones included,
// without envelope material.
func (s *Service) ListItems(ctx context.Context, agentID string) ([]schema.Item, error) {
	items, err := s.store.ListItems(ctx, store.ItemFilter{AgentID: agentID, IncludeDisabled: true})
	if err != nil {
		return nil, err
	}
	out := make([]schema.Item, len(items))
	for i, it := range items {
		out[i] = it.Public()
	}
	return out, nil
}

// GetItem returns one item without envelope material.
func (s *Service) GetItem(ctx context.Context, agentID, id string) (schema.Item, error) {
	it, err := s.store.GetItem(ctx, agentID, id)
	if err != nil {
		return schema.Item{}, err
	}
	return it.Public(), nil
}

// UpdateItem applies a metadata patch. The audit action is disable or enable
// when the disabled flag flips, update otherwise.
func (s *Service) UpdateItem(ctx context.Context, agentID, id string, in schema.UpdateItemRequest) (schema.Item, error) {
	it, err := s.store.GetItem(ctx, agentID, id)
	if err != nil {
		return schema.Item{}, err
	}
	prevDisabled := it.Disabled

	if in.Service != nil {
		it.Service = strings.TrimSpace(*in.Service)
	}
	if in.Username != nil {
		it.Username = strings.TrimSpace(*in.Username)
	}
	if in.Notes != nil {
		it.Notes = strings.TrimSpace(*in.Notes)
	}
	if in.Tags != nil {
		it.Tags = *in.Tags
	}
	if in.ExposureMode != nil {
		if !in.ExposureMode.Valid() {
			return schema.Item{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid exposureMode %q", *in.ExposureMode)
		}
		it.ExposureMode = *in.ExposureMode
	}
	if in.Disabled != nil {
		it.Disabled = *in.Disabled
	}
	if in.Policy != nil {
		if err := s.validatePolicy(*in.Policy); err != nil {
			return schema.Item{}, err
		}
		it.Policy = strings.TrimSpace(*in.Policy)
	}
	it.UpdatedAt = s.now()

	if err := s.store.UpdateItem(ctx, it); err != nil {
		return schema.Item{}, err
	}

	action := store.AuditUpdate
	if prevDisabled != it.Disabled {
		action = store.AuditEnable
		if it.Disabled {
			action = store.AuditDisable
		}
	}
	s.audit(ctx, &store.AuditEntry{
		ActorType: store.ActorHuman,
		AgentID:   agentID,
		ItemID:    it.ID,
		Action:    action,
		Status:    store.AuditOK,
		Meta:      map[string]any{"handle": it.Handle},
	})
	return it.Public(), nil
}

// RotateItem re-encrypts the item's secret under the current key version.
func (s *Service) RotateItem(ctx context.Context, agentID, id string, in schema.RotateItemRequest) (schema.Item, error) {
	if err := s.requireSealer(); err != nil {
		return schema.Item{}, err
	}
	if strings.TrimSpace(in.Secret) == "" {
		return schema.Item{}, schema.NewError(schema.ErrCodeValidation, "missing secret value")
	}
	it, err := s.store.GetItem(ctx, agentID, id)
	if err != nil {
		return schema.Item{}, err
	}

	env, err := s.sealer.Seal([]byte(in.Secret), envelopeContext(it))
	if err != nil {
		return schema.Item{}, err
	}
	now := s.now()
	it.Envelope = env
	it.LastRotatedAt = &now
	it.UpdatedAt = now
	if in.Username != nil {
		it.Username = strings.TrimSpace(*in.Username)
	}
	if err := s.store.UpdateItem(ctx, it); err != nil {
		return schema.Item{}, err
	}

	s.audit(ctx, &store.AuditEntry{
		ActorType: store.ActorHuman,
		AgentID:   agentID,
		ItemID:    it.ID,
		Action:    store.AuditRotate,
		Status:    store.AuditOK,
		Meta:      map[string]any{"handle": it.Handle, "keyVersion": env.KeyVersion},
	})
	return it.Public(), nil
}

// RevealItem decrypts a revealable item for display to a human operator.
// inject_only items are FORBIDDEN.
func (s *Service) RevealItem(ctx context.Context, agentID, id string) (schema.RevealResponse, error) {
	if err := s.requireSealer(); err != nil {
		return schema.RevealResponse{}, err
	}
	it, err := s.store.GetItem(ctx, agentID, id)
	if err != nil {
		return schema.RevealResponse{}, err
	}
	entry := &store.AuditEntry{
		ActorType: store.ActorHuman,
		AgentID:   agentID,
		ItemID:    it.ID,
		Action:    store.AuditReveal,
		Meta:      map[string]any{"handle": it.Handle},
	}
	if it.ExposureMode != schema.ExposureRevealable {
		entry.Status, entry.Error = store.AuditDeny, "not_revealable"
		s.audit(ctx, entry)
		return schema.RevealResponse{}, schema.NewError(schema.ErrCodeForbidden,
			"this credential is inject-only and cannot be revealed")
	}

	plain, err := s.sealer.Open(it.Envelope, envelopeContext(it))
	if err != nil {
		entry.Status, entry.Error = store.AuditError, "decrypt_failed"
		s.audit(ctx, entry)
		return schema.RevealResponse{}, err
	}
	entry.Status = store.AuditOK
	s.audit(ctx, entry)
	return schema.RevealResponse{OK: true, Value: string(plain), Username: it.Username}, nil
}

// DeleteItem removes an item.
func (s *Service) DeleteItem(ctx context.Context, agentID, id string) error {
	it, err := s.store.GetItem(ctx, agentID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteItem(ctx, agentID, id); err != nil {
		return err
	}
	s.audit(ctx, &store.AuditEntry{
		ActorType: store.ActorHuman,
		AgentID:   agentID,
		ItemID:    id,
		Action:    store.AuditDelete,
		Status:    store.AuditOK,
		Meta:      map[string]any{"handle": it.Handle},
	})
	return nil
}

// Hint returns the placeholder hint markdown for one of the agent's handles.
func (s *Service) Hint(ctx context.Context, agentID, handle string) (string, error) {
	it, err := s.store.GetItemByHandle(ctx, agentID, handle)
	if err != nil {
		return "", err
	}
	return BuildHint(it.Handle, it.Username != "" || it.Type == schema.ItemTypeUsernamePassword), nil
}

// ListAudit returns audit entries, newest first.
func (s *Service) ListAudit(ctx context.Context, filter store.AuditFilter) ([]*store.AuditEntry, error) {
	return s.store.ListAudit(ctx, filter)
}

func envelopeContext(it *store.VaultItem) secrets.EnvelopeContext {
	return secrets.EnvelopeContext{AgentID: it.AgentID, Handle: it.Handle, Type: it.Type}
}
