// Package auth authenticates agents by bearer token and manages the token
// records behind them.
package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/mcvault/internal/identity"
	"github.com/rendis/mcvault/internal/logging"
	"github.com/rendis/mcvault/internal/secrets"
	"github.com/rendis/mcvault/internal/store"
	"github.com/rendis/mcvault/pkg/schema"
)

// DefaultCacheTTL bounds how long a token record is trusted without a
// store lookup.
const DefaultCacheTTL = 30 * time.Second

// Principal is an authenticated agent token.
type Principal struct {
	AgentID     string
	TokenID     string
	TokenPrefix string
}

type cachedToken struct {
	token     *store.AgentToken
	expiresAt time.Time
}

// Authenticator verifies bearer tokens against the store. Successful
// lookups are cached by prefix; failures never are.
type Authenticator struct {
	store  store.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedToken
}

// NewAuthenticator creates an Authenticator. A non-positive ttl uses
// DefaultCacheTTL.
func NewAuthenticator(s store.Store, ttl time.Duration, logger *slog.Logger) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:  s,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cachedToken),
	}
}

func unauthorized() error {
	return schema.NewError(schema.ErrCodeAuthorization, "unauthorized")
}

// Authenticate parses an Authorization header value and returns the token's
// principal. Every failure is the same AUTHORIZATION_ERROR.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (Principal, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return Principal{}, unauthorized()
	}
	token = strings.TrimSpace(token)
	prefix, ok := secrets.ParseTokenPrefix(token)
	if !ok {
		return Principal{}, unauthorized()
	}

	rec, err := a.lookup(ctx, prefix)
	if err != nil {
		if !schema.IsCode(err, schema.ErrCodeNotFound) {
			a.logger.ErrorContext(ctx, "token lookup failed", "token_prefix", logging.MaskToken(prefix), "error", err)
		}
		return Principal{}, unauthorized()
	}
	if rec.Disabled || !secrets.VerifyToken(token, rec.Hash) {
		return Principal{}, unauthorized()
	}
	return Principal{AgentID: rec.AgentID, TokenID: rec.ID, TokenPrefix: rec.Prefix}, nil
}

func (a *Authenticator) lookup(ctx context.Context, prefix string) (*store.AgentToken, error) {
	now := a.now()
	a.mu.Lock()
	if c, ok := a.cache[prefix]; ok {
		if now.Before(c.expiresAt) {
			a.mu.Unlock()
			return c.token, nil
		}
		delete(a.cache, prefix)
	}
	a.mu.Unlock()

	rec, err := a.store.GetTokenByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.cache[prefix] = cachedToken{token: rec, expiresAt: now.Add(a.ttl)}
	a.mu.Unlock()
	return rec, nil
}

// Forget drops any cached record for prefix.
func (a *Authenticator) Forget(prefix string) {
	a.mu.Lock()
	delete(a.cache, prefix)
	a.mu.Unlock()
}

// Sweep evicts expired cache entries and returns how many were removed.
func (a *Authenticator) Sweep() int {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for k, c := range a.cache {
		if !now.Before(c.expiresAt) {
			delete(a.cache, k)
			n++
		}
	}
	return n
}

// Issued is a freshly minted token. Token is shown once and never stored.
type Issued struct {
	Token  string           `json:"token"`
	Record *store.AgentToken `json:"record"`
}

// Issue mints a token for agentID, registering the agent if needed.
func (a *Authenticator) Issue(ctx context.Context, agentID, label string) (*Issued, error) {
	if err := identity.ValidateAgentID(agentID); err != nil {
		return nil, err
	}
	if _, err := identity.EnsureRegistered(ctx, a.store, agentID); err != nil {
		return nil, err
	}
	token, prefix, err := secrets.GenerateToken()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "failed to generate token").WithCause(err)
	}
	hash, err := secrets.HashToken(token)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "failed to hash token").WithCause(err)
	}
	rec := &store.AgentToken{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Prefix:    prefix,
		Hash:      hash,
		Label:     strings.TrimSpace(label),
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.CreateToken(ctx, rec); err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "agent token issued", "agent_id", agentID, "token_prefix", logging.MaskToken(prefix))
	return &Issued{Token: token, Record: rec}, nil
}

// Revoke disables a token by id and drops it from the cache.
func (a *Authenticator) Revoke(ctx context.Context, tokenID string) error {
	if err := a.store.SetTokenDisabled(ctx, tokenID, true); err != nil {
		return err
	}
	a.mu.Lock()
	for k, c := range a.cache {
		if c.token.ID == tokenID {
			delete(a.cache, k)
		}
	}
	a.mu.Unlock()
	return nil
}

// List returns the agent's token records. Hashes are never serialized.
func (a *Authenticator) List(ctx context.Context, agentID string) ([]*store.AgentToken, error) {
	return a.store.ListTokens(ctx, agentID)
}
