// Package resolver substitutes vault placeholders in tool-call parameters
// just in time, failing closed on any uncertainty.
package resolver

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rendis/mcvault/internal/logging"
	"github.com/rendis/mcvault/internal/metrics"
	"github.com/rendis/mcvault/internal/placeholder"
	"github.com/rendis/mcvault/internal/redact"
	"github.com/rendis/mcvault/pkg/schema"
)

// Call is one tool invocation whose parameters may hold placeholders.
type Call struct {
	AgentID    string
	SessionKey string
	ToolName   string
	Params     any
}

// Options wires a Resolver. Client may be nil when no endpoint is
// configured; any call with placeholders then fails with CONFIGURATION_ERROR.
type Options struct {
	Scanner *placeholder.Scanner
	Tokens  *TokenResolver
	Client  BatchClient
	Cache   *Cache
	Tracker *redact.Tracker
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// StrictMisses blocks the call when a requested key is absent from an
	// otherwise successful response. When false the placeholder stays literal.
	StrictMisses bool
}

// Resolver runs the scan, lookup and substitute pipeline. Safe for
// concurrent use.
type Resolver struct {
	scanner      *placeholder.Scanner
	tokens       *TokenResolver
	client       BatchClient
	cache        *Cache
	tracker      *redact.Tracker
	metrics      *metrics.Metrics
	logger       *slog.Logger
	strictMisses bool

	group singleflight.Group
}

// New creates a Resolver. Scanner, Cache and Tracker get defaults when nil.
func New(opts Options) *Resolver {
	if opts.Scanner == nil {
		opts.Scanner, _ = placeholder.NewScanner(placeholder.DefaultPrefix)
	}
	if opts.Cache == nil {
		opts.Cache = NewCache(DefaultCacheTTL)
	}
	if opts.Tracker == nil {
		opts.Tracker = redact.NewTracker(redact.DefaultSessionTTL)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		scanner:      opts.Scanner,
		tokens:       opts.Tokens,
		client:       opts.Client,
		cache:        opts.Cache,
		tracker:      opts.Tracker,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		strictMisses: opts.StrictMisses,
	}
}

// Cache returns the resolution cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Tracker returns the session secret tracker fed by Resolve.
func (r *Resolver) Tracker() *redact.Tracker { return r.tracker }

// wanted is one distinct (handle, field) pair of a call.
type wanted struct {
	key    string
	handle string
	field  schema.Field
}

// Resolve returns call.Params with every placeholder replaced by its value.
// Parameters without placeholders are returned as is and cause no I/O. On
// error the parameters must not be used; the error is a *schema.VaultError
// whose message never contains a credential.
func (r *Resolver) Resolve(ctx context.Context, call Call) (any, error) {
	ctx = logging.WithToolCall(ctx, call.AgentID, call.SessionKey, call.ToolName)
	log := r.logger

	out, err := r.resolve(ctx, call, log)
	switch {
	case err != nil:
		r.metrics.ResolverCall(metrics.OutcomeBlocked, schema.CodeOf(err))
		log.WarnContext(ctx, "vault resolve blocked tool call", "code", schema.CodeOf(err), "error", err)
	case out.found == 0:
		r.metrics.ResolverCall(metrics.OutcomeNoPlaceholders, "")
	default:
		r.metrics.ResolverCall(metrics.OutcomeResolved, "")
		log.DebugContext(ctx, "vault placeholders resolved", "placeholders", out.found, "fetched", out.fetched)
	}
	if err != nil {
		return nil, err
	}
	return out.params, nil
}

type resolveResult struct {
	params  any
	found   int
	fetched int
}

func (r *Resolver) resolve(ctx context.Context, call Call, log *slog.Logger) (resolveResult, error) {
	refs, err := r.scanner.Scan(call.Params)
	if err != nil {
		return resolveResult{}, schema.NewError(schema.ErrCodeValidation, "tool parameters are not a JSON document").WithCause(err)
	}
	if len(refs) == 0 {
		return resolveResult{params: call.Params}, nil
	}

	if r.client == nil {
		return resolveResult{}, schema.NewError(schema.ErrCodeConfiguration,
			"vault placeholders detected, but no vault endpoint is configured")
	}
	token, err := r.tokens.Token(call.AgentID)
	if err != nil {
		return resolveResult{}, err
	}

	scope := cacheScope(call.AgentID, call.ToolName)
	values := make(map[string]string, len(refs))
	var misses []wanted
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		key := ref.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		if v, ok := r.cache.Get(scope, key); ok {
			values[key] = v
			continue
		}
		misses = append(misses, wanted{key: key, handle: ref.Handle, field: ref.Field})
	}
	r.metrics.CacheLookup(len(seen)-len(misses), len(misses))

	if len(misses) > 0 {
		fetched, err := r.fetch(ctx, scope, token, call, misses)
		if err != nil {
			return resolveResult{}, err
		}
		for _, m := range misses {
			if v, ok := fetched[m.key]; ok && v != "" {
				values[m.key] = v
			}
		}
	}

	subs := make(map[string]string, len(refs))
	var missing []string
	for _, ref := range refs {
		v, ok := values[ref.Key()]
		if !ok {
			missing = append(missing, ref.Raw)
			continue
		}
		subs[ref.Raw] = v
		if ref.Field == schema.FieldSecret {
			r.tracker.Touch(call.SessionKey, v)
		}
	}
	if len(missing) > 0 {
		if r.strictMisses {
			return resolveResult{}, schema.NewErrorf(schema.ErrCodeUnresolved,
				"vault returned no value for %d placeholder(s)", len(missing)).
				WithDetails(map[string]any{"placeholders": missing})
		}
		log.WarnContext(ctx, "vault placeholders left unresolved", "placeholders", missing)
	}

	params, err := r.scanner.Substitute(call.Params, subs)
	if err != nil {
		return resolveResult{}, schema.NewError(schema.ErrCodeValidation, "tool parameters are not a JSON document").WithCause(err)
	}
	return resolveResult{params: params, found: len(refs), fetched: len(misses)}, nil
}

// fetch issues one batched request for misses. Identical concurrent batches
// share a single round trip. The round trip is detached from ctx: a caller
// that gives up returns immediately, and a late answer still fills the cache.
func (r *Resolver) fetch(ctx context.Context, scope, token string, call Call, misses []wanted) (map[string]string, error) {
	keys := make([]string, len(misses))
	for i, m := range misses {
		keys[i] = m.key
	}
	sort.Strings(keys)
	flightKey := scope + "\x00" + call.SessionKey + "\x00" + strings.Join(keys, "\x00")

	req := schema.ResolveBatchRequest{
		Requests:   make([]schema.ResolveRequest, len(misses)),
		SessionKey: call.SessionKey,
		ToolName:   call.ToolName,
	}
	for i, m := range misses {
		req.Requests[i] = schema.ResolveRequest{Key: m.key, Handle: m.handle, Field: string(m.field)}
	}

	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(flightKey, func() (any, error) {
		start := time.Now()
		values, err := r.client.ResolveBatch(detached, token, req)
		status := "ok"
		if err != nil {
			status = schema.CodeOf(err)
		}
		r.metrics.BatchDone(status, time.Since(start))
		if err != nil {
			return nil, err
		}
		for k, v := range values {
			if v != "" {
				r.cache.Set(scope, k, v)
			}
		}
		return values, nil
	})

	select {
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeTransport, "vault resolve cancelled").WithCause(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if schema.CodeOf(res.Err) == "" {
				return nil, schema.NewError(schema.ErrCodeTransport, "vault resolve failed").WithCause(res.Err)
			}
			return nil, res.Err
		}
		return res.Val.(map[string]string), nil
	}
}

// cacheScope partitions the cache by acting agent and tool. Handles are only
// unique per agent, and item policies are evaluated per tool.
func cacheScope(agentID, toolName string) string {
	return agentID + "\x00" + toolName
}
