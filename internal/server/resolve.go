package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/mcvault/internal/auth"
	"github.com/rendis/mcvault/internal/logging"
	"github.com/rendis/mcvault/internal/ratelimit"
	"github.com/rendis/mcvault/internal/validation"
	"github.com/rendis/mcvault/internal/vault"
	"github.com/rendis/mcvault/pkg/schema"
)

// authorizeAgent runs the common gate of the agent endpoints: vault
// configured, bearer token valid, rate limit not exceeded. It writes the
// response and returns false when the request must stop.
func (s *Server) authorizeAgent(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	if !s.deps.Vault.Configured() {
		writeError(w, http.StatusConflict, schema.ErrCodeConfiguration, "vault setup required")
		return auth.Principal{}, false
	}
	p, err := s.deps.Auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		writeVaultError(w, err)
		return auth.Principal{}, false
	}
	if s.deps.Limiter != nil {
		res, err := s.deps.Limiter.Allow(r.Context(), p.TokenPrefix)
		if err != nil {
			// A broken shared limiter must not take resolution down with it.
			s.deps.Logger.WarnContext(r.Context(), "rate limiter unavailable",
				"token_prefix", logging.MaskToken(p.TokenPrefix), "error", err)
		} else if !res.Allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(ratelimit.RetryAfterSeconds(res.RetryAfter), 10))
			writeError(w, http.StatusTooManyRequests, schema.ErrCodeRateLimited, "rate limit exceeded")
			return auth.Principal{}, false
		}
	}
	return p, true
}

func caller(p auth.Principal) vault.Caller {
	return vault.Caller{AgentID: p.AgentID, TokenID: p.TokenID, TokenPrefix: p.TokenPrefix}
}

func (s *Server) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p, ok := s.authorizeAgent(w, r)
	if !ok {
		s.deps.Metrics.ServerResolve("rejected", 0)
		return
	}

	var req schema.ResolveBatchRequest
	if err := s.decode(r, validation.ResolveBatch, &req); err != nil {
		s.deps.Metrics.ServerResolve(schema.CodeOf(err), 0)
		writeVaultError(w, err)
		return
	}
	req.SessionKey = strings.TrimSpace(req.SessionKey)
	req.ToolName = strings.TrimSpace(req.ToolName)

	ctx := logging.WithToolCall(r.Context(), p.AgentID, req.SessionKey, req.ToolName)
	values, err := s.deps.Vault.ResolveBatch(ctx, caller(p), req)
	if err != nil {
		s.deps.Metrics.ServerResolve(schema.CodeOf(err), 0)
		s.deps.Logger.InfoContext(ctx, "resolve-batch refused", "code", schema.CodeOf(err), "requests", len(req.Requests))
		writeVaultError(w, err)
		return
	}
	s.deps.Metrics.ServerResolve("ok", len(values))
	s.deps.Logger.DebugContext(ctx, "resolve-batch served", "keys", len(values), "duration", time.Since(start))
	writeJSON(w, http.StatusOK, schema.ResolveBatchResponse{OK: true, Values: values})
}

type resolveBody struct {
	Handle     string `json:"handle"`
	Field      string `json:"field,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorizeAgent(w, r)
	if !ok {
		s.deps.Metrics.ServerResolve("rejected", 0)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeVaultError(w, err)
		return
	}
	var in resolveBody
	if err := decodeJSON(body, &in); err != nil {
		writeVaultError(w, err)
		return
	}
	if strings.TrimSpace(in.Handle) == "" {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "handle is required")
		return
	}

	ctx := logging.WithToolCall(r.Context(), p.AgentID, in.SessionKey, in.ToolName)
	value, err := s.deps.Vault.Resolve(ctx, caller(p), in.Handle, in.Field, strings.TrimSpace(in.SessionKey), strings.TrimSpace(in.ToolName))
	if err != nil {
		s.deps.Metrics.ServerResolve(schema.CodeOf(err), 0)
		writeVaultError(w, err)
		return
	}
	s.deps.Metrics.ServerResolve("ok", 1)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "value": value})
}

// decode reads the body, validates it against the named schema when a
// validator is configured, and unmarshals it into v.
func (s *Server) decode(r *http.Request, schemaName string, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if s.deps.Validator != nil {
		if err := s.deps.Validator.Validate(schemaName, body); err != nil {
			return err
		}
	}
	return decodeJSON(body, v)
}
