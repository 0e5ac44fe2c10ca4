// Package server exposes the vault over HTTP: the bearer-authenticated
// resolve endpoints used by agents and the operator admin API.
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/mcvault/internal/auth"
	"github.com/rendis/mcvault/internal/logging"
	"github.com/rendis/mcvault/internal/metrics"
	"github.com/rendis/mcvault/internal/ratelimit"
	"github.com/rendis/mcvault/internal/streaming"
	"github.com/rendis/mcvault/internal/validation"
	"github.com/rendis/mcvault/internal/vault"
)

// Deps holds the dependencies for the HTTP server.
type Deps struct {
	Vault     *vault.Service
	Auth      *auth.Authenticator
	Limiter   ratelimit.Limiter
	Validator *validation.RequestValidator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Hub feeds the audit stream route. Nil disables it.
	Hub streaming.Hub

	// AdminUser and AdminPassword guard the admin routes with HTTP Basic
	// auth. Unset or placeholder values disable the admin API.
	AdminUser     string
	AdminPassword string
}

// Server serves the vault HTTP API.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler. Vault routes are mounted under /api.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Agent surface (bearer token).
	mux.HandleFunc("POST /api/vault/resolve-batch", s.handleResolveBatch)
	mux.HandleFunc("POST /api/vault/resolve", s.handleResolve)

	// Operator surface (basic auth).
	mux.Handle("GET /api/vault/agents/{agentId}/items", s.admin(s.handleListItems))
	mux.Handle("POST /api/vault/agents/{agentId}/items", s.admin(s.handleCreateItem))
	mux.Handle("GET /api/vault/agents/{agentId}/items/{itemId}", s.admin(s.handleGetItem))
	mux.Handle("PATCH /api/vault/agents/{agentId}/items/{itemId}", s.admin(s.handleUpdateItem))
	mux.Handle("DELETE /api/vault/agents/{agentId}/items/{itemId}", s.admin(s.handleDeleteItem))
	mux.Handle("POST /api/vault/agents/{agentId}/items/{itemId}/rotate", s.admin(s.handleRotateItem))
	mux.Handle("POST /api/vault/agents/{agentId}/items/{itemId}/reveal", s.admin(s.handleRevealItem))
	mux.Handle("GET /api/vault/agents/{agentId}/items/{itemId}/hint", s.admin(s.handleItemHint))
	mux.Handle("GET /api/vault/agents/{agentId}/tokens", s.admin(s.handleListTokens))
	mux.Handle("POST /api/vault/agents/{agentId}/tokens", s.admin(s.handleIssueToken))
	mux.Handle("POST /api/vault/tokens/{tokenId}/disable", s.admin(s.handleDisableToken))
	mux.Handle("GET /api/vault/audit", s.admin(s.handleListAudit))
	mux.Handle("GET /api/vault/audit/stream", s.admin(s.handleAuditStream))

	return s.withRequestID(mux)
}

// withRequestID tags the request context for log correlation.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func adminConfigured(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v != "" && v != "change-me" && v != "changeme"
}

// admin wraps an operator handler with HTTP Basic auth.
func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !adminConfigured(s.deps.AdminUser) || !adminConfigured(s.deps.AdminPassword) {
			writeError(w, http.StatusConflict, "", "admin credentials are not configured")
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.deps.AdminUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.deps.AdminPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="mcvault"`)
			writeError(w, http.StatusUnauthorized, "", "authentication required")
			return
		}
		h(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"configured": s.deps.Vault.Configured(),
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("vault server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
