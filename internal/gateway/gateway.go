// Package gateway is the integration surface for an agent runtime: it
// resolves placeholders before a tool runs and redacts tracked secrets
// from tool results before they are persisted.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rendis/mcvault/internal/logging"
	"github.com/rendis/mcvault/internal/metrics"
	"github.com/rendis/mcvault/internal/redact"
	"github.com/rendis/mcvault/internal/resolver"
	"github.com/rendis/mcvault/internal/scheduler"
	"github.com/rendis/mcvault/pkg/schema"
)

// Redaction results recorded in metrics.
const (
	RedactionApplied  = "applied"
	RedactionSkipped  = "skipped"
	RedactionDegraded = "degraded"
)

// genericFailure is shown to the agent for failures whose detail belongs
// in operator logs only.
const genericFailure = "Vault resolve failed. See gateway logs."

// ToolCall is a pending tool invocation.
type ToolCall struct {
	AgentID    string
	SessionKey string
	ToolName   string
	Params     any
}

// Decision tells the runtime how to proceed with a tool call. When Block is
// set, Params is nil and the tool must not run.
type Decision struct {
	Params      any
	Block       bool
	BlockReason string
}

// Redaction is a tool result prepared for persistence.
type Redaction struct {
	Message  any
	Applied  bool
	Degraded bool
}

// Hooks binds a resolver and a redactor sharing one session tracker.
type Hooks struct {
	resolver *resolver.Resolver
	redactor *redact.Redactor
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates Hooks. The redactor must read the tracker the resolver feeds.
func New(r *resolver.Resolver, red *redact.Redactor, m *metrics.Metrics, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{resolver: r, redactor: red, metrics: m, logger: logger}
}

// BeforeToolCall resolves placeholders in call.Params. Any resolver error
// blocks the call.
func (h *Hooks) BeforeToolCall(ctx context.Context, call ToolCall) Decision {
	params, err := h.resolver.Resolve(ctx, resolver.Call{
		AgentID:    call.AgentID,
		SessionKey: call.SessionKey,
		ToolName:   call.ToolName,
		Params:     call.Params,
	})
	if err != nil {
		return Decision{Block: true, BlockReason: blockReason(err)}
	}
	return Decision{Params: params}
}

func blockReason(err error) string {
	var msg string
	var verr *schema.VaultError
	if errors.As(err, &verr) {
		msg = verr.Message
	}
	switch schema.CodeOf(err) {
	case schema.ErrCodeConfiguration, schema.ErrCodeUnresolved:
		return msg
	case schema.ErrCodeTransport, schema.ErrCodeDecryption, schema.ErrCodeStore, "":
		return genericFailure
	}
	return "Vault resolve refused: " + msg
}

// ToolResultPersist masks every secret tracked for the session in message.
// Messages of unsupported shape are returned unchanged with Degraded set.
func (h *Hooks) ToolResultPersist(ctx context.Context, sessionKey string, message any) Redaction {
	out, applied, err := h.redactor.Redact(sessionKey, message)
	if err != nil {
		h.metrics.Redaction(RedactionDegraded)
		h.logger.WarnContext(logging.WithSessionKey(ctx, sessionKey),
			"tool result not redacted: unsupported shape", "error", err)
		return Redaction{Message: message, Degraded: true}
	}
	if applied {
		h.metrics.Redaction(RedactionApplied)
	} else {
		h.metrics.Redaction(RedactionSkipped)
	}
	return Redaction{Message: out, Applied: applied}
}

// Unmaskable reports how many secrets tracked for the session are too short
// for ToolResultPersist to mask.
func (h *Hooks) Unmaskable(sessionKey string) int {
	return h.redactor.Unmaskable(sessionKey)
}

// MaintenanceJobs returns sweep jobs for the resolver cache and the session
// tracker, for runtimes that keep Hooks alive.
func (h *Hooks) MaintenanceJobs(spec string) []scheduler.Job {
	return []scheduler.Job{
		scheduler.SweepJob(scheduler.JobCacheSweep, spec, h.resolver.Cache()),
		scheduler.SweepJob(scheduler.JobSessionSweep, spec, h.redactor.Tracker()),
	}
}

// ClearSession drops every tracked secret of the session.
func (h *Hooks) ClearSession(sessionKey string) {
	h.redactor.Tracker().Clear(sessionKey)
}
