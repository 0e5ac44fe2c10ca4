package vault

import (
	"context"

	"github.com/google/uuid"

	"github.com/rendis/mcvault/internal/store"
)

// audit appends entry, then publishes it to the hub. Failures are logged
// and never returned: an audit write must not break the operation it records.
func (s *Service) audit(ctx context.Context, entry *store.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if err := s.store.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.WarnContext(ctx, "audit append failed",
			"action", entry.Action,
			"status", entry.Status,
			"agent_id", entry.AgentID,
			"error", err,
		)
		return
	}
	if s.hub != nil {
		_ = s.hub.Publish(context.WithoutCancel(ctx), entry)
	}
}
