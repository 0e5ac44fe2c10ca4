package scheduler

import (
	"context"
	"time"

	"github.com/rendis/mcvault/internal/store"
)

// Job names.
const (
	JobCacheSweep     = "resolver-cache-sweep"
	JobSessionSweep   = "session-secret-sweep"
	JobTokenSweep     = "token-cache-sweep"
	JobRateLimitSweep = "rate-limit-sweep"
	JobAuditPrune     = "audit-prune"
)

// Sweeper evicts expired entries and reports how many went.
type Sweeper interface {
	Sweep() int
}

// SweepJob wraps an in-memory sweeper as a job.
func SweepJob(name, spec string, sw Sweeper) Job {
	return Job{
		Name: name,
		Spec: spec,
		Run: func(context.Context, time.Time) (int64, error) {
			return int64(sw.Sweep()), nil
		},
	}
}

// AuditPruneJob deletes audit entries older than retention.
func AuditPruneJob(spec string, st store.Store, retention time.Duration) Job {
	return Job{
		Name: JobAuditPrune,
		Spec: spec,
		Run: func(ctx context.Context, now time.Time) (int64, error) {
			return st.PruneAudit(ctx, now.Add(-retention))
		},
	}
}
