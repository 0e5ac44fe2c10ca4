package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter is a process-local fixed-window limiter.
type MemoryLimiter struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(p Policy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:  p.normalized(),
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow counts one request for key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(m.policy.Window)}
		m.windows[key] = w
	}
	if w.count >= m.policy.Limit {
		return Result{Allowed: false, ResetAt: w.resetAt, RetryAfter: w.resetAt.Sub(now)}, nil
	}
	w.count++
	return Result{Allowed: true, Remaining: m.policy.Limit - w.count, ResetAt: w.resetAt}, nil
}

// Sweep drops finished windows and returns how many were removed.
func (m *MemoryLimiter) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
			n++
		}
	}
	return n
}

// Close is a no-op.
func (m *MemoryLimiter) Close() error { return nil }
