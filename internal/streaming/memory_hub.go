package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rendis/mcvault/internal/store"
)

const defaultChannelBuffer = 64

// subscriber holds a channel and filter for a single subscriber.
type subscriber struct {
	ch     chan *store.AuditEntry
	filter Filter
}

// MemoryHub is an in-memory Hub using channels.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
	}
}

// Publish sends a copy of entry to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the entry is dropped.
func (h *MemoryHub) Publish(ctx context.Context, entry *store.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, entry) {
			continue
		}
		cp := *entry
		select {
		case sub.ch <- &cp:
		default:
			// backpressure: drop entry for slow subscriber
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe creates a new subscription filtered by filter.
// Returns a receive-only channel, a cancel function, and any error.
// The channel is never closed; stop reading once cancel is called.
func (h *MemoryHub) Subscribe(ctx context.Context, filter Filter) (<-chan *store.AuditEntry, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan *store.AuditEntry, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many entries were dropped for slow subscribers.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }

// matchFilter returns true if the entry passes the filter criteria.
func matchFilter(f Filter, e *store.AuditEntry) bool {
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
		return false
	}
	return true
}
