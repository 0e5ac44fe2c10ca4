// Package redact tracks the secret values each session has used and scrubs
// them from documents before they are persisted or replayed.
package redact

import (
	"sync"
	"time"
)

// GlobalSession is the tracker key used when a call carries no session key.
const GlobalSession = "global"

// DefaultSessionTTL bounds how long a session's secrets stay tracked.
const DefaultSessionTTL = 10 * time.Minute

type sessionEntry struct {
	values    map[string]struct{}
	expiresAt time.Time
}

// Tracker is a per-session set of secret values with a fixed horizon.
// The expiry is set when a session's entry is created and is not extended
// by later touches. Safe for concurrent use.
type Tracker struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewTracker creates a tracker; ttl <= 0 means DefaultSessionTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Tracker{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*sessionEntry),
	}
}

func sessionKey(key string) string {
	if key == "" {
		return GlobalSession
	}
	return key
}

// Touch records value for the session. Empty values are ignored.
func (t *Tracker) Touch(session, value string) {
	if value == "" {
		return
	}
	key := sessionKey(session)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.sessions[key]; ok && e.expiresAt.After(now) {
		e.values[value] = struct{}{}
		return
	}
	t.sessions[key] = &sessionEntry{
		values:    map[string]struct{}{value: {}},
		expiresAt: now.Add(t.ttl),
	}
}

// Values returns the session's tracked secrets, or nil when the session has
// none or its entry expired. Expired entries are dropped.
func (t *Tracker) Values(session string) []string {
	key := sessionKey(session)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.After(now) {
		delete(t.sessions, key)
		return nil
	}
	out := make([]string, 0, len(e.values))
	for v := range e.values {
		out = append(out, v)
	}
	return out
}

// Clear forgets a session.
func (t *Tracker) Clear(session string) {
	t.mu.Lock()
	delete(t.sessions, sessionKey(session))
	t.mu.Unlock()
}

// Sweep drops expired sessions and returns how many were removed.
func (t *Tracker) Sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.sessions {
		if !e.expiresAt.After(now) {
			delete(t.sessions, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked sessions, expired or not.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
