package resolver

import (
	"sync"
	"time"
)

// DefaultCacheTTL is the lifetime of a resolved value in the cache.
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Cache is the process-wide resolution cache. Entries are grouped by scope
// (the acting agent and tool), then keyed by handle#field. Expired entries
// are evicted lazily on read and by Sweep. Safe for concurrent use.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	scopes map[string]map[string]cacheEntry
}

// NewCache creates a cache; ttl <= 0 means DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:    ttl,
		now:    time.Now,
		scopes: make(map[string]map[string]cacheEntry),
	}
}

// Get returns a fresh value for key within scope.
func (c *Cache) Get(scope, key string) (string, bool) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.scopes[scope][key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if e.expiresAt.After(now) {
		return e.value, true
	}

	c.mu.Lock()
	if cur, ok := c.scopes[scope][key]; ok && !cur.expiresAt.After(now) {
		c.deleteLocked(scope, key)
	}
	c.mu.Unlock()
	return "", false
}

// Set stores value under key for one TTL.
func (c *Cache) Set(scope, key, value string) {
	expires := c.now().Add(c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.scopes[scope]
	if !ok {
		entries = make(map[string]cacheEntry)
		c.scopes[scope] = entries
	}
	entries[key] = cacheEntry{value: value, expiresAt: expires}
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for scope, entries := range c.scopes {
		for key, e := range entries {
			if !e.expiresAt.After(now) {
				c.deleteLocked(scope, key)
				n++
			}
		}
	}
	return n
}

// Purge drops everything.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.scopes = make(map[string]map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, entries := range c.scopes {
		n += len(entries)
	}
	return n
}

func (c *Cache) deleteLocked(scope, key string) {
	entries := c.scopes[scope]
	delete(entries, key)
	if len(entries) == 0 {
		delete(c.scopes, scope)
	}
}
