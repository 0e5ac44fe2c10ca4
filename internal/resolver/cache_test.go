package resolver

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestCache_GetSetExpire(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(30 * time.Second)
	c.now = clock.Now

	c.Set("a1", "gh#secret", "v1")
	v, ok := c.Get("a1", "gh#secret")
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	clock.Advance(29 * time.Second)
	_, ok = c.Get("a1", "gh#secret")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("a1", "gh#secret")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "lazily evicted")
}

func TestCache_ScopesAreIsolated(t *testing.T) {
	c := NewCache(0)
	c.Set("a1", "gh#secret", "one")
	c.Set("a2", "gh#secret", "two")

	v, _ := c.Get("a1", "gh#secret")
	assert.Equal(t, "one", v)
	v, _ = c.Get("a2", "gh#secret")
	assert.Equal(t, "two", v)
	_, ok := c.Get("a3", "gh#secret")
	assert.False(t, ok)
}

func TestCache_SweepAndPurge(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(time.Minute)
	c.now = clock.Now

	c.Set("a1", "old#secret", "x")
	clock.Advance(40 * time.Second)
	c.Set("a1", "new#secret", "y")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%8))
			c.Set("scope", key, "v")
			c.Get("scope", key)
			c.Sweep()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, c.Len())
}
