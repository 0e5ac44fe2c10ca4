package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcvault/internal/store"
)

func entry(agentID, action, status string) *store.AuditEntry {
	return &store.AuditEntry{ID: agentID + "-" + action, AgentID: agentID, Action: action, Status: status}
}

func receive(t *testing.T, ch <-chan *store.AuditEntry) *store.AuditEntry {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
		return nil
	}
}

func assertEmpty(t *testing.T, ch <-chan *store.AuditEntry) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected entry: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	src := entry("agent-1", store.AuditResolve, store.AuditOK)
	require.NoError(t, hub.Publish(ctx, src))

	got := receive(t, ch)
	assert.Equal(t, src.ID, got.ID)
	assert.NotSame(t, src, got)
}

func TestFilterByAgent(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{AgentID: "agent-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, entry("agent-1", store.AuditResolve, store.AuditOK)))
	require.NoError(t, hub.Publish(ctx, entry("agent-2", store.AuditResolve, store.AuditOK)))

	assert.Equal(t, "agent-1", receive(t, ch).AgentID)
	assertEmpty(t, ch)
}

func TestFilterByActionAndStatus(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{
		Actions:  []string{store.AuditResolve, store.AuditReveal},
		Statuses: []string{store.AuditDeny},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, entry("a", store.AuditResolve, store.AuditDeny)))
	require.NoError(t, hub.Publish(ctx, entry("a", store.AuditResolve, store.AuditOK)))
	require.NoError(t, hub.Publish(ctx, entry("a", store.AuditCreate, store.AuditDeny)))
	require.NoError(t, hub.Publish(ctx, entry("a", store.AuditReveal, store.AuditDeny)))

	var received []string
	for i := 0; i < 2; i++ {
		received = append(received, receive(t, ch).Action)
	}
	assert.Equal(t, []string{store.AuditResolve, store.AuditReveal}, received)
	assertEmpty(t, ch)
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, hub.Publish(ctx, entry("agent-1", store.AuditRotate, store.AuditOK)))

	for _, ch := range []<-chan *store.AuditEntry{ch1, ch2} {
		assert.Equal(t, store.AuditRotate, receive(t, ch).Action)
	}
	assert.Equal(t, 2, hub.Subscribers())
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, hub.Publish(ctx, entry("agent-1", store.AuditResolve, store.AuditOK)))
	assertEmpty(t, ch)
	assert.Zero(t, hub.Subscribers())
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	// None of these may block.
	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, entry("agent-1", store.AuditResolve, store.AuditOK)))
	}

	drained := 0
	for len(ch) > 0 {
		<-ch
		drained++
	}
	assert.Equal(t, defaultChannelBuffer, drained)
	assert.EqualValues(t, 10, hub.Dropped())
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, hub.Publish(ctx, entry("a", store.AuditResolve, store.AuditOK)), context.Canceled)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancel, err := hub.Subscribe(ctx, Filter{AgentID: "agent-1"})
			if assert.NoError(t, err) {
				cancel()
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, hub.Publish(ctx, entry("agent-1", store.AuditResolve, store.AuditOK)))
		}()
	}
	wg.Wait()
}
