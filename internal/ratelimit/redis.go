package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed fixedwindow.lua
var fixedWindowScript string

// DefaultKeyPrefix namespaces limiter keys in a shared Redis.
const DefaultKeyPrefix = "mcvault:ratelimit:"

// RedisLimiter shares fixed-window counters across server instances.
type RedisLimiter struct {
	client    redis.UniversalClient
	policy    Policy
	script    *redis.Script
	keyPrefix string
	now       func() time.Time
	closeOnce sync.Once
}

// NewRedisLimiter creates a limiter on client. An empty keyPrefix uses
// DefaultKeyPrefix.
func NewRedisLimiter(client redis.UniversalClient, p Policy, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisLimiter{
		client:    client,
		policy:    p.normalized(),
		script:    redis.NewScript(fixedWindowScript),
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// Allow counts one request for key. Script.Run retries with EVAL when the
// script is not cached on the server.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	res, err := r.script.Run(ctx, r.client,
		[]string{r.keyPrefix + key},
		r.policy.Limit,
		r.policy.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Result{}, fmt.Errorf("rate limit script: unexpected reply length %d", len(res))
	}
	ttl := time.Duration(res[2]) * time.Millisecond
	out := Result{
		Allowed:   res[0] == 1,
		Remaining: res[1],
		ResetAt:   r.now().Add(ttl),
	}
	if !out.Allowed {
		out.RetryAfter = ttl
	}
	return out, nil
}

// Close closes the Redis client. Safe to call more than once.
func (r *RedisLimiter) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.client.Close()
	})
	return err
}
