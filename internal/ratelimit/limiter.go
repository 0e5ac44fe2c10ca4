// Package ratelimit provides fixed-window request limiters for the resolve
// endpoints, in memory or shared through Redis.
package ratelimit

import (
	"context"
	"time"
)

// Defaults for the resolve endpoints.
const (
	DefaultLimit  = 600
	DefaultWindow = time.Minute
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per key within fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	Close() error
}

// Policy is a request budget per window.
type Policy struct {
	Limit  int64
	Window time.Duration
}

func (p Policy) normalized() Policy {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

// RetryAfterSeconds rounds a retry delay up to whole seconds, minimum 1.
func RetryAfterSeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
