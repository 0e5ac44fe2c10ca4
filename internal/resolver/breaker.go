package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/mcvault/pkg/schema"
)

// CircuitState represents the state of the endpoint circuit.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transport failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of test requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Breaker wraps a BatchClient and fails fast while the vault endpoint is
// unreachable. Only TRANSPORT_ERROR outcomes count as failures: any answer
// from the server, refusals included, proves the endpoint is up.
type Breaker struct {
	inner  BatchClient
	config BreakerConfig
	now    func() time.Time

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
}

// NewBreaker wraps inner. Zero config fields take their defaults.
func NewBreaker(inner BatchClient, config BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &Breaker{inner: inner, config: config, now: time.Now, state: CircuitClosed}
}

// ResolveBatch forwards to the wrapped client unless the circuit is open.
func (b *Breaker) ResolveBatch(ctx context.Context, token string, req schema.ResolveBatchRequest) (map[string]string, error) {
	if err := b.allowRequest(); err != nil {
		return nil, err
	}
	values, err := b.inner.ResolveBatch(ctx, token, req)
	switch {
	case err == nil:
		b.recordSuccess()
	case ctx.Err() != nil:
		// The caller gave up; says nothing about the endpoint.
		b.release()
	case schema.IsCode(err, schema.ErrCodeTransport):
		b.recordFailure()
	default:
		b.recordSuccess()
	}
	return values, err
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed >= b.config.Cooldown {
			b.state = CircuitHalfOpen
			b.halfOpenAttempts = 1 // this request counts as the first test request
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeTransport,
			"vault endpoint unavailable: circuit open after %d consecutive failures", b.consecutiveFailures).
			WithDetails(map[string]any{
				"consecutive_failures": b.consecutiveFailures,
				"state":                b.state.String(),
				"cooldown_remaining":   (b.config.Cooldown - elapsed).String(),
			})

	case CircuitHalfOpen:
		if b.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewError(schema.ErrCodeTransport,
				"vault endpoint unavailable: circuit half-open, max test requests reached")
		}
		b.halfOpenAttempts++
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.halfOpenAttempts = 0
	b.state = CircuitClosed
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureTime = b.now()

	// Any failure in half-open reopens the circuit.
	if b.state == CircuitHalfOpen || b.consecutiveFailures >= b.config.FailureThreshold {
		b.state = CircuitOpen
	}
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitHalfOpen && b.halfOpenAttempts > 0 {
		b.halfOpenAttempts--
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && b.now().Sub(b.lastFailureTime) >= b.config.Cooldown {
		b.state = CircuitHalfOpen
		b.halfOpenAttempts = 0
	}
	return b.state
}

// Stats returns diagnostic information about the breaker.
func (b *Breaker) Stats() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]any{
		"state":                b.state.String(),
		"consecutive_failures": b.consecutiveFailures,
		"failure_threshold":    b.config.FailureThreshold,
		"cooldown":             b.config.Cooldown.String(),
	}
}
