package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker rejected a request without
// calling the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed passes all requests through normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the cooldown expires.
	BreakerOpen
	// BreakerHalfOpen lets a single probe through to test recovery.
	BreakerHalfOpen
)

// circuitBreakerLLM sheds load when the provider fails repeatedly. A batch
// fans out many concurrent iterations; once the provider starts returning
// server errors, rejecting the rest locally is cheaper than letting every
// iteration burn its own retry budget against a dead endpoint.
//
// The breaker state is checked before the call and updated after it, so
// concurrent requests are never serialized behind a provider round trip.
// Cancellations and non-retryable request errors do not count as provider
// failures.
type circuitBreakerLLM struct {
	next CoreLLM

	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool
}

// CircuitBreakerMiddleware creates middleware that opens after maxFailures
// consecutive provider failures and stays open for cooldown before letting
// a probe request test recovery. All requests through one client share the
// breaker.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	breaker := &circuitBreakerLLM{
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
	return func(next CoreLLM) CoreLLM {
		breaker.next = next
		return breaker
	}
}

// DoRequest executes the request unless the circuit is open, in which case
// it fails immediately with ErrCircuitOpen.
func (c *circuitBreakerLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if err := c.admit(); err != nil {
		return "", 0, 0, err
	}

	response, tokensIn, tokensOut, err := c.next.DoRequest(ctx, prompt, opts)
	c.record(ctx, err)
	return response, tokensIn, tokensOut, err
}

// admit decides whether a request may proceed given the breaker state.
func (c *circuitBreakerLLM) admit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(c.openedAt) < c.cooldown {
			return ErrCircuitOpen
		}
		c.state = BreakerHalfOpen
		c.probing = true
		return nil
	default:
		// Half open admits exactly one probe at a time.
		if c.probing {
			return ErrCircuitOpen
		}
		c.probing = true
		return nil
	}
}

// record updates breaker state from a request outcome.
func (c *circuitBreakerLLM) record(ctx context.Context, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == BreakerHalfOpen {
		c.probing = false
	}

	if err == nil {
		c.failures = 0
		c.state = BreakerClosed
		return
	}

	// Caller cancellation says nothing about provider health.
	if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if !countsAsProviderFailure(err) {
		return
	}

	c.failures++
	if c.state == BreakerHalfOpen || c.failures >= c.maxFailures {
		c.state = BreakerOpen
		c.openedAt = time.Now()
	}
}

// State returns the current breaker state.
func (c *circuitBreakerLLM) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// countsAsProviderFailure reports whether an error indicates provider
// distress. Bad requests and auth failures are the caller's problem and
// opening the circuit for them would mask the real error.
func countsAsProviderFailure(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Type {
		case ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
			return true
		default:
			return false
		}
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (c *circuitBreakerLLM) GetModel() string  { return c.next.GetModel() }
func (c *circuitBreakerLLM) SetModel(m string) { c.next.SetModel(m) }
