package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBreakerPair(maxFailures int, cooldown time.Duration, results []fakeResult) (*circuitBreakerLLM, *fakeCore) {
	core := &fakeCore{model: "fake-1", responses: results}
	breaker := CircuitBreakerMiddleware(maxFailures, cooldown)(core).(*circuitBreakerLLM)
	return breaker, core
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	serverErr := NewProviderError("openai", ErrorTypeServerError, 503, "unavailable", nil)
	breaker, core := newBreakerPair(3, time.Minute, []fakeResult{{err: serverErr}})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, _, err := breaker.DoRequest(ctx, "prompt", nil)
		require.Error(t, err)
	}
	assert.Equal(t, BreakerOpen, breaker.State())

	// Open circuit sheds load without touching the provider.
	_, _, _, err := breaker.DoRequest(ctx, "prompt", nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, core.callCount())
}

func TestCircuitBreakerRecoversThroughProbe(t *testing.T) {
	serverErr := NewProviderError("openai", ErrorTypeServerError, 500, "oops", nil)
	breaker, core := newBreakerPair(2, 10*time.Millisecond, []fakeResult{
		{err: serverErr},
		{err: serverErr},
		{response: "recovered"},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _, _, err := breaker.DoRequest(ctx, "prompt", nil)
		require.Error(t, err)
	}
	require.Equal(t, BreakerOpen, breaker.State())

	time.Sleep(20 * time.Millisecond)

	response, _, _, err := breaker.DoRequest(ctx, "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", response)
	assert.Equal(t, BreakerClosed, breaker.State())
	assert.Equal(t, 3, core.callCount())
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	serverErr := NewProviderError("openai", ErrorTypeServerError, 500, "oops", nil)
	breaker, _ := newBreakerPair(1, 10*time.Millisecond, []fakeResult{{err: serverErr}})

	ctx := context.Background()
	_, _, _, err := breaker.DoRequest(ctx, "prompt", nil)
	require.Error(t, err)
	require.Equal(t, BreakerOpen, breaker.State())

	time.Sleep(20 * time.Millisecond)

	_, _, _, err = breaker.DoRequest(ctx, "prompt", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, BreakerOpen, breaker.State())
}

func TestCircuitBreakerIgnoresCallerErrors(t *testing.T) {
	authErr := NewProviderError("openai", ErrorTypeAuthentication, 401, "bad key", nil)
	breaker, _ := newBreakerPair(1, time.Minute, []fakeResult{{err: authErr}})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, _, err := breaker.DoRequest(ctx, "prompt", nil)
		require.Error(t, err)
	}
	assert.Equal(t, BreakerClosed, breaker.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	breaker, _ := newBreakerPair(1, time.Minute, []fakeResult{{response: "unused"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := breaker.DoRequest(ctx, "prompt", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BreakerClosed, breaker.State())
}

func TestCircuitBreakerResetsCountOnSuccess(t *testing.T) {
	serverErr := NewProviderError("openai", ErrorTypeServerError, 500, "oops", nil)
	breaker, _ := newBreakerPair(2, time.Minute, []fakeResult{
		{err: serverErr},
		{response: "ok"},
		{err: serverErr},
	})

	ctx := context.Background()
	_, _, _, err := breaker.DoRequest(ctx, "prompt", nil)
	require.Error(t, err)
	_, _, _, err = breaker.DoRequest(ctx, "prompt", nil)
	require.NoError(t, err)
	_, _, _, err = breaker.DoRequest(ctx, "prompt", nil)
	require.Error(t, err)

	assert.Equal(t, BreakerClosed, breaker.State())
}
