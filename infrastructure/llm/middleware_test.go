package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRetryMiddlewareRecoversFromTransientError(t *testing.T) {
	core := &fakeCore{
		model: "fake-1",
		responses: []fakeResult{
			{err: NewProviderError("openai", ErrorTypeServerError, 503, "unavailable", nil)},
			{response: "recovered", tokensIn: 3, tokensOut: 5},
		},
	}

	wrapped := RetryMiddleware(3, time.Millisecond, 5*time.Millisecond)(core)

	response, tokensIn, tokensOut, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", response)
	assert.Equal(t, 3, tokensIn)
	assert.Equal(t, 5, tokensOut)
	assert.Equal(t, 2, core.callCount())
}

func TestRetryMiddlewareDoesNotRetryTerminalErrors(t *testing.T) {
	authErr := NewProviderError("openai", ErrorTypeAuthentication, 401, "bad key", nil)
	core := &fakeCore{
		model:     "fake-1",
		responses: []fakeResult{{err: authErr}},
	}

	wrapped := RetryMiddleware(3, time.Millisecond, 5*time.Millisecond)(core)

	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorTypeAuthentication, pe.Type)
	assert.NotContains(t, err.Error(), "attempts")
	assert.Equal(t, 1, core.callCount())
}

func TestRetryMiddlewareExhaustsBudget(t *testing.T) {
	core := &fakeCore{
		model: "fake-1",
		responses: []fakeResult{
			{err: NewProviderError("openai", ErrorTypeRateLimit, 429, "slow down", nil)},
		},
	}

	wrapped := RetryMiddleware(2, time.Millisecond, 5*time.Millisecond)(core)

	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorTypeRateLimit, pe.Type)
	assert.Equal(t, 3, core.callCount())
}

func TestRetryMiddlewareStopsOnCancellation(t *testing.T) {
	core := &fakeCore{
		model: "fake-1",
		responses: []fakeResult{
			{err: NewProviderError("openai", ErrorTypeServerError, 500, "oops", nil)},
		},
	}

	// Long backoff relative to the deadline, so cancellation lands
	// during the wait between attempts.
	wrapped := RetryMiddleware(5, 200*time.Millisecond, time.Second)(core)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, _, err := wrapped.DoRequest(ctx, "prompt", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 1, core.callCount())
}

// blockingCore waits for context cancellation and reports the context error.
type blockingCore struct {
	sawDeadline bool
}

func (b *blockingCore) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	_, b.sawDeadline = ctx.Deadline()
	<-ctx.Done()
	return "", 0, 0, ctx.Err()
}

func (b *blockingCore) GetModel() string { return "blocking" }
func (b *blockingCore) SetModel(string)  {}

func TestTimeoutMiddlewareBoundsRequestDuration(t *testing.T) {
	core := &blockingCore{}
	wrapped := TimeoutMiddleware(20 * time.Millisecond)(core)

	start := time.Now()
	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, core.sawDeadline)
}

func TestRateLimitMiddlewareAllowsBurst(t *testing.T) {
	core := &fakeCore{
		model:     "fake-1",
		responses: []fakeResult{{response: "ok"}},
	}

	wrapped := RateLimitMiddleware(rate.Limit(1000), 2)(core)

	for i := 0; i < 2; i++ {
		_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, core.callCount())
}

func TestRateLimitMiddlewareInterruptedByCancellation(t *testing.T) {
	core := &fakeCore{
		model:     "fake-1",
		responses: []fakeResult{{response: "ok"}},
	}

	// Burst of one at a glacial rate: the first call drains the bucket
	// and the second must wait far longer than the test allows.
	wrapped := RateLimitMiddleware(rate.Limit(0.01), 1)(core)

	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, _, err = wrapped.DoRequest(ctx, "prompt", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, 1, core.callCount())
}

// stubCollector records metric calls for assertions.
type stubCollector struct {
	mu         sync.Mutex
	counters   []metricCall
	histograms []metricCall
}

type metricCall struct {
	name   string
	value  float64
	labels map[string]string
}

func (s *stubCollector) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
}

func (s *stubCollector) RecordCounter(name string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = append(s.counters, metricCall{name: name, value: value, labels: cloneLabels(labels)})
}

func (s *stubCollector) RecordGauge(name string, value float64, labels map[string]string) {}

func (s *stubCollector) DeleteGauge(name string, labels map[string]string) {}

func (s *stubCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histograms = append(s.histograms, metricCall{name: name, value: value, labels: cloneLabels(labels)})
}

func cloneLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func TestMetricsMiddlewareRecordsSuccess(t *testing.T) {
	core := &fakeCore{
		model:     "gpt-4o",
		responses: []fakeResult{{response: "ok", tokensIn: 12, tokensOut: 34}},
	}
	collector := &stubCollector{}

	wrapped := MetricsMiddleware("openai", collector)(core)

	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.NoError(t, err)

	require.Len(t, collector.histograms, 1)
	assert.Equal(t, "llm_request_duration_seconds", collector.histograms[0].name)
	assert.Equal(t, "openai", collector.histograms[0].labels["provider"])
	assert.Equal(t, "gpt-4o", collector.histograms[0].labels["model"])
	assert.Equal(t, "success", collector.histograms[0].labels["status"])

	require.Len(t, collector.counters, 3)
	assert.Equal(t, "llm_requests_total", collector.counters[0].name)
	assert.Equal(t, "llm_tokens_total", collector.counters[1].name)
	assert.Equal(t, "input", collector.counters[1].labels["token_type"])
	assert.Equal(t, 12.0, collector.counters[1].value)
	assert.Equal(t, "output", collector.counters[2].labels["token_type"])
	assert.Equal(t, 34.0, collector.counters[2].value)
}

func TestMetricsMiddlewareRecordsFailureStatus(t *testing.T) {
	core := &fakeCore{
		model: "gpt-4o",
		responses: []fakeResult{
			{err: NewProviderError("openai", ErrorTypeRateLimit, 429, "slow down", nil)},
		},
	}
	collector := &stubCollector{}

	wrapped := MetricsMiddleware("openai", collector)(core)

	_, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.Error(t, err)

	require.Len(t, collector.counters, 1)
	assert.Equal(t, "llm_requests_total", collector.counters[0].name)
	assert.Equal(t, "rate_limit", collector.counters[0].labels["status"])
}

func TestMetricsMiddlewareNilCollector(t *testing.T) {
	core := &fakeCore{
		model:     "gpt-4o",
		responses: []fakeResult{{response: "ok"}},
	}

	wrapped := MetricsMiddleware("openai", nil)(core)

	response, _, _, err := wrapped.DoRequest(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", response)
}

func TestStatusLabelForPlainError(t *testing.T) {
	assert.Equal(t, "error", statusLabel(context.Background(), errors.New("boom")))
}
