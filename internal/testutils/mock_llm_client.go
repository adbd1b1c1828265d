// Package testutils provides deterministic test doubles for the
// visibility engine, chiefly a scripted LLM client that replays canned
// responses and injected failures without any network access.
package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echoai/visibility-engine/internal/ports"
)

var _ ports.LLMClient = (*MockLLMClient)(nil)

// MockLLMClient implements ports.LLMClient with a scripted sequence of
// outcomes. Call k (zero-based, in arrival order) receives script entry
// k; when the script is shorter than the call count, the last entry
// repeats. The client also observes its own concurrency so tests can
// assert the sampler honors its limit.
type MockLLMClient struct {
	model  string
	script []ScriptedCall

	mu    sync.Mutex
	calls int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// ScriptedCall is one pre-programmed outcome.
type ScriptedCall struct {
	// Response is returned when Err is nil.
	Response string

	// Err fails the call when non-nil.
	Err error

	// Latency delays the call, honoring context cancellation.
	Latency time.Duration

	// TokensIn and TokensOut report usage for the call.
	TokensIn  int
	TokensOut int
}

// NewMockLLMClient builds a client replaying the given script.
// An empty script yields empty successful responses.
func NewMockLLMClient(model string, script ...ScriptedCall) *MockLLMClient {
	return &MockLLMClient{model: model, script: script}
}

// Complete replays the next scripted outcome.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := m.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage replays the next scripted outcome with its usage.
func (m *MockLLMClient) CompleteWithUsage(ctx context.Context, _ string, _ map[string]any) (string, int, int, error) {
	call := m.nextCall()

	current := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		observed := m.maxInFlight.Load()
		if current <= observed || m.maxInFlight.CompareAndSwap(observed, current) {
			break
		}
	}

	if call.Latency > 0 {
		select {
		case <-time.After(call.Latency):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return "", 0, 0, ctx.Err()
	}
	if call.Err != nil {
		return "", 0, 0, call.Err
	}
	return call.Response, call.TokensIn, call.TokensOut, nil
}

// EstimateTokens approximates tokens as one per four characters.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	return (len(text) + 3) / 4, nil
}

// GetModel returns the configured mock model identifier.
func (m *MockLLMClient) GetModel() string { return m.model }

// Calls reports how many completions were requested.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MaxInFlight reports the highest concurrent call count observed.
func (m *MockLLMClient) MaxInFlight() int {
	return int(m.maxInFlight.Load())
}

func (m *MockLLMClient) nextCall() ScriptedCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	m.calls++

	if len(m.script) == 0 {
		return ScriptedCall{}
	}
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	return m.script[idx]
}
