package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCore is a scriptable CoreLLM for exercising the client and
// middleware without touching a real provider.
type fakeCore struct {
	mu        sync.Mutex
	model     string
	responses []fakeResult
	calls     int
}

type fakeResult struct {
	response  string
	tokensIn  int
	tokensOut int
	err       error
}

func (f *fakeCore) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++

	r := f.responses[idx]
	return r.response, r.tokensIn, r.tokensOut, r.err
}

func (f *fakeCore) GetModel() string { return f.model }

func (f *fakeCore) SetModel(m string) { f.model = m }

func (f *fakeCore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// taggingMiddleware prefixes responses so tests can observe wrapping order.
func taggingMiddleware(tag string) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &taggedLLM{next: next, tag: tag}
	}
}

type taggedLLM struct {
	next CoreLLM
	tag  string
}

func (t *taggedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	response, in, out, err := t.next.DoRequest(ctx, prompt, opts)
	return t.tag + response, in, out, err
}

func (t *taggedLLM) GetModel() string  { return t.next.GetModel() }
func (t *taggedLLM) SetModel(m string) { t.next.SetModel(m) }

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient("openai", ClientConfig{})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient("nonexistent", ClientConfig{APIKey: "key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestNewClientUsesRegisteredFactory(t *testing.T) {
	core := &fakeCore{
		model:     "fake-1",
		responses: []fakeResult{{response: "hello", tokensIn: 4, tokensOut: 2}},
	}
	RegisterProviderFactory("factory-test", func(config ClientConfig) (CoreLLM, error) {
		return core, nil
	})

	client, err := NewClient("factory-test", ClientConfig{APIKey: "key"})
	require.NoError(t, err)

	response, tokensIn, tokensOut, err := client.CompleteWithUsage(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", response)
	assert.Equal(t, 4, tokensIn)
	assert.Equal(t, 2, tokensOut)
	assert.Equal(t, "fake-1", client.GetModel())
}

func TestNewClientAppliesMiddlewareFirstEntryOutermost(t *testing.T) {
	RegisterProviderFactory("middleware-order-test", func(config ClientConfig) (CoreLLM, error) {
		return &fakeCore{
			model:     "fake-1",
			responses: []fakeResult{{response: "core"}},
		}, nil
	})

	client, err := NewClient("middleware-order-test", ClientConfig{
		APIKey: "key",
		Middleware: []Middleware{
			taggingMiddleware("outer/"),
			taggingMiddleware("inner/"),
		},
	})
	require.NoError(t, err)

	response, err := client.Complete(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "outer/inner/core", response)
}

func TestClientCompleteDiscardsUsage(t *testing.T) {
	RegisterProviderFactory("complete-test", func(config ClientConfig) (CoreLLM, error) {
		return &fakeCore{
			model:     "fake-1",
			responses: []fakeResult{{response: "text", tokensIn: 9, tokensOut: 7}},
		}, nil
	})

	client, err := NewClient("complete-test", ClientConfig{APIKey: "key"})
	require.NoError(t, err)

	response, err := client.Complete(context.Background(), "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "text", response)
}

func TestClientPropagatesProviderError(t *testing.T) {
	providerErr := NewProviderError("fake", ErrorTypeServerError, 500, "boom", errors.New("upstream"))
	RegisterProviderFactory("error-test", func(config ClientConfig) (CoreLLM, error) {
		return &fakeCore{
			model:     "fake-1",
			responses: []fakeResult{{err: providerErr}},
		}, nil
	})

	client, err := NewClient("error-test", ClientConfig{APIKey: "key"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "prompt", nil)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorTypeServerError, pe.Type)
}

func TestSupportedProvidersIncludesBuiltins(t *testing.T) {
	providers := SupportedProviders()
	assert.Contains(t, providers, "openai")
	assert.Contains(t, providers, "anthropic")
	assert.Contains(t, providers, "google")
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"The quick brown fox jumps over the lazy dog", 11},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "text %q", tt.text)
	}
}
