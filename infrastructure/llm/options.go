package llm

import (
	"sync"
)

// Default request parameters shared by all providers.
const (
	// DefaultMaxTokens bounds response length when the caller does not
	// specify one. Visibility prompts ask for recommendation lists, so
	// responses are moderately long.
	DefaultMaxTokens = 1024
)

// BaseProvider provides common, thread-safe model-name handling for all
// provider implementations.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the configured model name. Safe for concurrent use.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name. Safe for concurrent use.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions is the standardized per-request configuration shared
// across providers.
type RequestOptions struct {
	// Model is the model identifier for this request.
	Model string
	// MaxTokens caps the generated response length.
	MaxTokens int
	// Temperature controls randomness. Nil means provider default.
	Temperature *float64
	// System carries an optional system prompt.
	System string
}

// ParseRequestOptions extracts standard options from the generic map the
// client API accepts, falling back to defaults. Unknown keys are ignored;
// wrongly typed values fall back rather than erroring, since the sampler
// builds these maps from validated experiment config.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		Model:     defaultModel,
		MaxTokens: DefaultMaxTokens,
	}
	if opts == nil {
		return options
	}

	if model, ok := opts["model"].(string); ok && model != "" {
		options.Model = model
	}
	if maxTokens, ok := opts["max_tokens"].(int); ok && maxTokens > 0 {
		options.MaxTokens = maxTokens
	}
	if temp, ok := opts["temperature"].(float64); ok && temp >= 0 && temp <= 2 {
		options.Temperature = &temp
	}
	if system, ok := opts["system"].(string); ok {
		options.System = system
	}

	return options
}

// clamp restricts a float64 value to a range.
func clamp(val, lo, hi float64) float64 {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
