// Package ports defines the interfaces that form the contract between the
// domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the engine testable
// without real provider credentials.
package ports

import (
	"context"

	"github.com/echoai/visibility-engine/internal/domain"
)

// LLMClient defines the interface for interacting with Large Language
// Model providers. Implementations handle provider-specific details like
// authentication, request formatting, and response parsing.
//
// The sampler only depends on this contract: one call in, one text
// response (with usage) or one error out. It is agnostic to which
// concrete provider serves the request.
type LLMClient interface {
	// Complete sends a completion request to the LLM provider and returns
	// the generated text. The options map carries provider-agnostic
	// settings; common keys are "temperature" (float64), "max_tokens"
	// (int), and "system" (string).
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// CompleteWithUsage behaves like Complete but also reports input and
	// output token counts for quota accounting.
	CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (response string, tokensIn, tokensOut int, err error)

	// EstimateTokens calculates the approximate token count for a text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// SentimentClassifier labels the text surrounding a brand mention.
// The contract is fixed regardless of implementation: a three-way label,
// one per snippet. The default implementation is a local lexicon
// classifier; an LLM-delegated classifier satisfies the same interface.
type SentimentClassifier interface {
	// Classify labels the snippet around a mention of brand.
	// Implementations must return one of the three Sentiment values,
	// never an empty label, on success.
	Classify(ctx context.Context, brand, snippet string) (domain.Sentiment, error)
}
