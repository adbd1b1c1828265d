package ports

import (
	"context"

	"github.com/echoai/visibility-engine/internal/domain"
)

// MentionExtractor derives brand mentions, rank, and sentiment from a
// single response text. Implementations must be deterministic: the same
// response always yields the same extraction.
type MentionExtractor interface {
	// Extract analyzes one response. A response with no brand mentions is
	// not an error; it yields Mentioned=false, a nil Position, and a
	// neutral Sentiment.
	Extract(ctx context.Context, response string) (domain.Extraction, error)
}

// SimilarityAnalyzer measures how much the successful responses of a run
// resemble each other. It returns nil when fewer than two responses are
// available, since a spread over one sample is meaningless.
type SimilarityAnalyzer interface {
	Spread(responses []string) *domain.ResponseSpread
}
