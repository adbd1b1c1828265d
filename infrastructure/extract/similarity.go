package extract

import (
	"math"

	"github.com/echoai/visibility-engine/internal/domain"
	"github.com/echoai/visibility-engine/internal/ports"
)

var _ ports.SimilarityAnalyzer = (*SimilarityAnalyzer)(nil)

// MaxSimilarityPairs caps the number of response pairs compared. Above
// the cap, pairs are subsampled at a fixed stride so the result stays
// deterministic for a given response order.
const MaxSimilarityPairs = 1000

// SimilarityAnalyzer computes pairwise Levenshtein similarity across the
// successful responses of a run. It is a secondary stability signal next
// to the mention-indicator consistency score: the model may mention the
// target brand every time yet phrase the answer differently on each draw.
type SimilarityAnalyzer struct{}

// NewSimilarityAnalyzer returns a pairwise Levenshtein analyzer.
func NewSimilarityAnalyzer() *SimilarityAnalyzer { return &SimilarityAnalyzer{} }

// Spread summarizes the pairwise similarities. Similarities are
// normalized to [0, 1]. It returns nil for fewer than two responses.
func (a *SimilarityAnalyzer) Spread(responses []string) *domain.ResponseSpread {
	n := len(responses)
	if n < 2 {
		return nil
	}

	totalPairs := n * (n - 1) / 2
	stride := 1
	if totalPairs > MaxSimilarityPairs {
		stride = (totalPairs + MaxSimilarityPairs - 1) / MaxSimilarityPairs
	}

	similarities := make([]float64, 0, min(totalPairs, MaxSimilarityPairs))
	pair := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if pair%stride == 0 {
				similarities = append(similarities, similarity(responses[i], responses[j]))
			}
			pair++
		}
	}

	spread := &domain.ResponseSpread{
		Pairs:         len(similarities),
		MinSimilarity: similarities[0],
		MaxSimilarity: similarities[0],
	}
	sum := 0.0
	for _, s := range similarities {
		sum += s
		if s < spread.MinSimilarity {
			spread.MinSimilarity = s
		}
		if s > spread.MaxSimilarity {
			spread.MaxSimilarity = s
		}
	}
	spread.AvgSimilarity = sum / float64(len(similarities))

	if len(similarities) > 1 {
		variance := 0.0
		for _, s := range similarities {
			d := s - spread.AvgSimilarity
			variance += d * d
		}
		variance /= float64(len(similarities) - 1)
		spread.StdDev = math.Sqrt(variance)
	}

	return spread
}
