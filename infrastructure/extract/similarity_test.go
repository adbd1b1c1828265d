package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpread_TooFewResponses(t *testing.T) {
	t.Parallel()

	a := NewSimilarityAnalyzer()
	assert.Nil(t, a.Spread(nil))
	assert.Nil(t, a.Spread([]string{"only one"}))
}

func TestSpread_IdenticalResponses(t *testing.T) {
	t.Parallel()

	a := NewSimilarityAnalyzer()
	spread := a.Spread([]string{"same answer", "same answer", "same answer"})
	require.NotNil(t, spread)

	assert.Equal(t, 3, spread.Pairs)
	assert.InDelta(t, 1.0, spread.AvgSimilarity, 1e-9)
	assert.InDelta(t, 1.0, spread.MinSimilarity, 1e-9)
	assert.InDelta(t, 1.0, spread.MaxSimilarity, 1e-9)
	assert.InDelta(t, 0.0, spread.StdDev, 1e-9)
}

func TestSpread_MixedResponses(t *testing.T) {
	t.Parallel()

	a := NewSimilarityAnalyzer()
	spread := a.Spread([]string{"abcd", "abcd", "wxyz"})
	require.NotNil(t, spread)

	assert.Equal(t, 3, spread.Pairs)
	assert.InDelta(t, 0.0, spread.MinSimilarity, 1e-9)
	assert.InDelta(t, 1.0, spread.MaxSimilarity, 1e-9)
	assert.InDelta(t, 1.0/3.0, spread.AvgSimilarity, 1e-9)
	assert.Greater(t, spread.StdDev, 0.0)
}

func TestSpread_CapsPairCount(t *testing.T) {
	t.Parallel()

	responses := make([]string, 60)
	for i := range responses {
		responses[i] = fmt.Sprintf("response variant %d", i)
	}

	a := NewSimilarityAnalyzer()
	spread := a.Spread(responses)
	require.NotNil(t, spread)
	assert.LessOrEqual(t, spread.Pairs, MaxSimilarityPairs)
	assert.Greater(t, spread.Pairs, 0)
}

func TestSpread_Deterministic(t *testing.T) {
	t.Parallel()

	responses := []string{"alpha beta", "alpha gamma", "delta epsilon", "alpha beta"}
	a := NewSimilarityAnalyzer()
	assert.Equal(t, a.Spread(responses), a.Spread(responses))
}
