package domain

import (
	"fmt"
	"math"
)

// zScores maps supported confidence levels to their two-sided normal
// critical values. The Wilson interval is undefined for levels outside
// this table; callers validate the level before sampling starts.
var zScores = map[float64]float64{
	0.90: 1.6449,
	0.95: 1.9600,
	0.99: 2.5758,
}

// ConfidenceInterval bounds the visibility rate at the configured
// confidence level. Lower <= rate <= Upper always holds.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// BrandStats summarizes one brand's presence across the successful
// iterations of a run.
type BrandStats struct {
	// Brand is the brand name as configured.
	Brand string `json:"brand"`

	// MentionCount is the total number of occurrences across responses.
	MentionCount int `json:"mention_count"`

	// ResponsesWithMention counts responses mentioning the brand at least once.
	ResponsesWithMention int `json:"responses_with_mention"`

	// VisibilityRate is ResponsesWithMention over the successful sample size.
	VisibilityRate float64 `json:"visibility_rate"`

	// AvgMentionsPerResponse averages MentionCount over mentioning
	// responses only. Zero when the brand never appears.
	AvgMentionsPerResponse float64 `json:"avg_mentions_per_response"`

	// FirstMentionRate is the fraction of responses in which this brand
	// appears before every other configured brand.
	FirstMentionRate float64 `json:"first_mention_rate"`
}

// VisibilityMetrics is the aggregated output of a batch run: a pure
// function of the run's successful iterations. Metrics are never mutated
// in place; they are recomputed from the iteration set, which keeps the
// aggregation directly unit-testable without any network mocking.
type VisibilityMetrics struct {
	// TargetBrand is the brand the headline numbers describe.
	TargetBrand string `json:"target_brand"`

	// SampleSize is the number of successful iterations aggregated.
	SampleSize int `json:"sample_size"`

	// VisibilityRate is the fraction of successful responses mentioning
	// the target brand.
	VisibilityRate float64 `json:"visibility_rate"`

	// Interval is the Wilson score interval for VisibilityRate.
	Interval ConfidenceInterval `json:"confidence_interval"`

	// ConfidenceLevel is the level the interval was computed at.
	ConfidenceLevel float64 `json:"confidence_level"`

	// ShareOfVoice maps each configured brand to its share of total
	// mentions. Nil when no brand was mentioned in any response; a nil
	// map distinguishes "undefined" from "zero share".
	ShareOfVoice map[string]float64 `json:"share_of_voice,omitempty"`

	// ConsistencyScore measures how stable the mention outcome is across
	// repeated samples: 1 - Var(indicator)/0.25. A deterministic outcome
	// (always or never mentioned) scores 1.0; a coin flip scores 0.0.
	ConsistencyScore float64 `json:"consistency_score"`

	// AveragePosition is the mean ordinal rank of the target brand over
	// iterations where a rank was determined. Nil when no iteration
	// produced a rank, never zero.
	AveragePosition *float64 `json:"average_position,omitempty"`

	// Brands carries the per-brand breakdown, target first.
	Brands []BrandStats `json:"brands,omitempty"`
}

// ResponseSpread summarizes pairwise textual similarity across the
// successful responses of a run. High average similarity means the model
// answers the prompt the same way on every draw.
type ResponseSpread struct {
	// Pairs is the number of response pairs compared.
	Pairs int `json:"pairs"`

	// AvgSimilarity is the mean normalized similarity over all pairs.
	AvgSimilarity float64 `json:"avg_similarity"`

	// MinSimilarity and MaxSimilarity bound the pairwise similarities.
	MinSimilarity float64 `json:"min_similarity"`
	MaxSimilarity float64 `json:"max_similarity"`

	// StdDev is the sample standard deviation of the similarities.
	StdDev float64 `json:"std_dev"`
}

// ComputeMetrics aggregates the successful iterations of a run into a
// VisibilityMetrics record. It is deterministic and side-effect free:
// the same iteration sequence always yields the same metrics.
//
// Failed iterations are excluded from every rate; they are the caller's
// concern (failure-rate accounting happens on the BatchRun). An empty or
// all-failed iteration set returns an AggregationError rather than zeroed
// metrics, since a silent zero is indistinguishable from a measured zero.
func ComputeMetrics(iterations []Iteration, targetBrand string, brands []string, confidenceLevel float64) (*VisibilityMetrics, error) {
	if confidenceLevel == 0 {
		confidenceLevel = DefaultConfidenceLevel
	}
	z, ok := zScores[confidenceLevel]
	if !ok {
		return nil, fmt.Errorf("unsupported confidence level %.2f", confidenceLevel)
	}

	if len(iterations) == 0 {
		return nil, &AggregationError{Reason: ErrNoIterations, Total: 0}
	}

	successful := make([]Iteration, 0, len(iterations))
	for _, it := range iterations {
		if it.Succeeded() {
			successful = append(successful, it)
		}
	}
	if len(successful) == 0 {
		return nil, &AggregationError{Reason: ErrNoSuccessfulIterations, Total: len(iterations)}
	}

	n := len(successful)
	mentioned := 0
	positionSum := 0.0
	positionCount := 0
	for _, it := range successful {
		if it.Mentioned {
			mentioned++
		}
		if it.Position != nil {
			positionSum += float64(*it.Position)
			positionCount++
		}
	}

	rate := float64(mentioned) / float64(n)

	metrics := &VisibilityMetrics{
		TargetBrand:      targetBrand,
		SampleSize:       n,
		VisibilityRate:   rate,
		Interval:         wilsonInterval(mentioned, n, z),
		ConfidenceLevel:  confidenceLevel,
		ConsistencyScore: consistencyScore(rate),
		Brands:           brandBreakdown(successful, brands),
	}

	if positionCount > 0 {
		avg := positionSum / float64(positionCount)
		metrics.AveragePosition = &avg
	}

	metrics.ShareOfVoice = shareOfVoice(metrics.Brands)

	return metrics, nil
}

// wilsonInterval computes the Wilson score interval for k successes in n
// trials at critical value z. Unlike the normal approximation it behaves
// sensibly at rates near 0 and 1 and for the small sample sizes typical
// of a 10-100 iteration run.
func wilsonInterval(k, n int, z float64) ConfidenceInterval {
	p := float64(k) / float64(n)
	nf := float64(n)
	denom := 1 + z*z/nf
	center := (p + z*z/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z*z/(4*nf*nf)) / denom

	lower := center - half
	upper := center + half
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return ConfidenceInterval{Lower: lower, Upper: upper}
}

// consistencyScore normalizes the Bernoulli variance of the mention
// indicator to [0, 1] and inverts it. Variance peaks at 0.25 when the
// rate is 0.5, so the score bottoms out exactly when the model is maximally
// undecided about the brand.
func consistencyScore(rate float64) float64 {
	return 1 - (rate*(1-rate))/0.25
}

// brandBreakdown computes per-brand stats over the successful iterations.
// Brands preserve their configured order, target first.
func brandBreakdown(successful []Iteration, brands []string) []BrandStats {
	if len(brands) == 0 {
		return nil
	}

	n := len(successful)
	stats := make([]BrandStats, len(brands))
	index := make(map[string]int, len(brands))
	for i, brand := range brands {
		stats[i].Brand = brand
		index[brand] = i
	}

	firstCounts := make([]int, len(brands))
	for _, it := range successful {
		firstBrand := -1
		firstOffset := math.MaxInt
		for _, m := range it.Mentions {
			i, ok := index[m.Brand]
			if !ok || m.Count == 0 {
				continue
			}
			stats[i].MentionCount += m.Count
			stats[i].ResponsesWithMention++
			if m.FirstOffset < firstOffset {
				firstOffset = m.FirstOffset
				firstBrand = i
			}
		}
		if firstBrand >= 0 {
			firstCounts[firstBrand]++
		}
	}

	for i := range stats {
		stats[i].VisibilityRate = float64(stats[i].ResponsesWithMention) / float64(n)
		if stats[i].ResponsesWithMention > 0 {
			stats[i].AvgMentionsPerResponse = float64(stats[i].MentionCount) / float64(stats[i].ResponsesWithMention)
		}
		stats[i].FirstMentionRate = float64(firstCounts[i]) / float64(n)
	}

	return stats
}

// shareOfVoice distributes total mentions across brands. It returns nil
// when nothing was mentioned anywhere so callers report "undefined"
// instead of dividing by zero. When defined, the shares sum to 1.
func shareOfVoice(stats []BrandStats) map[string]float64 {
	total := 0
	for _, s := range stats {
		total += s.MentionCount
	}
	if total == 0 {
		return nil
	}

	shares := make(map[string]float64, len(stats))
	for _, s := range stats {
		shares[s.Brand] = float64(s.MentionCount) / float64(total)
	}
	return shares
}
