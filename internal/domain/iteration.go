package domain

// IterationStatus classifies the terminal outcome of a single sampled call.
type IterationStatus string

const (
	// IterationSuccess indicates the provider returned a usable response.
	IterationSuccess IterationStatus = "success"

	// IterationFailed indicates a generic provider or parsing failure.
	IterationFailed IterationStatus = "failed"

	// IterationTimeout indicates the per-call deadline elapsed.
	IterationTimeout IterationStatus = "timeout"

	// IterationRateLimited indicates the provider rejected the call for
	// rate-limit reasons after retries were exhausted.
	IterationRateLimited IterationStatus = "rate_limited"

	// IterationAuthError indicates an authentication or authorization
	// failure. Auth errors are fatal for the whole batch since every
	// subsequent call would fail identically.
	IterationAuthError IterationStatus = "auth_error"

	// IterationCancelled indicates the batch was cancelled before this
	// iteration completed.
	IterationCancelled IterationStatus = "cancelled"
)

// Sentiment is the three-way classification of the text surrounding a
// brand mention. A response that never mentions the brand is neutral by
// convention: absence is not negativity.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// BrandMention records one brand's presence in a single response.
type BrandMention struct {
	// Brand is the brand name as configured on the experiment.
	Brand string `json:"brand"`

	// Count is how many times the brand appears in the response.
	Count int `json:"count"`

	// FirstOffset is the byte offset of the first occurrence, used for
	// first-mention comparisons across brands.
	FirstOffset int `json:"first_offset"`

	// Context is a short snippet surrounding the first occurrence.
	Context string `json:"context,omitempty"`
}

// Iteration is one independent sampled call to an LLM provider, together
// with everything extracted from its response. Iterations are immutable
// once recorded; the aggregator treats them as a read-only sequence.
type Iteration struct {
	// Index is the zero-based position of this iteration within its batch.
	// Indexes identify iterations; they carry no ordering guarantee about
	// completion time.
	Index int `json:"index"`

	// Status is the terminal outcome of the call.
	Status IterationStatus `json:"status"`

	// Response is the raw response text. Empty unless Status is success.
	Response string `json:"response,omitempty"`

	// ErrMessage holds the failure description for non-success statuses.
	ErrMessage string `json:"error,omitempty"`

	// LatencyMs is the wall-clock duration of the provider call.
	LatencyMs int64 `json:"latency_ms"`

	// TokensIn and TokensOut record token usage for quota accounting.
	TokensIn  int `json:"tokens_in,omitempty"`
	TokensOut int `json:"tokens_out,omitempty"`

	// Mentioned reports whether the target brand appears in the response.
	Mentioned bool `json:"mentioned"`

	// Position is the ordinal rank of the target brand relative to the
	// other configured brands, when the response has a ranked structure.
	// Nil when no rank could be determined.
	Position *int `json:"position,omitempty"`

	// Sentiment classifies the text around the target brand's first
	// mention. Neutral when the brand is absent.
	Sentiment Sentiment `json:"sentiment"`

	// Mentions holds per-brand detection records for every configured
	// brand found in the response, target included.
	Mentions []BrandMention `json:"mentions,omitempty"`
}

// Succeeded reports whether this iteration produced a usable response.
func (it *Iteration) Succeeded() bool { return it.Status == IterationSuccess }

// Extraction is everything the extractor derives from one response text.
// The sampler copies it verbatim onto the iteration record.
type Extraction struct {
	// Mentioned reports whether the target brand appears.
	Mentioned bool

	// Position is the target brand's ordinal rank among the configured
	// brands, nil when no rank could be determined.
	Position *int

	// Sentiment labels the text around the target's first mention.
	// Neutral when the brand is absent.
	Sentiment Sentiment

	// Mentions holds one record per configured brand found in the text.
	Mentions []BrandMention
}
