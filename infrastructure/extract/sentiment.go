package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/echoai/visibility-engine/internal/domain"
	"github.com/echoai/visibility-engine/internal/ports"
)

var _ ports.SentimentClassifier = (*LexiconClassifier)(nil)

// positiveWords and negativeWords are the polarity lexicons for the
// built-in classifier. The lists are intentionally small; they classify
// the tone of a short snippet around a brand mention, not arbitrary prose.
var (
	positiveWords = map[string]struct{}{
		"best": {}, "excellent": {}, "great": {}, "leading": {}, "love": {},
		"outstanding": {}, "popular": {}, "recommend": {}, "recommended": {},
		"reliable": {}, "top": {}, "trusted": {}, "favorite": {}, "strong": {},
		"innovative": {}, "superior": {}, "impressive": {}, "robust": {},
	}
	negativeWords = map[string]struct{}{
		"avoid": {}, "bad": {}, "disappointing": {}, "expensive": {},
		"inferior": {}, "lacking": {}, "limited": {}, "outdated": {},
		"poor": {}, "problem": {}, "problems": {}, "slow": {}, "weak": {},
		"worst": {}, "unreliable": {}, "buggy": {}, "overpriced": {},
	}
)

// LexiconClassifier labels sentiment by counting polarity words in the
// case-folded snippet. Ties and empty snippets are neutral. It needs no
// network access and is the default classifier.
type LexiconClassifier struct{}

// NewLexiconClassifier returns the built-in word-list classifier.
func NewLexiconClassifier() *LexiconClassifier { return &LexiconClassifier{} }

// Classify labels the snippet around a brand mention. The brand name
// itself carries no polarity and is ignored.
func (c *LexiconClassifier) Classify(_ context.Context, brand, snippet string) (domain.Sentiment, error) {
	positive, negative := 0, 0
	foldedBrand := foldCaser.String(brand)

	for _, t := range tokenize(foldCaser.String(snippet)) {
		if t.text == foldedBrand {
			continue
		}
		if _, ok := positiveWords[t.text]; ok {
			positive++
		}
		if _, ok := negativeWords[t.text]; ok {
			negative++
		}
	}

	switch {
	case positive > negative:
		return domain.SentimentPositive, nil
	case negative > positive:
		return domain.SentimentNegative, nil
	default:
		return domain.SentimentNeutral, nil
	}
}

var _ ports.SentimentClassifier = (*LLMClassifier)(nil)

// sentimentPromptTemplate instructs the model to return a single JSON
// object. The response is parsed strictly; anything else is an error.
const sentimentPromptTemplate = `Classify the sentiment toward the brand %q in the following text.

Text:
%s

Respond with a JSON object in exactly this format:
{"sentiment": "<positive|neutral|negative>", "confidence": <0.0-1.0>}

Do not include any other text in your response.`

// sentimentResponse is the JSON contract for LLM-delegated classification.
type sentimentResponse struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// LLMClassifier delegates sentiment labeling to a language model. It
// costs one extra call per target mention, so it is opt-in; the lexicon
// classifier remains the default.
type LLMClassifier struct {
	client ports.LLMClient

	// MinConfidence is the confidence below which the label degrades to
	// neutral. Zero means any confidence is accepted.
	MinConfidence float64
}

// NewLLMClassifier wraps an LLM client as a sentiment classifier.
func NewLLMClassifier(client ports.LLMClient) *LLMClassifier {
	return &LLMClassifier{client: client}
}

// Classify asks the model for a sentiment label under a strict JSON
// contract and validates the result against the sentiment enum.
func (c *LLMClassifier) Classify(ctx context.Context, brand, snippet string) (domain.Sentiment, error) {
	prompt := fmt.Sprintf(sentimentPromptTemplate, brand, snippet)

	raw, err := c.client.Complete(ctx, prompt, map[string]any{
		"temperature": 0.0,
		"max_tokens":  64,
	})
	if err != nil {
		return domain.SentimentNeutral, fmt.Errorf("sentiment classification call: %w", err)
	}

	var resp sentimentResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return domain.SentimentNeutral, fmt.Errorf("parse sentiment response %q: %w", raw, err)
	}

	if c.MinConfidence > 0 && resp.Confidence < c.MinConfidence {
		return domain.SentimentNeutral, nil
	}

	switch domain.Sentiment(resp.Sentiment) {
	case domain.SentimentPositive:
		return domain.SentimentPositive, nil
	case domain.SentimentNegative:
		return domain.SentimentNegative, nil
	case domain.SentimentNeutral:
		return domain.SentimentNeutral, nil
	default:
		return domain.SentimentNeutral, fmt.Errorf("invalid sentiment label %q", resp.Sentiment)
	}
}

// extractJSON isolates the first top-level JSON object in a response.
// Models occasionally wrap the object in code fences or prose despite the
// contract.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
