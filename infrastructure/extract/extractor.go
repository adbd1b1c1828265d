// Package extract derives brand-visibility signals from raw model
// responses: per-brand mention records, the target brand's ordinal rank,
// and a sentiment label for the text around the first target mention.
//
// Detection is deterministic. A case-insensitive word-boundary match runs
// first; when it finds nothing for a brand, a fuzzy pass compares
// case-folded token windows of the response against the brand using
// Levenshtein similarity. The same response always yields the same
// extraction, which keeps the whole pipeline replayable from stored
// responses.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"

	"github.com/echoai/visibility-engine/internal/domain"
	"github.com/echoai/visibility-engine/internal/ports"
)

var (
	_ ports.MentionExtractor = (*Extractor)(nil)

	// foldCaser is a package-level Unicode case folder for performance.
	foldCaser = cases.Fold()

	validate = validator.New()

	// wordPattern tokenizes a response for the fuzzy pass. Tokens start
	// with a letter or digit and may continue with characters common in
	// brand names ("Coca-Cola", "O'Reilly", "H&M").
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'&.-]*`)

	// listItemPattern recognizes numbered and bulleted list lines. Two or
	// more such lines mark a response as a ranked list.
	listItemPattern = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]\s+|[-*•]\s+)`)
)

const (
	// DefaultFuzzyThreshold is the minimum Levenshtein similarity for the
	// fuzzy pass to accept a token window as a brand mention.
	DefaultFuzzyThreshold = 0.85

	// DefaultContextRunes bounds the snippet captured around the first
	// mention of each brand, on each side.
	DefaultContextRunes = 80

	// MaxResponseLength bounds the response size the extractor will scan.
	MaxResponseLength = 1 << 20
)

// Config defines the extraction parameters for one experiment.
type Config struct {
	// TargetBrand is the brand the headline metrics describe.
	TargetBrand string `yaml:"target_brand" json:"target_brand" validate:"required"`

	// CompetitorBrands are additional brands tracked for share of voice.
	CompetitorBrands []string `yaml:"competitor_brands" json:"competitor_brands" validate:"max=20,dive,required"`

	// FuzzyThreshold is the minimum similarity for the fuzzy pass.
	// Zero selects DefaultFuzzyThreshold.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" json:"fuzzy_threshold" validate:"min=0,max=1"`

	// ContextRunes is the snippet radius around a first mention.
	// Zero selects DefaultContextRunes.
	ContextRunes int `yaml:"context_runes" json:"context_runes" validate:"min=0"`
}

// Extractor detects configured brands in response text. It is stateless
// after construction and safe for concurrent use.
type Extractor struct {
	config     Config
	brands     []string
	patterns   []*regexp.Regexp
	folded     []string
	tokenLens  []int
	classifier ports.SentimentClassifier
	tracer     trace.Tracer
}

// NewExtractor builds an Extractor for the target brand and its
// competitors. The classifier labels sentiment around target mentions; a
// nil classifier falls back to the built-in lexicon classifier.
func NewExtractor(config Config, classifier ports.SentimentClassifier) (*Extractor, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("extractor configuration invalid: %w", err)
	}
	if config.FuzzyThreshold == 0 {
		config.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if config.ContextRunes == 0 {
		config.ContextRunes = DefaultContextRunes
	}
	if classifier == nil {
		classifier = NewLexiconClassifier()
	}

	brands := append([]string{config.TargetBrand}, config.CompetitorBrands...)
	e := &Extractor{
		config:     config,
		brands:     brands,
		patterns:   make([]*regexp.Regexp, len(brands)),
		folded:     make([]string, len(brands)),
		tokenLens:  make([]int, len(brands)),
		classifier: classifier,
		tracer:     otel.Tracer("mention-extractor"),
	}
	for i, brand := range brands {
		pattern, err := compileBrandPattern(brand)
		if err != nil {
			return nil, fmt.Errorf("brand %q: %w", brand, err)
		}
		e.patterns[i] = pattern
		e.folded[i] = foldCaser.String(brand)
		e.tokenLens[i] = len(wordPattern.FindAllString(brand, -1))
		if e.tokenLens[i] == 0 {
			e.tokenLens[i] = 1
		}
	}
	return e, nil
}

// compileBrandPattern builds a case-insensitive word-boundary pattern for
// a literal brand name. The \b anchors are dropped on a side whose edge
// character is not a word character, since \b would never match there.
func compileBrandPattern(brand string) (*regexp.Regexp, error) {
	first, _ := utf8.DecodeRuneInString(brand)
	last, _ := utf8.DecodeLastRuneInString(brand)

	var b strings.Builder
	b.WriteString(`(?i)`)
	if isWordRune(first) {
		b.WriteString(`\b`)
	}
	b.WriteString(regexp.QuoteMeta(brand))
	if isWordRune(last) {
		b.WriteString(`\b`)
	}
	return regexp.Compile(b.String())
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// token is one word of the response with its byte offset.
type token struct {
	text   string
	offset int
}

// Extract analyzes one response text. An empty response or a response
// with no brand mentions is not an error.
func (e *Extractor) Extract(ctx context.Context, response string) (domain.Extraction, error) {
	ctx, span := e.tracer.Start(ctx, "Extractor.Extract",
		trace.WithAttributes(
			attribute.String("extract.target_brand", e.config.TargetBrand),
			attribute.Int("extract.brand_count", len(e.brands)),
			attribute.Int("extract.response_bytes", len(response)),
		),
	)
	defer span.End()

	if len(response) > MaxResponseLength {
		err := fmt.Errorf("response too long: %d bytes exceeds limit of %d", len(response), MaxResponseLength)
		span.RecordError(err)
		return domain.Extraction{Sentiment: domain.SentimentNeutral}, err
	}

	tokens := tokenize(response)
	mentions := make([]domain.BrandMention, 0, len(e.brands))
	targetIdx := -1

	for i, brand := range e.brands {
		count, firstOffset := e.countExact(i, response)
		if count == 0 {
			count, firstOffset = e.countFuzzy(i, tokens)
		}
		if count == 0 {
			continue
		}
		mentions = append(mentions, domain.BrandMention{
			Brand:       brand,
			Count:       count,
			FirstOffset: firstOffset,
			Context:     snippet(response, firstOffset, e.config.ContextRunes),
		})
		if i == 0 {
			targetIdx = len(mentions) - 1
		}
	}

	result := domain.Extraction{
		Mentioned: targetIdx >= 0,
		Sentiment: domain.SentimentNeutral,
		Mentions:  mentions,
	}

	if targetIdx >= 0 {
		result.Position = rankTarget(mentions, targetIdx, isRankedList(response))

		sentiment, err := e.classifier.Classify(ctx, e.config.TargetBrand, mentions[targetIdx].Context)
		if err != nil {
			span.RecordError(err)
			return domain.Extraction{Sentiment: domain.SentimentNeutral}, fmt.Errorf("classify sentiment: %w", err)
		}
		result.Sentiment = sentiment
	}

	span.SetAttributes(
		attribute.Bool("extract.mentioned", result.Mentioned),
		attribute.Int("extract.mention_brands", len(mentions)),
	)
	return result, nil
}

// countExact counts word-boundary matches of brand i in the response and
// returns the byte offset of the first match.
func (e *Extractor) countExact(i int, response string) (count, firstOffset int) {
	matches := e.patterns[i].FindAllStringIndex(response, -1)
	if len(matches) == 0 {
		return 0, 0
	}
	return len(matches), matches[0][0]
}

// countFuzzy slides a window of the brand's token length over the
// response tokens and accepts windows whose case-folded Levenshtein
// similarity meets the threshold. Matched windows do not overlap.
func (e *Extractor) countFuzzy(i int, tokens []token) (count, firstOffset int) {
	width := e.tokenLens[i]
	if len(tokens) < width {
		return 0, 0
	}

	firstOffset = -1
	for j := 0; j+width <= len(tokens); {
		window := joinTokens(tokens[j : j+width])
		if similarity(foldCaser.String(window), e.folded[i]) >= e.config.FuzzyThreshold {
			count++
			if firstOffset < 0 {
				firstOffset = tokens[j].offset
			}
			j += width
			continue
		}
		j++
	}
	if count == 0 {
		return 0, 0
	}
	return count, firstOffset
}

// rankTarget computes the target brand's ordinal rank among the detected
// brands, ordered by first occurrence. A rank is only meaningful when the
// response is a ranked list or at least two brands compete for order;
// otherwise it returns nil.
func rankTarget(mentions []domain.BrandMention, targetIdx int, rankedList bool) *int {
	if !rankedList && len(mentions) < 2 {
		return nil
	}

	offsets := make([]int, len(mentions))
	for i, m := range mentions {
		offsets[i] = m.FirstOffset
	}
	targetOffset := offsets[targetIdx]
	sort.Ints(offsets)

	rank := sort.SearchInts(offsets, targetOffset) + 1
	return &rank
}

// isRankedList reports whether the response reads as a numbered or
// bulleted list rather than prose.
func isRankedList(response string) bool {
	return len(listItemPattern.FindAllStringIndex(response, 2)) >= 2
}

// tokenize splits a response into word tokens with byte offsets.
func tokenize(response string) []token {
	matches := wordPattern.FindAllStringIndex(response, -1)
	tokens := make([]token, len(matches))
	for i, m := range matches {
		tokens[i] = token{text: response[m[0]:m[1]], offset: m[0]}
	}
	return tokens
}

func joinTokens(tokens []token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}

// similarity computes the normalized Levenshtein similarity between two
// strings. Identical strings score 1.0; maximally different strings score
// 0.0. Distance and length both operate on runes for Unicode correctness.
func similarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	maxLen := utf8.RuneCountInString(s1)
	if n := utf8.RuneCountInString(s2); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(s1, s2)
	return 1.0 - float64(distance)/float64(maxLen)
}

// snippet extracts up to radius runes on each side of the byte offset,
// trimmed to valid UTF-8 boundaries and surrounding whitespace.
func snippet(response string, offset, radius int) string {
	start := offset
	for r := 0; r < radius && start > 0; r++ {
		_, size := utf8.DecodeLastRuneInString(response[:start])
		start -= size
	}
	end := offset
	for r := 0; r < radius && end < len(response); r++ {
		_, size := utf8.DecodeRuneInString(response[end:])
		end += size
	}
	return strings.TrimSpace(response[start:end])
}
