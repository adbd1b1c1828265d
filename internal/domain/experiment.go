// Package domain contains pure, dependency-free domain models and the
// statistical aggregation logic for the visibility engine.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Experiment bounds. Iteration counts above the maximum produce confidence
// intervals no tighter than the cost justifies; the bounds mirror what the
// quota model charges for.
const (
	// MinIterations is the smallest number of samples a run may take.
	MinIterations = 1

	// MaxIterations caps the number of samples per batch run.
	MaxIterations = 100

	// MaxCompetitorBrands caps the competitor list for share-of-voice analysis.
	MaxCompetitorBrands = 20

	// MaxConcurrencyLimit caps in-flight provider calls for a single run.
	MaxConcurrencyLimit = 50

	// DefaultConfidenceLevel is the confidence level used for the
	// visibility-rate interval when the experiment does not specify one.
	DefaultConfidenceLevel = 0.95

	// DefaultFailureRateThreshold aborts a run once more than half of the
	// completed iterations have failed.
	DefaultFailureRateThreshold = 0.5
)

// Experiment is the immutable configuration for a repeated-sampling study:
// one prompt, one target brand, zero or more competitors, and the Monte
// Carlo parameters controlling how the prompt is sampled. An Experiment is
// never modified once a BatchRun references it.
type Experiment struct {
	// ID uniquely identifies this experiment.
	ID string `json:"id" yaml:"id"`

	// Prompt is the text sent to the provider on every iteration.
	Prompt string `json:"prompt" yaml:"prompt"`

	// SystemPrompt optionally prefixes every iteration with instructions.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`

	// TargetBrand is the brand whose visibility is being measured.
	TargetBrand string `json:"target_brand" yaml:"target_brand"`

	// CompetitorBrands are tracked for share-of-voice comparison.
	CompetitorBrands []string `json:"competitor_brands,omitempty" yaml:"competitor_brands,omitempty"`

	// Provider identifies the LLM provider ("openai", "anthropic", "google").
	Provider string `json:"provider" yaml:"provider"`

	// Model optionally overrides the provider's default model.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Iterations is the number of independent samples to draw.
	Iterations int `json:"iterations" yaml:"iterations"`

	// Temperature controls sampling randomness. Higher values surface more
	// of the response variance the statistics are built on.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// MaxConcurrency bounds in-flight provider calls.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// FailureRateThreshold aborts the run when exceeded (0.0-1.0).
	FailureRateThreshold float64 `json:"failure_rate_threshold" yaml:"failure_rate_threshold"`

	// ConfidenceLevel selects the confidence interval width (0.90, 0.95, 0.99).
	ConfidenceLevel float64 `json:"confidence_level" yaml:"confidence_level"`

	// CreatedAt records when the experiment was defined.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Brands returns the full brand list with the target first, in the order
// extraction and share-of-voice computations expect.
func (e *Experiment) Brands() []string {
	brands := make([]string, 0, len(e.CompetitorBrands)+1)
	brands = append(brands, e.TargetBrand)
	brands = append(brands, e.CompetitorBrands...)
	return brands
}

// Validate checks the experiment against its documented bounds.
// It returns ErrInvalidExperiment-wrapped errors so callers can test the
// category without string matching.
func (e *Experiment) Validate() error {
	if strings.TrimSpace(e.Prompt) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidExperiment, ErrEmptyPrompt)
	}
	if strings.TrimSpace(e.TargetBrand) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidExperiment, ErrEmptyTargetBrand)
	}
	if e.Provider == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidExperiment)
	}
	if e.Iterations < MinIterations || e.Iterations > MaxIterations {
		return fmt.Errorf("%w: iterations must be between %d and %d, got %d",
			ErrInvalidExperiment, MinIterations, MaxIterations, e.Iterations)
	}
	if len(e.CompetitorBrands) > MaxCompetitorBrands {
		return fmt.Errorf("%w: at most %d competitor brands, got %d",
			ErrInvalidExperiment, MaxCompetitorBrands, len(e.CompetitorBrands))
	}
	for _, brand := range e.CompetitorBrands {
		if strings.TrimSpace(brand) == "" {
			return fmt.Errorf("%w: competitor brand names cannot be empty", ErrInvalidExperiment)
		}
	}
	if e.MaxConcurrency < 1 || e.MaxConcurrency > MaxConcurrencyLimit {
		return fmt.Errorf("%w: max_concurrency must be between 1 and %d, got %d",
			ErrInvalidExperiment, MaxConcurrencyLimit, e.MaxConcurrency)
	}
	if e.Temperature < 0 || e.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0.0 and 2.0, got %.2f",
			ErrInvalidExperiment, e.Temperature)
	}
	if e.FailureRateThreshold <= 0 || e.FailureRateThreshold > 1 {
		return fmt.Errorf("%w: failure_rate_threshold must be in (0.0, 1.0], got %.2f",
			ErrInvalidExperiment, e.FailureRateThreshold)
	}
	switch e.ConfidenceLevel {
	case 0.90, 0.95, 0.99:
	default:
		return fmt.Errorf("%w: confidence_level must be one of 0.90, 0.95, 0.99, got %.2f",
			ErrInvalidExperiment, e.ConfidenceLevel)
	}
	return nil
}
