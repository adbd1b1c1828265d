package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validExperiment() *Experiment {
	return &Experiment{
		ID:                   "exp-1",
		Prompt:               "What is the best CI system?",
		TargetBrand:          "Acme",
		CompetitorBrands:     []string{"Beta", "Gamma"},
		Provider:             "openai",
		Iterations:           10,
		Temperature:          0.7,
		MaxConcurrency:       5,
		FailureRateThreshold: 0.5,
		ConfidenceLevel:      0.95,
	}
}

func TestExperiment_ValidateAccepts(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validExperiment().Validate())
}

func TestExperiment_ValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Experiment)
		is     error
	}{
		{"blank prompt", func(e *Experiment) { e.Prompt = "  " }, ErrEmptyPrompt},
		{"blank target brand", func(e *Experiment) { e.TargetBrand = "" }, ErrEmptyTargetBrand},
		{"missing provider", func(e *Experiment) { e.Provider = "" }, ErrInvalidExperiment},
		{"zero iterations", func(e *Experiment) { e.Iterations = 0 }, ErrInvalidExperiment},
		{"iterations above cap", func(e *Experiment) { e.Iterations = MaxIterations + 1 }, ErrInvalidExperiment},
		{"too many competitors", func(e *Experiment) {
			e.CompetitorBrands = make([]string, MaxCompetitorBrands+1)
			for i := range e.CompetitorBrands {
				e.CompetitorBrands[i] = "b"
			}
		}, ErrInvalidExperiment},
		{"empty competitor name", func(e *Experiment) { e.CompetitorBrands = []string{"Beta", " "} }, ErrInvalidExperiment},
		{"zero concurrency", func(e *Experiment) { e.MaxConcurrency = 0 }, ErrInvalidExperiment},
		{"concurrency above cap", func(e *Experiment) { e.MaxConcurrency = MaxConcurrencyLimit + 1 }, ErrInvalidExperiment},
		{"negative temperature", func(e *Experiment) { e.Temperature = -0.1 }, ErrInvalidExperiment},
		{"temperature above two", func(e *Experiment) { e.Temperature = 2.5 }, ErrInvalidExperiment},
		{"zero failure threshold", func(e *Experiment) { e.FailureRateThreshold = 0 }, ErrInvalidExperiment},
		{"threshold above one", func(e *Experiment) { e.FailureRateThreshold = 1.1 }, ErrInvalidExperiment},
		{"odd confidence level", func(e *Experiment) { e.ConfidenceLevel = 0.97 }, ErrInvalidExperiment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exp := validExperiment()
			tt.mutate(exp)
			err := exp.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.is)
			assert.ErrorIs(t, err, ErrInvalidExperiment)
		})
	}
}

func TestExperiment_BoundaryValuesAccepted(t *testing.T) {
	t.Parallel()

	exp := validExperiment()
	exp.Iterations = MinIterations
	exp.MaxConcurrency = 1
	exp.Temperature = 0
	exp.FailureRateThreshold = 1
	assert.NoError(t, exp.Validate())

	exp = validExperiment()
	exp.Iterations = MaxIterations
	exp.MaxConcurrency = MaxConcurrencyLimit
	exp.Temperature = 2
	assert.NoError(t, exp.Validate())
}

func TestExperiment_Brands(t *testing.T) {
	t.Parallel()

	exp := validExperiment()
	assert.Equal(t, []string{"Acme", "Beta", "Gamma"}, exp.Brands())

	exp.CompetitorBrands = nil
	assert.Equal(t, []string{"Acme"}, exp.Brands())
}
