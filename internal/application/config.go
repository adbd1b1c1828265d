package application

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/echoai/visibility-engine/internal/domain"
)

// Defaults applied to experiment fields left unset in the YAML file.
const (
	DefaultIterations     = 10
	DefaultMaxConcurrency = 5
	DefaultTemperature    = 0.7
)

// LoadExperimentFromFile reads, defaults, and validates an experiment
// definition from a YAML file.
func LoadExperimentFromFile(path string) (*domain.Experiment, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read experiment file: %w", err)
	}
	return parseExperiment(data)
}

// LoadExperimentFromReader behaves like LoadExperimentFromFile for any
// reader.
func LoadExperimentFromReader(r io.Reader) (*domain.Experiment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read experiment data: %w", err)
	}
	return parseExperiment(data)
}

// parseExperiment decodes the YAML strictly so configuration typos fail
// loudly, then applies defaults and validates the result.
func parseExperiment(data []byte) (*domain.Experiment, error) {
	var exp domain.Experiment
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&exp); err != nil {
		return nil, fmt.Errorf("decode experiment: %w", err)
	}

	applyExperimentDefaults(&exp)

	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return &exp, nil
}

// applyExperimentDefaults fills unset Monte Carlo parameters. Zero values
// are treated as unset; deterministic sampling at temperature 0 would
// make repeated draws pointless, so that zero also gets the default.
func applyExperimentDefaults(exp *domain.Experiment) {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	if exp.Iterations == 0 {
		exp.Iterations = DefaultIterations
	}
	if exp.MaxConcurrency == 0 {
		exp.MaxConcurrency = DefaultMaxConcurrency
	}
	if exp.Temperature == 0 {
		exp.Temperature = DefaultTemperature
	}
	if exp.FailureRateThreshold == 0 {
		exp.FailureRateThreshold = domain.DefaultFailureRateThreshold
	}
	if exp.ConfidenceLevel == 0 {
		exp.ConfidenceLevel = domain.DefaultConfidenceLevel
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}
}
