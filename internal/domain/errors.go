package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur during batch execution and aggregation.
var (
	// ErrInvalidExperiment indicates that an experiment configuration failed validation.
	ErrInvalidExperiment = errors.New("invalid experiment")

	// ErrEmptyPrompt indicates that an experiment has no prompt text.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrEmptyTargetBrand indicates that an experiment has no target brand.
	ErrEmptyTargetBrand = errors.New("target brand cannot be empty")

	// ErrRunImmutable indicates an attempt to modify a batch run that has
	// reached a terminal state.
	ErrRunImmutable = errors.New("batch run is in a terminal state")

	// ErrNoIterations indicates that an empty iteration set was passed to
	// the aggregator.
	ErrNoIterations = errors.New("no iterations to aggregate")

	// ErrNoSuccessfulIterations indicates that every iteration in the set
	// failed, leaving nothing to compute rates from.
	ErrNoSuccessfulIterations = errors.New("no successful iterations to aggregate")
)

// TransitionError reports an invalid batch run state transition.
// Terminal states are final; any transition out of them is a programming
// error and is surfaced rather than silently ignored.
type TransitionError struct {
	// From is the state the run was in when the transition was requested.
	From RunStatus

	// To is the state the transition attempted to reach.
	To RunStatus
}

// Error implements the error interface for TransitionError.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid run transition: %s -> %s", e.From, e.To)
}

// BatchAbortError indicates that a batch run was aborted because the
// iteration failure rate exceeded the configured threshold, or because a
// fatal provider error (authentication, quota exhaustion) made further
// iterations pointless. It carries enough detail to produce a
// human-readable failure reason and to drive quota refunds.
type BatchAbortError struct {
	// Failed is the number of iterations that had failed at abort time.
	Failed int

	// Completed is the number of iterations with a terminal outcome at
	// abort time, successes included.
	Completed int

	// Threshold is the failure-rate threshold that was exceeded (0.0-1.0).
	Threshold float64

	// Fatal holds the provider error that triggered an immediate abort,
	// or nil when the abort was threshold-driven.
	Fatal error
}

// Error implements the error interface for BatchAbortError.
func (e *BatchAbortError) Error() string {
	if e.Fatal != nil {
		return fmt.Sprintf("batch aborted: fatal provider error: %v", e.Fatal)
	}
	return fmt.Sprintf("batch aborted: provider returned errors on %d/%d iterations (threshold %.0f%%)",
		e.Failed, e.Completed, e.Threshold*100)
}

// Unwrap returns the fatal provider error, if any.
func (e *BatchAbortError) Unwrap() error { return e.Fatal }

// AggregationError indicates that the aggregator received an iteration set
// it cannot compute metrics from. This should never occur given correct
// sampler behavior; it fails loudly because silently returning zeroed
// metrics would be indistinguishable from a true visibility of zero.
type AggregationError struct {
	// Reason is the underlying sentinel error (ErrNoIterations or
	// ErrNoSuccessfulIterations).
	Reason error

	// Total is the size of the iteration set that was passed in.
	Total int
}

// Error implements the error interface for AggregationError.
func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation failed over %d iterations: %v", e.Total, e.Reason)
}

// Unwrap returns the underlying sentinel error, supporting errors.Is checks.
func (e *AggregationError) Unwrap() error { return e.Reason }
