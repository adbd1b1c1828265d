package domain

import (
	"time"
)

// RunStatus is the lifecycle state of a BatchRun.
// The state machine is pending -> running -> {completed, failed}.
// Terminal states are final; automatic retry never happens at the run
// level (the sampler handles per-iteration retry internally).
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

// validTransitions encodes the only legal state-machine edges.
var validTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning},
	RunRunning: {RunCompleted, RunFailed},
}

// BatchRun is one execution of an Experiment against a single
// provider/model. It owns its iterations and, once completed, the
// aggregated metrics. The invariant Successful + Failed == Total holds on
// completion; metrics are only ever computed from iterations marked
// successful.
type BatchRun struct {
	// ID uniquely identifies this run.
	ID string `json:"id"`

	// ExperimentID references the experiment this run executes.
	ExperimentID string `json:"experiment_id"`

	// Provider and Model record what actually served the calls.
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Status is the current lifecycle state.
	Status RunStatus `json:"status"`

	// TotalIterations is the configured sample count.
	TotalIterations int `json:"total_iterations"`

	// SuccessfulIterations and FailedIterations are terminal-outcome
	// counts. Their sum equals TotalIterations once the run completes.
	SuccessfulIterations int `json:"successful_iterations"`
	FailedIterations     int `json:"failed_iterations"`

	// Partial reports that the run was cancelled mid-flight and the
	// metrics cover only the iterations collected before cancellation.
	Partial bool `json:"partial,omitempty"`

	// FailureReason is a human-readable explanation for failed runs, e.g.
	// "provider returned errors on 8/10 iterations".
	FailureReason string `json:"failure_reason,omitempty"`

	// StartedAt and CompletedAt bound the execution window.
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Metrics holds the aggregated statistics once the run completes.
	Metrics *VisibilityMetrics `json:"metrics,omitempty"`

	// Iterations is the raw per-sample record set.
	Iterations []Iteration `json:"iterations,omitempty"`
}

// Transition moves the run to the next lifecycle state, enforcing the
// state machine. It returns a TransitionError for illegal edges, including
// any transition out of a terminal state.
func (br *BatchRun) Transition(to RunStatus) error {
	for _, allowed := range validTransitions[br.Status] {
		if allowed == to {
			br.Status = to
			now := time.Now().UTC()
			switch to {
			case RunRunning:
				br.StartedAt = &now
			case RunCompleted, RunFailed:
				br.CompletedAt = &now
			}
			return nil
		}
	}
	return &TransitionError{From: br.Status, To: to}
}

// FailureRate returns the fraction of terminal iterations that failed.
// It is zero when no iteration has completed yet.
func (br *BatchRun) FailureRate() float64 {
	done := br.SuccessfulIterations + br.FailedIterations
	if done == 0 {
		return 0
	}
	return float64(br.FailedIterations) / float64(done)
}

// DurationMs returns the execution duration in milliseconds, or zero when
// the run has not finished.
func (br *BatchRun) DurationMs() int64 {
	if br.StartedAt == nil || br.CompletedAt == nil {
		return 0
	}
	return br.CompletedAt.Sub(*br.StartedAt).Milliseconds()
}
