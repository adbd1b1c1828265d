package ports

import (
	"context"
	"time"

	"github.com/echoai/visibility-engine/internal/domain"
)

// MetricsCollector defines the interface for collecting operational
// metrics. Implementations integrate with observability platforms like
// Prometheus or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// DeleteGauge removes a gauge series so short-lived label values, such
	// as run IDs, do not accumulate without bound. Deleting a series that
	// was never recorded is a no-op.
	DeleteGauge(metric string, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// QuotaManager is the billing collaborator contract. The engine reserves
// iteration quota before sampling starts and refunds the failed and
// never-executed portion when a run aborts. The engine only reports
// counts; pricing and user accounting live behind this interface.
type QuotaManager interface {
	// Reserve decrements quota for the given number of iterations before
	// any provider call is made. It returns an error when the quota is
	// insufficient, in which case the run must not start.
	Reserve(ctx context.Context, runID string, iterations int) error

	// Refund returns quota for iterations that failed or never executed.
	// Refunding zero iterations is a no-op, not an error.
	Refund(ctx context.Context, runID string, iterations int) error
}

// RunStore persists batch runs and their iteration sets.
type RunStore interface {
	// SaveRun inserts or replaces a batch run, including its iterations
	// and metrics.
	SaveRun(ctx context.Context, run *domain.BatchRun) error

	// GetRun loads a batch run by ID, or returns an error when absent.
	GetRun(ctx context.Context, id string) (*domain.BatchRun, error)

	// ListRuns returns the runs belonging to an experiment, newest first.
	ListRuns(ctx context.Context, experimentID string) ([]*domain.BatchRun, error)
}

// ProgressSink receives completion updates while a batch is in flight.
// Implementations must be safe for concurrent use; the sampler calls
// Progress from multiple goroutines as iterations finish.
type ProgressSink interface {
	// Progress reports terminal-outcome counts so far.
	Progress(runID string, completed, failed, total int)
}
