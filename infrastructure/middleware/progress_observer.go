package middleware

import (
	"go.uber.org/zap"

	"github.com/echoai/visibility-engine/internal/ports"
)

var _ ports.ProgressSink = (*ProgressObserver)(nil)

// ProgressObserver implements ports.ProgressSink by exporting iteration
// progress as gauges and logging coarse milestones. It decouples
// observability from the sampling loop; the sampler only knows it is
// reporting counts.
type ProgressObserver struct {
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

// NewProgressObserver builds an observer. Either collaborator may be nil.
func NewProgressObserver(metrics ports.MetricsCollector, logger *zap.Logger) *ProgressObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressObserver{metrics: metrics, logger: logger}
}

// Progress records the completion state of an in-flight run. Safe for
// concurrent use; both collaborators are concurrency-safe themselves.
func (o *ProgressObserver) Progress(runID string, completed, failed, total int) {
	if o.metrics != nil {
		o.metrics.RecordGauge("batch_run_iterations", float64(completed),
			map[string]string{"run_id": runID, "state": "completed"})
		o.metrics.RecordGauge("batch_run_iterations", float64(failed),
			map[string]string{"run_id": runID, "state": "failed"})
	}

	done := completed + failed
	if done == total || done%10 == 0 {
		o.logger.Debug("run progress",
			zap.String("run_id", runID),
			zap.Int("completed", completed),
			zap.Int("failed", failed),
			zap.Int("total", total),
		)
	}
}
