package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echoai/visibility-engine/internal/domain"
	"github.com/echoai/visibility-engine/internal/ports"
)

// EngineConfig wires the engine's collaborators. Client and Extractor are
// required; everything else degrades gracefully when nil.
type EngineConfig struct {
	// Client issues the provider calls.
	Client ports.LLMClient

	// Extractor derives mentions from each response.
	Extractor ports.MentionExtractor

	// Similarity computes the pairwise response spread. Optional.
	Similarity ports.SimilarityAnalyzer

	// Quota reserves and refunds iteration quota. Optional; nil means
	// unmetered operation.
	Quota ports.QuotaManager

	// Store persists finished runs. Optional.
	Store ports.RunStore

	// Progress receives live completion updates. Optional.
	Progress ports.ProgressSink

	// Metrics records operational telemetry. Optional.
	Metrics ports.MetricsCollector

	// Logger defaults to a no-op logger when nil.
	Logger *zap.Logger

	// CallTimeout bounds each provider call inside the sampling loop.
	// Zero selects DefaultCallTimeout.
	CallTimeout time.Duration
}

// Engine executes experiments end to end: reserve quota, run the sampling
// loop, aggregate metrics, assemble the report, persist the run. One
// Engine serves any number of concurrent Run calls.
type Engine struct {
	sampler    *Sampler
	similarity ports.SimilarityAnalyzer
	quota      ports.QuotaManager
	store      ports.RunStore
	metrics    ports.MetricsCollector
	logger     *zap.Logger
}

// NewEngine builds an Engine from its collaborators.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sampler, err := NewSampler(cfg.Client, cfg.Extractor, cfg.Progress, logger,
		WithCallTimeout(cfg.CallTimeout))
	if err != nil {
		return nil, err
	}

	return &Engine{
		sampler:    sampler,
		similarity: cfg.Similarity,
		quota:      cfg.Quota,
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// Run executes one batch run of the experiment and returns its report.
//
// A report is returned whenever at least one iteration was collected,
// including aborted and cancelled runs; the run inside it then carries
// the failure reason and the partial flag. The error is non-nil only
// when no report could be produced at all.
func (e *Engine) Run(ctx context.Context, exp *domain.Experiment) (*Report, error) {
	if exp == nil {
		return nil, errors.New("experiment cannot be nil")
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}

	run := &domain.BatchRun{
		ID:              uuid.NewString(),
		ExperimentID:    exp.ID,
		Provider:        exp.Provider,
		Model:           exp.Model,
		Status:          domain.RunPending,
		TotalIterations: exp.Iterations,
	}

	if e.quota != nil {
		if err := e.quota.Reserve(ctx, run.ID, exp.Iterations); err != nil {
			return nil, fmt.Errorf("reserve quota for run %s: %w", run.ID, err)
		}
	}

	if err := run.Transition(domain.RunRunning); err != nil {
		return nil, err
	}

	start := time.Now()
	iterations, sampleErr := e.sampler.Sample(ctx, exp, run.ID)
	e.recordRunTelemetry(exp, time.Since(start), sampleErr)

	run.Iterations = iterations
	for i := range iterations {
		if iterations[i].Succeeded() {
			run.SuccessfulIterations++
		} else {
			run.FailedIterations++
		}
	}

	e.finalize(run, exp, sampleErr)
	e.refundUnused(ctx, run)
	e.releaseProgressSeries(run.ID)

	report := e.assembleReport(run, exp)

	if e.store != nil {
		if err := e.store.SaveRun(ctx, run); err != nil {
			e.logger.Error("persist run failed",
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
		}
	}

	if run.Status == domain.RunFailed && run.SuccessfulIterations == 0 {
		return nil, fmt.Errorf("run %s failed: %s", run.ID, run.FailureReason)
	}
	return report, nil
}

// finalize computes metrics, chooses the terminal state, and stamps the
// failure reason. Aggregation runs whenever at least one iteration
// succeeded, so aborted and cancelled runs still yield partial metrics.
func (e *Engine) finalize(run *domain.BatchRun, exp *domain.Experiment, sampleErr error) {
	if run.SuccessfulIterations > 0 {
		metrics, err := domain.ComputeMetrics(run.Iterations, exp.TargetBrand, exp.Brands(), exp.ConfidenceLevel)
		if err != nil {
			// Unreachable with a successful iteration present; surfaced
			// as a failed run rather than panicking.
			e.logger.Error("aggregation failed", zap.String("run_id", run.ID), zap.Error(err))
			sampleErr = err
		} else {
			run.Metrics = metrics
		}
	}

	switch {
	case sampleErr == nil:
		e.transition(run, domain.RunCompleted)

	case errors.Is(sampleErr, context.Canceled) || errors.Is(sampleErr, context.DeadlineExceeded):
		// Cancellation yields a partial report from whatever was
		// collected, not a discarded run.
		run.Partial = true
		if run.SuccessfulIterations > 0 {
			e.transition(run, domain.RunCompleted)
		} else {
			run.FailureReason = "run cancelled before any iteration completed"
			e.transition(run, domain.RunFailed)
		}

	default:
		run.Partial = run.SuccessfulIterations > 0
		run.FailureReason = sampleErr.Error()
		e.transition(run, domain.RunFailed)
	}

	e.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("successful", run.SuccessfulIterations),
		zap.Int("failed", run.FailedIterations),
		zap.Bool("partial", run.Partial),
	)
}

func (e *Engine) transition(run *domain.BatchRun, to domain.RunStatus) {
	if err := run.Transition(to); err != nil {
		e.logger.Error("run transition rejected",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}

// refundUnused returns quota for every iteration that did not succeed,
// covering both failed calls and never-executed slots.
func (e *Engine) refundUnused(ctx context.Context, run *domain.BatchRun) {
	if e.quota == nil {
		return
	}
	refund := run.TotalIterations - run.SuccessfulIterations
	if refund <= 0 {
		return
	}
	if err := e.quota.Refund(ctx, run.ID, refund); err != nil {
		e.logger.Error("quota refund failed",
			zap.String("run_id", run.ID),
			zap.Int("iterations", refund),
			zap.Error(err),
		)
	}
}

// releaseProgressSeries drops the per-run progress gauges once the run is
// terminal. Runs are identified by UUID, so without this a long-lived
// process accumulates gauge series without bound.
func (e *Engine) releaseProgressSeries(runID string) {
	if e.metrics == nil {
		return
	}
	for _, state := range []string{"completed", "failed"} {
		e.metrics.DeleteGauge("batch_run_iterations",
			map[string]string{"run_id": runID, "state": state})
	}
}

func (e *Engine) assembleReport(run *domain.BatchRun, exp *domain.Experiment) *Report {
	assembler := NewReportAssembler(e.similarity)
	return assembler.Assemble(run, exp)
}

func (e *Engine) recordRunTelemetry(exp *domain.Experiment, elapsed time.Duration, sampleErr error) {
	if e.metrics == nil {
		return
	}
	labels := map[string]string{
		"provider": exp.Provider,
		"model":    exp.Model,
	}
	e.metrics.RecordLatency("batch_run", elapsed, labels)

	outcome := "completed"
	if sampleErr != nil {
		outcome = "failed"
	}
	e.metrics.RecordCounter("batch_runs_total", 1, map[string]string{
		"provider": exp.Provider,
		"model":    exp.Model,
		"outcome":  outcome,
	})
}
