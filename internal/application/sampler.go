// Package application orchestrates batch visibility runs: fanning out
// repeated LLM calls, extracting brand mentions from each response,
// aggregating the iteration set into visibility metrics, and assembling
// the final report.
package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/echoai/visibility-engine/infrastructure/llm"
	"github.com/echoai/visibility-engine/internal/domain"
	"github.com/echoai/visibility-engine/internal/ports"
)

var (
	ErrNilLLMClient = errors.New("llm client cannot be nil")
	ErrNilExtractor = errors.New("mention extractor cannot be nil")
)

// DefaultCallTimeout bounds a single provider call when no explicit
// timeout is configured. The guard lives in the sampler itself so a hung
// provider call cannot stall the batch even when the client was composed
// without a timeout middleware.
const DefaultCallTimeout = 60 * time.Second

// errAbortSampling signals the worker group to stop without marking the
// triggering iteration itself as the cause.
var errAbortSampling = errors.New("sampling aborted")

// Sampler runs the repeated-sampling loop of an experiment: N independent
// completions for the same prompt, bounded by the experiment's concurrency
// limit. Each iteration yields exactly one terminal Iteration record, so a
// run of N iterations always produces N outcomes regardless of failures.
type Sampler struct {
	client      ports.LLMClient
	extractor   ports.MentionExtractor
	progress    ports.ProgressSink
	logger      *zap.Logger
	tracer      trace.Tracer
	callTimeout time.Duration
}

// SamplerOption customizes sampler behavior.
type SamplerOption func(*Sampler)

// WithCallTimeout overrides the per-call deadline applied to each
// provider call. Non-positive values keep the default.
func WithCallTimeout(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// NewSampler builds a Sampler. The progress sink may be nil when no live
// updates are needed; the logger may be nil for silent operation.
func NewSampler(
	client ports.LLMClient,
	extractor ports.MentionExtractor,
	progress ports.ProgressSink,
	logger *zap.Logger,
	opts ...SamplerOption,
) (*Sampler, error) {
	if client == nil {
		return nil, ErrNilLLMClient
	}
	if extractor == nil {
		return nil, ErrNilExtractor
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sampler{
		client:      client,
		extractor:   extractor,
		progress:    progress,
		logger:      logger,
		tracer:      otel.Tracer("batch-sampler"),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// runTracker accumulates terminal outcomes across worker goroutines and
// decides when the batch must abort.
type runTracker struct {
	mu        sync.Mutex
	completed int
	failed    int
	total     int
	threshold float64
	fatal     error
	aborted   bool
}

// record registers one terminal outcome and reports the counts plus
// whether the batch should abort. Once the tracker flips to aborted it
// stays aborted.
func (t *runTracker) record(it *domain.Iteration, callErr error) (completed, failed int, abort bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case it.Succeeded():
		t.completed++
	case it.Status == domain.IterationCancelled:
		// Cancellation is not a provider failure and never drives the
		// threshold abort.
	default:
		t.failed++
		if t.fatal == nil && llm.IsFatal(callErr) {
			t.fatal = callErr
		}
	}

	if !t.aborted {
		// The rate must exceed the threshold, not merely reach it; a run
		// sitting exactly at the configured rate is still within budget.
		rate := float64(t.failed) / float64(t.total)
		if t.fatal != nil || rate > t.threshold {
			t.aborted = true
		}
	}
	return t.completed, t.failed, t.aborted
}

func (t *runTracker) snapshot() (completed, failed int, fatal error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.failed, t.fatal
}

// Sample executes every iteration of the experiment and returns one
// Iteration record per planned index, in index order.
//
// The returned error is nil when all iterations reached a terminal state
// without aborting; note that individual iteration failures below the
// threshold are not an error. A *domain.BatchAbortError reports a
// threshold or fatal-authentication abort. A context error reports
// cancellation; in both abort cases the returned slice still holds every
// collected outcome, with never-started iterations marked cancelled.
func (s *Sampler) Sample(ctx context.Context, exp *domain.Experiment, runID string) ([]domain.Iteration, error) {
	ctx, span := s.tracer.Start(ctx, "Sampler.Sample",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.provider", exp.Provider),
			attribute.Int("run.iterations", exp.Iterations),
			attribute.Int("run.max_concurrency", exp.MaxConcurrency),
		),
	)
	defer span.End()

	total := exp.Iterations
	iterations := make([]domain.Iteration, total)
	for i := range iterations {
		iterations[i] = domain.Iteration{
			Index:     i,
			Status:    domain.IterationCancelled,
			Sentiment: domain.SentimentNeutral,
		}
	}

	threshold := exp.FailureRateThreshold
	if threshold == 0 {
		threshold = domain.DefaultFailureRateThreshold
	}
	tracker := &runTracker{total: total, threshold: threshold}

	options := map[string]any{
		"temperature": exp.Temperature,
		"model":       exp.Model,
	}
	if exp.SystemPrompt != "" {
		options["system"] = exp.SystemPrompt
	}

	s.logger.Info("sampling started",
		zap.String("run_id", runID),
		zap.String("provider", exp.Provider),
		zap.String("model", exp.Model),
		zap.Int("iterations", total),
		zap.Int("max_concurrency", exp.MaxConcurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exp.MaxConcurrency)

	for i := 0; i < total; i++ {
		idx := i
		g.Go(func() error {
			if gctx.Err() != nil {
				// Never started; the slot keeps its cancelled marker.
				return nil
			}

			it, callErr := s.runIteration(gctx, exp, options, idx)
			iterations[idx] = it

			completed, failed, abort := tracker.record(&it, callErr)
			if s.progress != nil {
				s.progress.Progress(runID, completed, failed, total)
			}
			if abort {
				return errAbortSampling
			}
			return nil
		})
	}

	err := g.Wait()
	completed, failed, fatal := tracker.snapshot()

	switch {
	case ctx.Err() != nil:
		// Caller cancellation wins over any abort raced against it; the
		// collected outcomes still feed a partial report.
		return iterations, ctx.Err()
	case err == nil:
		return iterations, nil
	case errors.Is(err, errAbortSampling):
		s.logger.Warn("sampling aborted",
			zap.String("run_id", runID),
			zap.Int("failed", failed),
			zap.Int("completed", completed),
			zap.Bool("fatal", fatal != nil),
		)
		abortErr := &domain.BatchAbortError{
			Failed:    failed,
			Completed: completed + failed,
			Threshold: threshold,
			Fatal:     fatal,
		}
		span.RecordError(abortErr)
		return iterations, abortErr
	default:
		return iterations, err
	}
}

// runIteration executes one provider call and converts the outcome, good
// or bad, into a terminal Iteration record. The raw call error is
// returned alongside for fatality classification.
func (s *Sampler) runIteration(ctx context.Context, exp *domain.Experiment, options map[string]any, idx int) (domain.Iteration, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	response, tokensIn, tokensOut, err := s.client.CompleteWithUsage(callCtx, exp.Prompt, options)
	latency := time.Since(start)

	it := domain.Iteration{
		Index:     idx,
		LatencyMs: latency.Milliseconds(),
		Sentiment: domain.SentimentNeutral,
	}

	if err != nil {
		it.Status = llm.IterationStatusFor(err)
		it.ErrMessage = err.Error()
		s.logger.Debug("iteration failed",
			zap.Int("index", idx),
			zap.String("status", string(it.Status)),
			zap.Error(err),
		)
		return it, err
	}

	it.Status = domain.IterationSuccess
	it.Response = response
	it.TokensIn = tokensIn
	it.TokensOut = tokensOut

	extraction, err := s.extractor.Extract(ctx, response)
	if err != nil {
		// The response text is still usable evidence; extraction problems
		// fail the iteration rather than the batch.
		it.Status = domain.IterationFailed
		it.ErrMessage = err.Error()
		return it, nil
	}

	it.Mentioned = extraction.Mentioned
	it.Position = extraction.Position
	it.Sentiment = extraction.Sentiment
	it.Mentions = extraction.Mentions
	return it, nil
}
