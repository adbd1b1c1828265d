package application

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/echoai/visibility-engine/internal/domain"
	"github.com/echoai/visibility-engine/internal/ports"
)

// Report is the final deliverable of a batch run: the run record with its
// metrics, the experiment it executed, and the secondary response-spread
// signal when enough successful responses exist to compute one.
type Report struct {
	// Run is the executed batch run, iterations and metrics included.
	Run *domain.BatchRun `json:"run"`

	// Experiment is the configuration the run executed.
	Experiment *domain.Experiment `json:"experiment"`

	// ResponseConsistency is the pairwise similarity spread over the
	// successful responses. Nil with fewer than two successes.
	ResponseConsistency *domain.ResponseSpread `json:"response_consistency,omitempty"`

	// GeneratedAt is when the report was assembled, in UTC.
	GeneratedAt time.Time `json:"generated_at"`
}

// Summary renders the headline numbers as a short human-readable string.
func (r *Report) Summary() string {
	run := r.Run
	if run.Metrics == nil {
		return fmt.Sprintf("run %s %s: %d/%d iterations succeeded, no metrics",
			run.ID, run.Status, run.SuccessfulIterations, run.TotalIterations)
	}
	m := run.Metrics
	return fmt.Sprintf("run %s %s: visibility %.1f%% (%.0f%% CI %.1f%%-%.1f%%) over %d samples",
		run.ID, run.Status,
		m.VisibilityRate*100,
		m.ConfidenceLevel*100,
		m.Interval.Lower*100,
		m.Interval.Upper*100,
		m.SampleSize,
	)
}

// MarshalIndent renders the report as indented JSON.
func (r *Report) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ReportAssembler turns a finished run into a Report. It is the single
// place where derived, non-domain signals (response spread) get attached.
type ReportAssembler struct {
	similarity ports.SimilarityAnalyzer
}

// NewReportAssembler builds an assembler. The analyzer may be nil, in
// which case reports omit the response-consistency section.
func NewReportAssembler(similarity ports.SimilarityAnalyzer) *ReportAssembler {
	return &ReportAssembler{similarity: similarity}
}

// Assemble builds the report for a finished run.
func (a *ReportAssembler) Assemble(run *domain.BatchRun, exp *domain.Experiment) *Report {
	report := &Report{
		Run:         run,
		Experiment:  exp,
		GeneratedAt: time.Now().UTC(),
	}

	if a.similarity != nil {
		responses := make([]string, 0, len(run.Iterations))
		for i := range run.Iterations {
			if run.Iterations[i].Succeeded() {
				responses = append(responses, run.Iterations[i].Response)
			}
		}
		report.ResponseConsistency = a.similarity.Spread(responses)
	}

	return report
}
