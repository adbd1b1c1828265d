package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoai/visibility-engine/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(id, experimentID string) *domain.BatchRun {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(42 * time.Second)
	position := 2

	return &domain.BatchRun{
		ID:                   id,
		ExperimentID:         experimentID,
		Provider:             "openai",
		Model:                "gpt-4o-mini",
		Status:               domain.RunCompleted,
		TotalIterations:      2,
		SuccessfulIterations: 2,
		StartedAt:            &started,
		CompletedAt:          &completed,
		Metrics: &domain.VisibilityMetrics{
			TargetBrand:     "Acme",
			SampleSize:      2,
			VisibilityRate:  1.0,
			ConfidenceLevel: 0.95,
			Interval:        domain.ConfidenceInterval{Lower: 0.34, Upper: 1.0},
			ShareOfVoice:    map[string]float64{"Acme": 1.0},
		},
		Iterations: []domain.Iteration{
			{
				Index:     0,
				Status:    domain.IterationSuccess,
				Response:  "Acme leads the market.",
				LatencyMs: 180,
				TokensIn:  12,
				TokensOut: 8,
				Mentioned: true,
				Position:  &position,
				Sentiment: domain.SentimentPositive,
				Mentions: []domain.BrandMention{
					{Brand: "Acme", Count: 1, FirstOffset: 0, Context: "Acme leads the market."},
				},
			},
			{
				Index:     1,
				Status:    domain.IterationSuccess,
				Response:  "Acme again.",
				LatencyMs: 150,
				Mentioned: true,
				Sentiment: domain.SentimentNeutral,
			},
		},
	}
}

func TestSQLiteStore_SaveAndGetRun(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	run := sampleRun("run-1", "exp-1")

	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, run.Status, loaded.Status)
	assert.Equal(t, run.SuccessfulIterations, loaded.SuccessfulIterations)
	require.NotNil(t, loaded.StartedAt)
	assert.True(t, run.StartedAt.Equal(*loaded.StartedAt))

	require.NotNil(t, loaded.Metrics)
	assert.InDelta(t, 1.0, loaded.Metrics.VisibilityRate, 1e-9)
	assert.Equal(t, map[string]float64{"Acme": 1.0}, loaded.Metrics.ShareOfVoice)

	require.Len(t, loaded.Iterations, 2)
	first := loaded.Iterations[0]
	assert.True(t, first.Mentioned)
	require.NotNil(t, first.Position)
	assert.Equal(t, 2, *first.Position)
	assert.Equal(t, domain.SentimentPositive, first.Sentiment)
	require.Len(t, first.Mentions, 1)
	assert.Equal(t, "Acme", first.Mentions[0].Brand)

	second := loaded.Iterations[1]
	assert.Nil(t, second.Position)
	assert.Nil(t, second.Mentions)
}

func TestSQLiteStore_GetRunNotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLiteStore_SaveRunOverwrites(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-1", "exp-1")
	require.NoError(t, store.SaveRun(ctx, run))

	run.Status = domain.RunFailed
	run.FailureReason = "batch aborted: provider returned errors on 5/10 iterations (threshold 50%)"
	run.Iterations = run.Iterations[:1]
	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, loaded.Status)
	assert.Contains(t, loaded.FailureReason, "batch aborted")
	assert.Len(t, loaded.Iterations, 1)
}

func TestSQLiteStore_ListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	older := sampleRun("run-old", "exp-1")
	earlier := older.StartedAt.Add(-time.Hour)
	older.StartedAt = &earlier

	newer := sampleRun("run-new", "exp-1")
	other := sampleRun("run-other", "exp-2")

	require.NoError(t, store.SaveRun(ctx, older))
	require.NoError(t, store.SaveRun(ctx, newer))
	require.NoError(t, store.SaveRun(ctx, other))

	runs, err := store.ListRuns(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-old", runs[1].ID)

	// Listing omits the heavy iteration sets.
	assert.Empty(t, runs[0].Iterations)
}

func TestSQLiteStore_RunWithoutMetrics(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-bare", "exp-3")
	run.Metrics = nil
	run.Iterations = nil
	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.GetRun(ctx, "run-bare")
	require.NoError(t, err)
	assert.Nil(t, loaded.Metrics)
	assert.Empty(t, loaded.Iterations)
}
