// Package storage persists batch runs and their iteration sets in
// SQLite. The engine works without it; persistence is an optional
// collaborator wired through ports.RunStore.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/echoai/visibility-engine/internal/domain"
	"github.com/echoai/visibility-engine/internal/ports"
)

var _ ports.RunStore = (*SQLiteStore)(nil)

// ErrRunNotFound indicates a lookup for a run ID that was never saved.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                    TEXT PRIMARY KEY,
	experiment_id         TEXT NOT NULL,
	provider              TEXT NOT NULL,
	model                 TEXT NOT NULL,
	status                TEXT NOT NULL,
	total_iterations      INTEGER NOT NULL,
	successful_iterations INTEGER NOT NULL,
	failed_iterations     INTEGER NOT NULL,
	partial               INTEGER NOT NULL DEFAULT 0,
	failure_reason        TEXT NOT NULL DEFAULT '',
	started_at            TEXT,
	completed_at          TEXT,
	metrics               TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment_id, started_at DESC);

CREATE TABLE IF NOT EXISTS iterations (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx         INTEGER NOT NULL,
	status      TEXT NOT NULL,
	response    TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	tokens_in   INTEGER NOT NULL DEFAULT 0,
	tokens_out  INTEGER NOT NULL DEFAULT 0,
	mentioned   INTEGER NOT NULL DEFAULT 0,
	position    INTEGER,
	sentiment   TEXT NOT NULL DEFAULT 'neutral',
	mentions    TEXT,
	PRIMARY KEY (run_id, idx)
);
`

// SQLiteStore implements ports.RunStore on a SQLite database file.
// The zero value is not usable; construct with NewSQLiteStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// applies the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The sampler persists from a single goroutine, but SQLite still
	// dislikes concurrent writers on one connection pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SaveRun inserts or replaces a batch run with its iterations and metrics.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.BatchRun) error {
	metricsJSON, err := marshalNullable(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, experiment_id, provider, model, status,
			total_iterations, successful_iterations, failed_iterations,
			partial, failure_reason, started_at, completed_at, metrics
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ExperimentID, run.Provider, run.Model, string(run.Status),
		run.TotalIterations, run.SuccessfulIterations, run.FailedIterations,
		boolToInt(run.Partial), run.FailureReason,
		timeToNullable(run.StartedAt), timeToNullable(run.CompletedAt),
		metricsJSON,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM iterations WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear iterations for run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO iterations (
			run_id, idx, status, response, error, latency_ms,
			tokens_in, tokens_out, mentioned, position, sentiment, mentions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare iteration insert: %w", err)
	}
	defer stmt.Close()

	for i := range run.Iterations {
		it := &run.Iterations[i]
		mentionsJSON, err := marshalNullable(it.Mentions)
		if err != nil {
			return fmt.Errorf("encode mentions for iteration %d: %w", it.Index, err)
		}
		_, err = stmt.ExecContext(ctx,
			run.ID, it.Index, string(it.Status), it.Response, it.ErrMessage,
			it.LatencyMs, it.TokensIn, it.TokensOut,
			boolToInt(it.Mentioned), intPtrToNullable(it.Position),
			string(it.Sentiment), mentionsJSON,
		)
		if err != nil {
			return fmt.Errorf("save iteration %d of run %s: %w", it.Index, run.ID, err)
		}
	}

	return tx.Commit()
}

// GetRun loads a run with its iterations. Returns ErrRunNotFound when the
// ID is unknown.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.BatchRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, experiment_id, provider, model, status,
		       total_iterations, successful_iterations, failed_iterations,
		       partial, failure_reason, started_at, completed_at, metrics
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}

	if err := s.loadIterations(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the runs for an experiment, newest first, without
// their iteration sets.
func (s *SQLiteStore) ListRuns(ctx context.Context, experimentID string) ([]*domain.BatchRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, provider, model, status,
		       total_iterations, successful_iterations, failed_iterations,
		       partial, failure_reason, started_at, completed_at, metrics
		FROM runs WHERE experiment_id = ?
		ORDER BY started_at DESC`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list runs for experiment %s: %w", experimentID, err)
	}
	defer rows.Close()

	var runs []*domain.BatchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.BatchRun, error) {
	var (
		run         domain.BatchRun
		status      string
		partial     int
		startedAt   sql.NullString
		completedAt sql.NullString
		metricsJSON sql.NullString
	)
	err := row.Scan(
		&run.ID, &run.ExperimentID, &run.Provider, &run.Model, &status,
		&run.TotalIterations, &run.SuccessfulIterations, &run.FailedIterations,
		&partial, &run.FailureReason, &startedAt, &completedAt, &metricsJSON,
	)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.Partial = partial != 0

	if run.StartedAt, err = nullableToTime(startedAt); err != nil {
		return nil, fmt.Errorf("decode started_at: %w", err)
	}
	if run.CompletedAt, err = nullableToTime(completedAt); err != nil {
		return nil, fmt.Errorf("decode completed_at: %w", err)
	}

	if metricsJSON.Valid {
		var metrics domain.VisibilityMetrics
		if err := json.Unmarshal([]byte(metricsJSON.String), &metrics); err != nil {
			return nil, fmt.Errorf("decode metrics for run %s: %w", run.ID, err)
		}
		run.Metrics = &metrics
	}
	return &run, nil
}

func (s *SQLiteStore) loadIterations(ctx context.Context, run *domain.BatchRun) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, status, response, error, latency_ms,
		       tokens_in, tokens_out, mentioned, position, sentiment, mentions
		FROM iterations WHERE run_id = ?
		ORDER BY idx`, run.ID)
	if err != nil {
		return fmt.Errorf("load iterations for run %s: %w", run.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it           domain.Iteration
			status       string
			mentioned    int
			position     sql.NullInt64
			sentiment    string
			mentionsJSON sql.NullString
		)
		err := rows.Scan(
			&it.Index, &status, &it.Response, &it.ErrMessage, &it.LatencyMs,
			&it.TokensIn, &it.TokensOut, &mentioned, &position, &sentiment, &mentionsJSON,
		)
		if err != nil {
			return fmt.Errorf("scan iteration for run %s: %w", run.ID, err)
		}

		it.Status = domain.IterationStatus(status)
		it.Mentioned = mentioned != 0
		it.Sentiment = domain.Sentiment(sentiment)
		if position.Valid {
			p := int(position.Int64)
			it.Position = &p
		}
		if mentionsJSON.Valid {
			if err := json.Unmarshal([]byte(mentionsJSON.String), &it.Mentions); err != nil {
				return fmt.Errorf("decode mentions for iteration %d: %w", it.Index, err)
			}
		}
		run.Iterations = append(run.Iterations, it)
	}
	return rows.Err()
}

func marshalNullable(v any) (sql.NullString, error) {
	switch value := v.(type) {
	case *domain.VisibilityMetrics:
		if value == nil {
			return sql.NullString{}, nil
		}
	case []domain.BrandMention:
		if len(value) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func timeToNullable(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullableToTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func intPtrToNullable(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
