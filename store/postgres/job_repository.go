// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobStatus is a backtest job's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// JobDetails is a backtest job's static request: what to backtest and
// with which strategy and simulation parameters.
type JobDetails struct {
	JobID              string
	BatchID            string
	Ticker             string
	Timeframe          string
	StartDate          time.Time
	EndDate            time.Time
	StrategyDefinition json.RawMessage
	SimulationParams   map[string]any
}

// JobRepository reads and updates backtest jobs and persists their results.
type JobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository wraps pool for job reads/writes.
func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// GetJobDetails loads a job's request by ID. ok is false if the job does
// not exist.
func (r *JobRepository) GetJobDetails(ctx context.Context, jobID string) (JobDetails, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT job_id, batch_id, ticker, timeframe, start_date, end_date, strategy_definition, simulation_params
		FROM backtest_jobs
		WHERE job_id = $1
	`, jobID)

	var (
		d         JobDetails
		rawParams []byte
	)
	err := row.Scan(&d.JobID, &d.BatchID, &d.Ticker, &d.Timeframe, &d.StartDate, &d.EndDate, &d.StrategyDefinition, &rawParams)
	if errors.Is(err, pgx.ErrNoRows) {
		return JobDetails{}, false, nil
	}
	if err != nil {
		return JobDetails{}, false, fmt.Errorf("postgres: failed to load job %q: %w", jobID, err)
	}

	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &d.SimulationParams); err != nil {
			return JobDetails{}, false, fmt.Errorf("postgres: failed to decode simulation params for job %q: %w", jobID, err)
		}
	}
	return d, true, nil
}

// UpdateJobStatus transitions a job's status, optionally recording an
// error message, and atomically applies the corresponding batch counter
// delta in the same transaction via BatchRepository.
func (r *JobRepository) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errMessage string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin job status transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var batchID string
	var oldStatus string
	row := tx.QueryRow(ctx, `
		SELECT batch_id, status FROM backtest_jobs WHERE job_id = $1 FOR UPDATE
	`, jobID)
	if err := row.Scan(&batchID, &oldStatus); err != nil {
		return fmt.Errorf("postgres: failed to lock job %q: %w", jobID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE backtest_jobs
		SET status = $1, error_message = $2, updated_at = now()
		WHERE job_id = $3
	`, status, nullableString(errMessage), jobID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update job %q status: %w", jobID, err)
	}

	if batchID != "" {
		batchRepo := NewBatchRepository()
		if err := batchRepo.UpdateCounters(ctx, tx, batchID, oldStatus, string(status)); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: failed to commit job status update: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SaveBacktestResult persists a completed backtest's metrics and trade
// log, returning the generated result ID.
func (r *JobRepository) SaveBacktestResult(ctx context.Context, jobID string, metrics map[string]any, trades []byte) (string, error) {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return "", fmt.Errorf("postgres: failed to encode backtest metrics: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO backtest_results (job_id, metrics, trades, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING result_id
	`, jobID, metricsJSON, trades)

	var resultID string
	if err := row.Scan(&resultID); err != nil {
		return "", fmt.Errorf("postgres: failed to save backtest result for job %q: %w", jobID, err)
	}
	return resultID, nil
}
