// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// BatchStatus is a backtest batch's lifecycle state.
type BatchStatus string

const (
	BatchPending         BatchStatus = "PENDING"
	BatchRunning         BatchStatus = "RUNNING"
	BatchCompleted       BatchStatus = "COMPLETED"
	BatchFailed          BatchStatus = "FAILED"
	BatchPartiallyFailed BatchStatus = "PARTIALLY_FAILED"
)

// BatchRepository updates a backtest batch's completed/failed counters and
// derives its aggregate status.
type BatchRepository struct{}

// NewBatchRepository constructs a BatchRepository.
func NewBatchRepository() *BatchRepository {
	return &BatchRepository{}
}

// UpdateCounters applies the completed/failed deltas implied by a single
// job transitioning from oldStatus to newStatus, using one atomic
// UPDATE ... RETURNING so concurrent job completions never race on a
// read-modify-write of the counters. It must run inside tx, the same
// transaction the caller used to persist the job's own status change.
//
// If every job in the batch has now finished, the batch's own status is
// derived (COMPLETED / FAILED / PARTIALLY_FAILED) and written in a second
// UPDATE; if some jobs are still outstanding but the batch was still
// PENDING, it is moved to RUNNING.
func (r *BatchRepository) UpdateCounters(ctx context.Context, tx pgx.Tx, batchID string, oldJobStatus, newJobStatus string) error {
	var completedDelta, failedDelta int

	if newJobStatus == "COMPLETED" && oldJobStatus != "COMPLETED" {
		completedDelta = 1
	} else if newJobStatus != "COMPLETED" && oldJobStatus == "COMPLETED" {
		completedDelta = -1
	}
	if newJobStatus == "FAILED" && oldJobStatus != "FAILED" {
		failedDelta = 1
	} else if newJobStatus != "FAILED" && oldJobStatus == "FAILED" {
		failedDelta = -1
	}
	if completedDelta == 0 && failedDelta == 0 {
		return nil
	}

	row := tx.QueryRow(ctx, `
		UPDATE backtest_batches
		SET completed_count = completed_count + $1,
		    failed_count = failed_count + $2,
		    updated_at = now()
		WHERE id = $3
		RETURNING completed_count, failed_count, total_count, status
	`, completedDelta, failedDelta, batchID)

	var (
		completedCount, failedCount, totalCount int
		currentStatus                           string
	)
	if err := row.Scan(&completedCount, &failedCount, &totalCount, &currentStatus); err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return fmt.Errorf("postgres: failed to update batch counters: %w", err)
	}

	finished := completedCount + failedCount
	var newStatus BatchStatus

	switch {
	case finished == totalCount:
		switch {
		case failedCount == 0:
			newStatus = BatchCompleted
		case completedCount == 0:
			newStatus = BatchFailed
		default:
			newStatus = BatchPartiallyFailed
		}
	case finished > 0 && currentStatus == string(BatchPending):
		newStatus = BatchRunning
	}

	if newStatus == "" || string(newStatus) == currentStatus {
		return nil
	}

	_, err := tx.Exec(ctx, `
		UPDATE backtest_batches
		SET status = $1, updated_at = now()
		WHERE id = $2
	`, newStatus, batchID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update batch status: %w", err)
	}
	return nil
}
