// Package postgres provides a PostgreSQL-backed implementation of the stage job queue.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/queue"
)

// PostgresQueue implements queue.Queue using PostgreSQL.
type PostgresQueue struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresQueue creates a new PostgreSQL-backed queue.
func NewPostgresQueue(db *sql.DB, logger *slog.Logger) *PostgresQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresQueue{
		db:     db,
		logger: logger,
	}
}

// Enqueue adds a new stage job to the queue.
// The job is serialized to JSON and stored in the stage_queue table. A row
// that already exists for the job is reset to pending, so requeuing a stage
// whose worker crashed mid-processing works with the same call.
func (q *PostgresQueue) Enqueue(ctx context.Context, job *models.StageJob) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job to JSON: %w", err)
	}

	query := `
		INSERT INTO stage_queue (id, run_id, job_data, status, retry_count, created_at)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET job_data = EXCLUDED.job_data,
		    status = 'pending',
		    retry_count = EXCLUDED.retry_count,
		    started_at = NULL`

	now := time.Now().UTC()
	_, err = q.db.ExecContext(ctx, query, job.ID, job.RunID, jobData, job.RetryCount, now)
	if err != nil {
		return fmt.Errorf("inserting job into queue: %w", err)
	}

	q.logger.Debug("enqueued stage job", "job_id", job.ID, "archive", job.ArchiveName)
	return nil
}

// Dequeue retrieves and locks the next available stage job from the queue.
// Uses SELECT FOR UPDATE SKIP LOCKED for concurrent worker safety.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*models.StageJob, error) {
	// Use a transaction to atomically select and update the job status
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Select the oldest pending job and lock it
	selectQuery := `
		SELECT id, job_data, retry_count
		FROM stage_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var jobID string
	var jobData []byte
	var retryCount int
	err = tx.QueryRowContext(ctx, selectQuery).Scan(&jobID, &jobData, &retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrNoJobs
		}
		return nil, fmt.Errorf("selecting job from queue: %w", err)
	}

	updateQuery := `
		UPDATE stage_queue
		SET status = 'processing', started_at = $2
		WHERE id = $1`

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, updateQuery, jobID, now)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	var job models.StageJob
	if err := json.Unmarshal(jobData, &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job from JSON: %w", err)
	}
	// The payload is frozen at enqueue time; the retry counter lives in its
	// own column so nacks are visible on redelivery.
	job.RetryCount = retryCount

	q.logger.Debug("dequeued stage job", "job_id", job.ID, "archive", job.ArchiveName)
	return &job, nil
}

// Ack acknowledges successful processing of a job, removing it from the queue.
func (q *PostgresQueue) Ack(ctx context.Context, jobID string) error {
	query := `
		DELETE FROM stage_queue
		WHERE id = $1 AND status = 'processing'`

	result, err := q.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("deleting job from queue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return queue.ErrJobNotFound
	}

	q.logger.Debug("acknowledged stage job", "job_id", jobID)
	return nil
}

// Nack indicates that job processing failed, making the job available for retry.
func (q *PostgresQueue) Nack(ctx context.Context, jobID string) error {
	query := `
		UPDATE stage_queue
		SET status = 'pending', started_at = NULL, retry_count = retry_count + 1
		WHERE id = $1 AND status = 'processing'`

	result, err := q.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("updating job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return queue.ErrJobNotFound
	}

	q.logger.Debug("nacked stage job", "job_id", jobID)
	return nil
}

// DropRun removes every pending job belonging to a run.
func (q *PostgresQueue) DropRun(ctx context.Context, runID string) error {
	query := `
		DELETE FROM stage_queue
		WHERE run_id = $1 AND status = 'pending'`

	result, err := q.db.ExecContext(ctx, query, runID)
	if err != nil {
		return fmt.Errorf("dropping pending jobs for run: %w", err)
	}

	dropped, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	q.logger.Debug("dropped pending stage jobs", "run_id", runID, "count", dropped)
	return nil
}
