// Package queue provides stage job queue interfaces and implementations.
package queue

import (
	"context"
	"errors"

	"github.com/crestline/release-plane/internal/models"
)

// Common errors returned by queue operations.
var (
	// ErrNoJobs is returned when no jobs are available in the queue.
	ErrNoJobs = errors.New("no jobs available")
	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")
)

// Queue defines the interface for stage job queue operations.
type Queue interface {
	// Enqueue adds a new stage job to the queue.
	// The job will be serialized to JSON for storage. Enqueuing a job that
	// already has a queue row resets that row to pending, so interrupted
	// jobs can be requeued with the same call.
	Enqueue(ctx context.Context, job *models.StageJob) error

	// Dequeue retrieves and locks the next available stage job from the queue.
	// The returned job carries the retry count accumulated by Nack calls.
	// Returns ErrNoJobs if no jobs are available.
	Dequeue(ctx context.Context) (*models.StageJob, error)

	// Ack acknowledges successful processing of a job, removing it from the queue.
	Ack(ctx context.Context, jobID string) error

	// Nack indicates that job processing failed, making the job available for retry.
	Nack(ctx context.Context, jobID string) error

	// DropRun removes every pending job belonging to a run. Used when a run
	// is cancelled or failed fast; jobs already being processed are not touched.
	DropRun(ctx context.Context, runID string) error
}
