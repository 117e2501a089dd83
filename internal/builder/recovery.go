package builder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/queue"
	"github.com/crestline/release-plane/internal/store"
)

// RecoveryService handles stages that were interrupted mid-build, typically
// by a worker crash or restart.
type RecoveryService struct {
	store  store.Store
	queue  queue.Queue
	logger *slog.Logger
}

// NewRecoveryService creates a new recovery service.
func NewRecoveryService(s store.Store, q queue.Queue, logger *slog.Logger) *RecoveryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryService{
		store:  s,
		queue:  q,
		logger: logger,
	}
}

// RecoverOnStartup requeues stages left in 'running' state by a previous
// process. Each interrupted stage gets exactly one fresh attempt; a stage
// that was already retried is marked failed instead so a crash loop cannot
// keep a run alive forever.
func (r *RecoveryService) RecoverOnStartup(ctx context.Context) error {
	stages, err := r.store.Stages().ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("listing running stages: %w", err)
	}

	if len(stages) == 0 {
		r.logger.Info("no interrupted stages found")
		return nil
	}

	r.logger.Info("recovering interrupted stages", "count", len(stages))

	for _, stage := range stages {
		run, err := r.store.Runs().Get(ctx, stage.RunID)
		if err != nil {
			r.logger.Error("failed to load run for interrupted stage",
				"stage_id", stage.ID, "error", err)
			continue
		}
		if run.Status.Terminal() {
			r.failInterrupted(ctx, stage, "run finished while stage was in flight")
			continue
		}

		if stage.RetryCount > 0 {
			r.failInterrupted(ctx, stage, "interrupted after retry, not requeuing")
			continue
		}

		stage.Status = models.StageStatusQueued
		stage.WorkerID = ""
		stage.RetryCount++
		stage.StartedAt = nil
		if err := r.store.Stages().Update(ctx, stage); err != nil {
			r.logger.Error("failed to reset interrupted stage",
				"stage_id", stage.ID, "error", err)
			continue
		}
		if err := r.queue.Enqueue(ctx, stage); err != nil {
			r.logger.Error("failed to requeue interrupted stage",
				"stage_id", stage.ID, "error", err)
			continue
		}

		r.logger.Info("requeued interrupted stage",
			"stage_id", stage.ID,
			"archive", stage.ArchiveName,
		)
	}

	return nil
}

func (r *RecoveryService) failInterrupted(ctx context.Context, stage *models.StageJob, reason string) {
	stage.Status = models.StageStatusFailed
	stage.Error = reason
	if err := r.store.Stages().Update(ctx, stage); err != nil {
		r.logger.Error("failed to mark interrupted stage failed",
			"stage_id", stage.ID, "error", err)
		return
	}
	r.logger.Warn("marked interrupted stage failed",
		"stage_id", stage.ID,
		"reason", reason,
	)
}
