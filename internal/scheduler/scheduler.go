// Package scheduler orchestrates pipeline runs: it fans a trigger out into
// one build stage per matrix target and drives runs to their terminal state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/pipeline"
	"github.com/crestline/release-plane/internal/queue"
	"github.com/crestline/release-plane/internal/store"
)

// Common errors returned by the scheduler.
var (
	ErrEmptyMatrix       = errors.New("pipeline matrix produced no targets")
	ErrRunNotCancellable = errors.New("run is already in a terminal state")
)

// Scheduler creates runs and their build stages from triggers.
type Scheduler struct {
	store    store.Store
	queue    queue.Queue
	pipeline *pipeline.Definition
	logger   *slog.Logger
}

// NewScheduler creates a new Scheduler instance.
func NewScheduler(s store.Store, q queue.Queue, def *pipeline.Definition, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		queue:    q,
		pipeline: def,
		logger:   logger,
	}
}

// StartTagRun starts a run for a pushed release tag. version is the
// normalized tag (no leading v); ref is the full git ref to build.
func (s *Scheduler) StartTagRun(ctx context.Context, version, ref string) (*models.Run, error) {
	return s.startRun(ctx, models.TriggerTag, version, ref)
}

// StartManualRun starts a run from a manual dispatch against an arbitrary
// ref. Manual runs build and archive but never publish a release.
func (s *Scheduler) StartManualRun(ctx context.Context, ref string) (*models.Run, error) {
	return s.startRun(ctx, models.TriggerManual, "", ref)
}

func (s *Scheduler) startRun(ctx context.Context, trigger models.TriggerKind, tag, ref string) (*models.Run, error) {
	targets := s.pipeline.Expand()
	if len(targets) == 0 {
		return nil, ErrEmptyMatrix
	}

	now := time.Now().UTC()
	run := &models.Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Tag:       tag,
		Ref:       ref,
		Program:   s.pipeline.Program,
		Status:    models.RunStatusPending,
		CreatedAt: now,
	}

	stages := make([]*models.StageJob, 0, len(targets))
	for _, target := range targets {
		stages = append(stages, &models.StageJob{
			ID:           uuid.New().String(),
			RunID:        run.ID,
			Ref:          ref,
			Program:      s.pipeline.Program,
			BuildCommand: s.pipeline.BuildCommand,
			BinaryDir:    s.pipeline.BinaryDir,
			Target:       target,
			ArchiveName:  target.ArchiveName(s.pipeline.Program),
			Status:       models.StageStatusQueued,
			CreatedAt:    now,
		})
	}

	// Run and stages land atomically; a run without its full stage set
	// could never pass the release barrier.
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Runs().Create(ctx, run); err != nil {
			return fmt.Errorf("creating run: %w", err)
		}
		for _, stage := range stages {
			if err := tx.Stages().Create(ctx, stage); err != nil {
				return fmt.Errorf("creating stage %s: %w", stage.ArchiveName, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, stage := range stages {
		if err := s.queue.Enqueue(ctx, stage); err != nil {
			s.logger.Error("failed to enqueue stage",
				"stage_id", stage.ID,
				"archive", stage.ArchiveName,
				"error", err,
			)
			s.failRun(ctx, run, fmt.Errorf("enqueueing stage %s: %w", stage.ArchiveName, err))
			return nil, err
		}
	}

	run.Status = models.RunStatusBuilding
	startedAt := time.Now().UTC()
	run.StartedAt = &startedAt
	if err := s.store.Runs().Update(ctx, run); err != nil {
		return nil, fmt.Errorf("updating run status: %w", err)
	}

	s.logger.Info("run started",
		"run_id", run.ID,
		"trigger", run.Trigger,
		"tag", run.Tag,
		"ref", run.Ref,
		"stages", len(stages),
	)
	return run, nil
}

// CancelRun cancels an in-flight run. Queued stages are dropped; stages
// already running finish their build but their output is never released.
func (s *Scheduler) CancelRun(ctx context.Context, runID string) error {
	run, err := s.store.Runs().Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return ErrRunNotCancellable
	}

	if err := s.queue.DropRun(ctx, runID); err != nil {
		s.logger.Error("failed to drop queued stages", "run_id", runID, "error", err)
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusCancelled
	run.FinishedAt = &now
	if err := s.store.Runs().Update(ctx, run); err != nil {
		return fmt.Errorf("cancelling run: %w", err)
	}

	s.logger.Info("run cancelled", "run_id", runID)
	return nil
}

// failRun marks a run failed and drops its queued stages.
func (s *Scheduler) failRun(ctx context.Context, run *models.Run, cause error) {
	if err := s.queue.DropRun(ctx, run.ID); err != nil {
		s.logger.Error("failed to drop queued stages", "run_id", run.ID, "error", err)
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.Error = cause.Error()
	run.FinishedAt = &now
	if err := s.store.Runs().Update(ctx, run); err != nil {
		s.logger.Error("failed to mark run failed", "run_id", run.ID, "error", err)
		return
	}

	s.logger.Warn("run failed", "run_id", run.ID, "error", cause)
}
