package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/pipeline"
	"github.com/crestline/release-plane/internal/queue"
	"github.com/crestline/release-plane/internal/store"
	"github.com/crestline/release-plane/pkg/config"
)

// ReleasePublisher publishes the release for a finished tag-triggered run.
type ReleasePublisher interface {
	Publish(ctx context.Context, run *models.Run, expectedArchives []string) (*models.Release, error)
}

// RunOutcome is the aggregate state of a run's stages.
type RunOutcome int

const (
	// OutcomeInFlight means at least one stage has not reached a terminal
	// state and no stage has failed.
	OutcomeInFlight RunOutcome = iota
	// OutcomeFailed means at least one stage failed.
	OutcomeFailed
	// OutcomeSucceeded means every stage succeeded.
	OutcomeSucceeded
)

// EvaluateStages reduces a run's stages to a single outcome. A single failed
// stage fails the run regardless of the others; success requires every stage
// to have succeeded.
func EvaluateStages(stages []*models.StageJob) RunOutcome {
	if len(stages) == 0 {
		return OutcomeInFlight
	}

	succeeded := 0
	for _, stage := range stages {
		switch stage.Status {
		case models.StageStatusFailed:
			return OutcomeFailed
		case models.StageStatusSucceeded:
			succeeded++
		}
	}

	if succeeded == len(stages) {
		return OutcomeSucceeded
	}
	return OutcomeInFlight
}

// Reconciler periodically drives in-flight runs toward a terminal state: it
// fails runs fast on the first stage failure, enforces the run timeout, and
// publishes the release once every stage of a tag-triggered run is green.
type Reconciler struct {
	store     store.Store
	queue     queue.Queue
	pipeline  *pipeline.Definition
	publisher ReleasePublisher
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReconciler creates a reconciler. publisher may be nil when release
// publishing is not configured; tag runs then stop at the barrier with an
// error instead of silently skipping the release.
func NewReconciler(s store.Store, q queue.Queue, def *pipeline.Definition, publisher ReleasePublisher, cfg *config.SchedulerConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:     s,
		queue:     q,
		pipeline:  def,
		publisher: publisher,
		interval:  cfg.ReconcileInterval,
		timeout:   cfg.RunTimeout,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the reconcile loop until Stop is called or the context ends.
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		defer close(r.doneCh)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("reconciler started", "interval", r.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if err := r.ReconcileOnce(ctx); err != nil {
					r.logger.Error("reconcile pass failed", "error", err)
				}
			}
		}
	}()
}

// Stop stops the reconcile loop and waits for the current pass to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// ReconcileOnce performs a single reconcile pass over all in-flight runs.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	for _, status := range []models.RunStatus{models.RunStatusBuilding, models.RunStatusPublishing} {
		runs, err := r.store.Runs().ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("listing %s runs: %w", status, err)
		}
		for _, run := range runs {
			if err := r.reconcileRun(ctx, run); err != nil {
				r.logger.Error("failed to reconcile run", "run_id", run.ID, "error", err)
			}
		}
	}
	return nil
}

func (r *Reconciler) reconcileRun(ctx context.Context, run *models.Run) error {
	if r.runTimedOut(run) {
		r.failRun(ctx, run, fmt.Errorf("run exceeded timeout of %s", r.timeout))
		return nil
	}

	// A run stuck in publishing is retried; the publisher replaces whatever
	// a crashed attempt left behind, so the retry is safe.
	if run.Status == models.RunStatusPublishing {
		return r.publish(ctx, run)
	}

	stages, err := r.store.Stages().ListByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("listing stages: %w", err)
	}

	switch EvaluateStages(stages) {
	case OutcomeFailed:
		r.failFast(ctx, run, stages)
	case OutcomeSucceeded:
		if !run.WantsRelease() {
			r.succeedRun(ctx, run)
			return nil
		}
		run.Status = models.RunStatusPublishing
		if err := r.store.Runs().Update(ctx, run); err != nil {
			return fmt.Errorf("moving run to publishing: %w", err)
		}
		return r.publish(ctx, run)
	}
	return nil
}

// failFast fails the run on its first failed stage and drops every stage
// still waiting in the queue. There is no partial release.
func (r *Reconciler) failFast(ctx context.Context, run *models.Run, stages []*models.StageJob) {
	var cause string
	for _, stage := range stages {
		if stage.Status == models.StageStatusFailed {
			cause = fmt.Sprintf("stage %s failed: %s", stage.ArchiveName, stage.Error)
			break
		}
	}

	r.failRun(ctx, run, fmt.Errorf("%s", cause))
}

// publish runs the release barrier for a tag-triggered run.
func (r *Reconciler) publish(ctx context.Context, run *models.Run) error {
	if r.publisher == nil {
		r.failRun(ctx, run, fmt.Errorf("release publishing not configured"))
		return nil
	}

	rel, err := r.publisher.Publish(ctx, run, r.pipeline.ExpectedArchives())
	if err != nil {
		r.failRun(ctx, run, fmt.Errorf("publishing release: %w", err))
		return nil
	}

	r.succeedRun(ctx, run)
	r.logger.Info("release published for run",
		"run_id", run.ID,
		"tag", rel.Tag,
		"url", rel.URL,
	)
	return nil
}

func (r *Reconciler) succeedRun(ctx context.Context, run *models.Run) {
	now := time.Now().UTC()
	run.Status = models.RunStatusSucceeded
	run.FinishedAt = &now
	if err := r.store.Runs().Update(ctx, run); err != nil {
		r.logger.Error("failed to mark run succeeded", "run_id", run.ID, "error", err)
		return
	}
	r.logger.Info("run succeeded", "run_id", run.ID, "tag", run.Tag)
}

func (r *Reconciler) failRun(ctx context.Context, run *models.Run, cause error) {
	if err := r.queue.DropRun(ctx, run.ID); err != nil {
		r.logger.Error("failed to drop queued stages", "run_id", run.ID, "error", err)
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.Error = cause.Error()
	run.FinishedAt = &now
	if err := r.store.Runs().Update(ctx, run); err != nil {
		r.logger.Error("failed to mark run failed", "run_id", run.ID, "error", err)
		return
	}
	r.logger.Warn("run failed", "run_id", run.ID, "error", cause)
}

func (r *Reconciler) runTimedOut(run *models.Run) bool {
	if r.timeout <= 0 || run.StartedAt == nil {
		return false
	}
	return time.Since(*run.StartedAt) > r.timeout
}
