package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/release-plane/internal/artifacts"
	"github.com/crestline/release-plane/internal/builder/retry"
	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/queue"
	"github.com/crestline/release-plane/internal/store"
)

// heartbeatInterval is how often the worker refreshes its fleet record.
const heartbeatInterval = 15 * time.Second

// Worker processes build stage jobs from the queue: clone, compile, package,
// upload. Each stage runs in its own checkout directory; nothing is shared
// between concurrent stages.
type Worker struct {
	store    store.Store
	queue    queue.Queue
	storage  artifacts.Storage
	executor *Executor
	strategy *retry.Strategy
	logger   *slog.Logger

	id          string
	repoURL     string
	workDir     string
	concurrency int
	platforms   []models.Platform

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// WorkerConfig holds configuration for the build worker.
type WorkerConfig struct {
	// RepoURL is the git repository stages build from.
	RepoURL string
	// WorkDir is the scratch directory for checkouts and archives.
	WorkDir string
	// Concurrency is the number of stages processed in parallel.
	Concurrency int
	// Platforms are the platform families this worker can build.
	Platforms []models.Platform
	// Executor configures the toolchain invocation.
	Executor *ExecutorConfig
	// Retry configures transient-failure retries.
	Retry *retry.Strategy
}

// DefaultWorkerConfig returns a WorkerConfig with sensible defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		WorkDir:     "/tmp/release-plane-builds",
		Concurrency: 2,
		Platforms:   models.KnownPlatforms,
		Executor:    DefaultExecutorConfig(),
		Retry:       retry.DefaultStrategy(),
	}
}

// NewWorker creates a new build worker.
func NewWorker(cfg *WorkerConfig, s store.Store, q queue.Queue, storage artifacts.Storage, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RepoURL == "" {
		return nil, fmt.Errorf("worker repo URL is required")
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultStrategy()
	}

	return &Worker{
		store:       s,
		queue:       q,
		storage:     storage,
		executor:    NewExecutor(cfg.Executor, logger),
		strategy:    cfg.Retry,
		logger:      logger,
		id:          uuid.New().String(),
		repoURL:     cfg.RepoURL,
		workDir:     cfg.WorkDir,
		concurrency: cfg.Concurrency,
		platforms:   cfg.Platforms,
		stopCh:      make(chan struct{}),
	}, nil
}

// Start registers the worker and begins processing stage jobs.
// It spawns multiple goroutines based on the configured concurrency.
func (w *Worker) Start(ctx context.Context) error {
	hostname, _ := os.Hostname()
	info := &models.WorkerInfo{
		ID:        w.id,
		Hostname:  hostname,
		Platforms: w.platforms,
		Healthy:   true,
	}
	if err := w.store.Workers().Register(ctx, info); err != nil {
		return fmt.Errorf("registering worker: %w", err)
	}

	w.logger.Info("starting build worker",
		"worker_id", w.id,
		"concurrency", w.concurrency,
	)

	w.wg.Add(1)
	go w.heartbeatLoop(ctx)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	return nil
}

// Stop gracefully stops the worker and waits for in-flight stages to complete.
func (w *Worker) Stop() {
	w.logger.Info("stopping build worker")
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("build worker stopped")
}

// heartbeatLoop refreshes the worker's fleet record until shutdown.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.store.Workers().UpdateHeartbeat(ctx, w.id); err != nil {
				w.logger.Error("failed to update heartbeat", "error", err)
			}
		}
	}
}

// workerLoop is the main loop for a single worker goroutine.
func (w *Worker) workerLoop(ctx context.Context, slot int) {
	defer w.wg.Done()

	logger := w.logger.With("slot", slot)
	logger.Debug("worker slot started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("worker stop signal received")
			return
		default:
			job, err := w.queue.Dequeue(ctx)
			if err != nil {
				if err == queue.ErrNoJobs {
					time.Sleep(1 * time.Second)
					continue
				}
				logger.Error("failed to dequeue job", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}

			w.handleJob(ctx, job, logger)
		}
	}
}

// handleJob runs one stage and settles it with the queue: ack on success or
// permanent failure, nack when a transient failure still has retry budget.
func (w *Worker) handleJob(ctx context.Context, job *models.StageJob, logger *slog.Logger) {
	err := w.processStage(ctx, job)
	if err == nil {
		if ackErr := w.queue.Ack(ctx, job.ID); ackErr != nil {
			logger.Error("failed to ack job", "job_id", job.ID, "error", ackErr)
		}
		return
	}

	logger.Error("stage failed",
		"job_id", job.ID,
		"archive", job.ArchiveName,
		"error", err,
	)

	if w.strategy.ShouldRetry(err.Error(), job.RetryCount+1) {
		logger.Info("retrying stage after transient failure",
			"job_id", job.ID,
			"attempt", job.RetryCount+1,
		)
		w.markStageQueued(ctx, job)
		if nackErr := w.queue.Nack(ctx, job.ID); nackErr != nil {
			logger.Error("failed to nack job", "job_id", job.ID, "error", nackErr)
		}
		time.Sleep(w.strategy.Backoff)
		return
	}

	w.markStageFailed(ctx, job, err)
	if ackErr := w.queue.Ack(ctx, job.ID); ackErr != nil {
		logger.Error("failed to ack failed job", "job_id", job.ID, "error", ackErr)
	}
}

// processStage executes a single build stage.
func (w *Worker) processStage(ctx context.Context, job *models.StageJob) error {
	logger := w.logger.With("job_id", job.ID, "archive", job.ArchiveName)
	logger.Info("processing stage")

	// A cancelled or failed-fast run makes its remaining stages no-ops.
	run, err := w.store.Runs().Get(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("getting run: %w", err)
	}
	if run.Status.Terminal() {
		logger.Info("skipping stage of finished run", "run_status", run.Status)
		return nil
	}

	now := time.Now().UTC()
	job.Status = models.StageStatusRunning
	job.WorkerID = w.id
	job.StartedAt = &now
	if err := w.store.Stages().Update(ctx, job); err != nil {
		return fmt.Errorf("updating stage to running: %w", err)
	}

	stageDir := filepath.Join(w.workDir, job.ID)
	defer os.RemoveAll(stageDir)

	buildErr := w.runBuild(ctx, job, stageDir)

	finishedAt := time.Now().UTC()
	job.FinishedAt = &finishedAt

	if buildErr != nil {
		// Status settlement happens in handleJob once the retry decision
		// is made; record the error text now.
		job.Error = buildErr.Error()
		return buildErr
	}

	job.Status = models.StageStatusSucceeded
	job.Error = ""
	if err := w.store.Stages().Update(ctx, job); err != nil {
		w.logger.Error("failed to update stage status", "job_id", job.ID, "error", err)
	}

	logger.Info("stage succeeded")
	return nil
}

// runBuild performs the checkout, compile, package, and upload for a stage.
func (w *Worker) runBuild(ctx context.Context, job *models.StageJob, stageDir string) error {
	w.streamLog(ctx, job, fmt.Sprintf("=== Building %s ===", job.ArchiveName))

	checkout := filepath.Join(stageDir, "src")
	cloneResult, err := CloneRepository(ctx, w.repoURL, job.Ref, checkout)
	if err != nil {
		return fmt.Errorf("cloning source: %w", err)
	}
	w.streamLog(ctx, job, fmt.Sprintf("checked out %s at %s", job.Ref, cloneResult.CommitSHA))

	logCallback := func(line string) {
		w.streamLog(ctx, job, line)
	}
	if _, err := w.executor.Execute(ctx, job, checkout, logCallback); err != nil {
		return err
	}

	binary := BinaryPath(checkout, job.BinaryDir, job.Target, job.Program)
	if _, err := os.Stat(binary); err != nil {
		return fmt.Errorf("compiled binary not found at %s: %w", binary, err)
	}

	archivePath := filepath.Join(stageDir, job.ArchiveName)
	info, err := PackageArchive(archivePath, binary, job.Target.ExtraFiles)
	if err != nil {
		return fmt.Errorf("packaging archive: %w", err)
	}
	w.streamLog(ctx, job, fmt.Sprintf("packaged %s (%d bytes, sha256 %s)", job.ArchiveName, info.SizeBytes, info.Digest))

	key := job.RunID + "/" + job.ArchiveName
	f, err := os.Open(info.Path)
	if err != nil {
		return fmt.Errorf("opening archive for upload: %w", err)
	}
	defer f.Close()

	if err := w.storage.Put(ctx, key, f, info.SizeBytes); err != nil {
		return fmt.Errorf("uploading archive: %w", err)
	}

	artifact := &models.Artifact{
		ID:        uuid.New().String(),
		RunID:     job.RunID,
		StageID:   job.ID,
		Name:      job.ArchiveName,
		Key:       key,
		Digest:    info.Digest,
		SizeBytes: info.SizeBytes,
	}
	if err := w.store.Artifacts().Create(ctx, artifact); err != nil {
		return fmt.Errorf("recording artifact: %w", err)
	}

	w.streamLog(ctx, job, fmt.Sprintf("uploaded %s", key))
	return nil
}

// markStageQueued resets a stage for another attempt.
func (w *Worker) markStageQueued(ctx context.Context, job *models.StageJob) {
	job.Status = models.StageStatusQueued
	job.RetryCount++
	job.StartedAt = nil
	job.FinishedAt = nil
	if err := w.store.Stages().Update(ctx, job); err != nil {
		w.logger.Error("failed to requeue stage", "job_id", job.ID, "error", err)
	}
}

// markStageFailed records a permanent stage failure.
func (w *Worker) markStageFailed(ctx context.Context, job *models.StageJob, cause error) {
	now := time.Now().UTC()
	job.Status = models.StageStatusFailed
	job.Error = cause.Error()
	if job.FinishedAt == nil {
		job.FinishedAt = &now
	}
	if err := w.store.Stages().Update(ctx, job); err != nil {
		w.logger.Error("failed to update failed stage", "job_id", job.ID, "error", err)
	}
	w.streamLog(ctx, job, fmt.Sprintf("stage failed: %v", cause))
}

// streamLog stores a single log line for the stage.
func (w *Worker) streamLog(ctx context.Context, job *models.StageJob, line string) {
	entry := &models.LogEntry{
		ID:        uuid.New().String(),
		RunID:     job.RunID,
		StageID:   job.ID,
		Source:    "build",
		Level:     "info",
		Message:   line,
		Timestamp: time.Now().UTC(),
	}

	if err := w.store.Logs().Create(ctx, entry); err != nil {
		w.logger.Error("failed to stream log entry",
			"job_id", job.ID,
			"error", err,
		)
	}
}

// ProcessSingleJob processes a single job without the worker loop.
// This is useful for testing or one-off builds.
func (w *Worker) ProcessSingleJob(ctx context.Context, job *models.StageJob) error {
	return w.processStage(ctx, job)
}
