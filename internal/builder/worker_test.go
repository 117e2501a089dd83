package builder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/crestline/release-plane/internal/builder/retry"
	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/queue"
	"github.com/crestline/release-plane/internal/store"
)

// fakeStore implements store.Store in memory for worker testing.
type fakeStore struct {
	mu     sync.Mutex
	runs   map[string]*models.Run
	stages map[string]*models.StageJob

	// runErr makes every Runs().Get fail with this error.
	runErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:   make(map[string]*models.Run),
		stages: make(map[string]*models.StageJob),
	}
}

func (f *fakeStore) Runs() store.RunStore                 { return &fakeRunStore{f} }
func (f *fakeStore) Stages() store.StageStore             { return &fakeStageStore{f} }
func (f *fakeStore) Artifacts() store.ArtifactStore       { return nil }
func (f *fakeStore) Releases() store.ReleaseStore         { return nil }
func (f *fakeStore) Workers() store.WorkerStore           { return nil }
func (f *fakeStore) Logs() store.LogStore                 { return &fakeLogStore{} }
func (f *fakeStore) Settings() store.SettingsStore        { return nil }
func (f *fakeStore) DispatchKeys() store.DispatchKeyStore { return nil }
func (f *fakeStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(f)
}
func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) stage(id string) *models.StageJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.stages[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

type fakeRunStore struct{ f *fakeStore }

func (r *fakeRunStore) Create(ctx context.Context, run *models.Run) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *run
	r.f.runs[run.ID] = &cp
	return nil
}

func (r *fakeRunStore) Get(ctx context.Context, id string) (*models.Run, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.runErr != nil {
		return nil, r.f.runErr
	}
	run, ok := r.f.runs[id]
	if !ok {
		return nil, errors.New("run not found")
	}
	cp := *run
	return &cp, nil
}

func (r *fakeRunStore) GetByTag(ctx context.Context, tag string) (*models.Run, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRunStore) List(ctx context.Context, limit int) ([]*models.Run, error) {
	return nil, nil
}

func (r *fakeRunStore) ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	return nil, nil
}

func (r *fakeRunStore) Update(ctx context.Context, run *models.Run) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *run
	r.f.runs[run.ID] = &cp
	return nil
}

type fakeStageStore struct{ f *fakeStore }

func (s *fakeStageStore) Create(ctx context.Context, stage *models.StageJob) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	cp := *stage
	s.f.stages[stage.ID] = &cp
	return nil
}

func (s *fakeStageStore) Get(ctx context.Context, id string) (*models.StageJob, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	stage, ok := s.f.stages[id]
	if !ok {
		return nil, errors.New("stage not found")
	}
	cp := *stage
	return &cp, nil
}

func (s *fakeStageStore) ListByRun(ctx context.Context, runID string) ([]*models.StageJob, error) {
	return nil, nil
}

func (s *fakeStageStore) ListRunning(ctx context.Context) ([]*models.StageJob, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var out []*models.StageJob
	for _, stage := range s.f.stages {
		if stage.Status == models.StageStatusRunning {
			cp := *stage
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStageStore) Update(ctx context.Context, stage *models.StageJob) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	cp := *stage
	s.f.stages[stage.ID] = &cp
	return nil
}

type fakeLogStore struct{}

func (l *fakeLogStore) Create(ctx context.Context, entry *models.LogEntry) error { return nil }
func (l *fakeLogStore) ListByStage(ctx context.Context, stageID string, limit int) ([]*models.LogEntry, error) {
	return nil, nil
}
func (l *fakeLogStore) ListByRun(ctx context.Context, runID string, limit int) ([]*models.LogEntry, error) {
	return nil, nil
}
func (l *fakeLogStore) ListByRunSince(ctx context.Context, runID string, since time.Time, limit int) ([]*models.LogEntry, error) {
	return nil, nil
}
func (l *fakeLogStore) DeleteOlderThan(ctx context.Context, before time.Time) error { return nil }

// fakeQueue settles jobs the way the Postgres queue does: a nack bumps the
// retry counter carried by the next redelivery, an ack removes the job.
type fakeQueue struct {
	mu         sync.Mutex
	retryCount int
	nacks      int
	acked      bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, job *models.StageJob) error { return nil }
func (q *fakeQueue) Dequeue(ctx context.Context) (*models.StageJob, error) {
	return nil, queue.ErrNoJobs
}

func (q *fakeQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = true
	return nil
}

func (q *fakeQueue) Nack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacks++
	q.retryCount++
	return nil
}

func (q *fakeQueue) DropRun(ctx context.Context, runID string) error { return nil }

func testWorker(t *testing.T, s store.Store, q queue.Queue, maxAttempts int) *Worker {
	t.Helper()

	cfg := DefaultWorkerConfig()
	cfg.RepoURL = "file:///nonexistent/repo.git"
	cfg.WorkDir = t.TempDir()
	cfg.Retry = &retry.Strategy{MaxAttempts: maxAttempts, Backoff: 0}

	w, err := NewWorker(cfg, s, q, nil, slog.Default())
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

func seedStage(s *fakeStore, retryCount int) *models.StageJob {
	job := &models.StageJob{
		ID:           "stage-1",
		RunID:        "run-1",
		Ref:          "refs/tags/v1.2.3",
		Program:      "helios",
		BuildCommand: "cargo build --release",
		ArchiveName:  "helios-linux-gnu-x86_64.zip",
		Status:       models.StageStatusQueued,
		RetryCount:   retryCount,
	}
	s.stages[job.ID] = job
	return job
}

// TestTransientFailureExhaustsRetryBudget redelivers a persistently failing
// job the way the queue would and checks that the worker gives up after
// MaxAttempts instead of nacking forever.
func TestTransientFailureExhaustsRetryBudget(t *testing.T) {
	s := newFakeStore()
	s.runErr = errors.New("spurious network error fetching refs")
	q := &fakeQueue{}
	w := testWorker(t, s, q, 2)

	job := seedStage(s, 0)
	logger := slog.Default()

	attempts := 0
	for ; attempts < 5 && !q.acked; attempts++ {
		redelivery := *job
		redelivery.RetryCount = q.retryCount
		w.handleJob(context.Background(), &redelivery, logger)
	}

	if !q.acked {
		t.Fatal("job was never settled permanently")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if q.nacks != 1 {
		t.Errorf("nacks = %d, want 1", q.nacks)
	}
	if got := s.stage(job.ID); got.Status != models.StageStatusFailed {
		t.Errorf("final stage status = %s, want failed", got.Status)
	}
}

// TestTransientFailureNacksUnderBudget checks that a first transient failure
// is nacked for redelivery, not failed outright.
func TestTransientFailureNacksUnderBudget(t *testing.T) {
	s := newFakeStore()
	s.runErr = errors.New("connection reset by peer")
	q := &fakeQueue{}
	w := testWorker(t, s, q, 2)

	job := seedStage(s, 0)
	w.handleJob(context.Background(), job, slog.Default())

	if q.acked {
		t.Error("first transient failure must not settle the job")
	}
	if q.nacks != 1 {
		t.Errorf("nacks = %d, want 1", q.nacks)
	}
	if got := s.stage(job.ID); got.Status != models.StageStatusQueued {
		t.Errorf("stage status = %s, want queued", got.Status)
	}
	if got := s.stage(job.ID); got.RetryCount != 1 {
		t.Errorf("stage retry count = %d, want 1", got.RetryCount)
	}
}

// TestPermanentFailureNeverRetries checks that a non-transient error fails
// the stage on the first attempt regardless of remaining budget.
func TestPermanentFailureNeverRetries(t *testing.T) {
	s := newFakeStore()
	s.runErr = errors.New("expected `;` at src/main.rs:10")
	q := &fakeQueue{}
	w := testWorker(t, s, q, 3)

	job := seedStage(s, 0)
	w.handleJob(context.Background(), job, slog.Default())

	if q.nacks != 0 {
		t.Errorf("nacks = %d, want 0", q.nacks)
	}
	if !q.acked {
		t.Error("permanently failed job must be settled")
	}
	if got := s.stage(job.ID); got.Status != models.StageStatusFailed {
		t.Errorf("stage status = %s, want failed", got.Status)
	}
}
