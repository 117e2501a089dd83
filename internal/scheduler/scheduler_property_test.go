package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/pipeline"
	"github.com/crestline/release-plane/internal/queue"
	"github.com/crestline/release-plane/internal/store"
	"github.com/crestline/release-plane/pkg/config"
)

// mockStore implements store.Store in memory for scheduler testing.
type mockStore struct {
	mu     sync.Mutex
	runs   map[string]*models.Run
	stages map[string]*models.StageJob
}

func newMockStore() *mockStore {
	return &mockStore{
		runs:   make(map[string]*models.Run),
		stages: make(map[string]*models.StageJob),
	}
}

func (m *mockStore) Runs() store.RunStore           { return &mockRunStore{m} }
func (m *mockStore) Stages() store.StageStore       { return &mockStageStore{m} }
func (m *mockStore) Artifacts() store.ArtifactStore { return nil }
func (m *mockStore) Releases() store.ReleaseStore   { return nil }
func (m *mockStore) Workers() store.WorkerStore     { return nil }
func (m *mockStore) Logs() store.LogStore           { return nil }
func (m *mockStore) Settings() store.SettingsStore  { return nil }
func (m *mockStore) DispatchKeys() store.DispatchKeyStore {
	return nil
}
func (m *mockStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(m)
}
func (m *mockStore) Close() error { return nil }

type mockRunStore struct{ s *mockStore }

func (r *mockRunStore) Create(ctx context.Context, run *models.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *run
	r.s.runs[run.ID] = &cp
	return nil
}

func (r *mockRunStore) Get(ctx context.Context, id string) (*models.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[id]
	if !ok {
		return nil, errors.New("run not found")
	}
	cp := *run
	return &cp, nil
}

func (r *mockRunStore) GetByTag(ctx context.Context, tag string) (*models.Run, error) {
	return nil, errors.New("not implemented")
}

func (r *mockRunStore) List(ctx context.Context, limit int) ([]*models.Run, error) {
	return nil, nil
}

func (r *mockRunStore) ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Run
	for _, run := range r.s.runs {
		if run.Status == status {
			cp := *run
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *mockRunStore) Update(ctx context.Context, run *models.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *run
	r.s.runs[run.ID] = &cp
	return nil
}

type mockStageStore struct{ s *mockStore }

func (st *mockStageStore) Create(ctx context.Context, stage *models.StageJob) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *stage
	st.s.stages[stage.ID] = &cp
	return nil
}

func (st *mockStageStore) Get(ctx context.Context, id string) (*models.StageJob, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	stage, ok := st.s.stages[id]
	if !ok {
		return nil, errors.New("stage not found")
	}
	cp := *stage
	return &cp, nil
}

func (st *mockStageStore) ListByRun(ctx context.Context, runID string) ([]*models.StageJob, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []*models.StageJob
	for _, stage := range st.s.stages {
		if stage.RunID == runID {
			cp := *stage
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (st *mockStageStore) ListRunning(ctx context.Context) ([]*models.StageJob, error) {
	return nil, nil
}

func (st *mockStageStore) Update(ctx context.Context, stage *models.StageJob) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	cp := *stage
	st.s.stages[stage.ID] = &cp
	return nil
}

// mockQueue records enqueue and drop calls.
type mockQueue struct {
	mu       sync.Mutex
	enqueued []*models.StageJob
	dropped  []string
}

func (q *mockQueue) Enqueue(ctx context.Context, job *models.StageJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *mockQueue) Dequeue(ctx context.Context) (*models.StageJob, error) {
	return nil, queue.ErrNoJobs
}

func (q *mockQueue) Ack(ctx context.Context, jobID string) error  { return nil }
func (q *mockQueue) Nack(ctx context.Context, jobID string) error { return nil }

func (q *mockQueue) DropRun(ctx context.Context, runID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropped = append(q.dropped, runID)
	return nil
}

func (q *mockQueue) droppedRuns() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.dropped...)
}

// mockPublisher records publish calls and can be told to fail.
type mockPublisher struct {
	mu        sync.Mutex
	published []string
	fail      bool
}

func (p *mockPublisher) Publish(ctx context.Context, run *models.Run, expected []string) (*models.Release, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errors.New("upload failed")
	}
	p.published = append(p.published, run.ID)
	return &models.Release{RunID: run.ID, Tag: run.Tag, URL: "https://example.com/releases/v" + run.Tag}, nil
}

func (p *mockPublisher) publishedRuns() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

func testPipeline() *pipeline.Definition {
	def := &pipeline.Definition{
		Program:      "helios",
		BuildCommand: "cargo build --release",
		BinaryDir:    "target/{triple}/release",
		Matrix: []pipeline.MatrixEntry{
			{
				Platform: models.PlatformLinux,
				Variant:  "gnu",
				Arches: []pipeline.ArchSpec{
					{Arch: "x86_64", Triple: "x86_64-unknown-linux-gnu"},
					{Arch: "aarch64", Triple: "aarch64-unknown-linux-gnu"},
				},
			},
			{
				Platform: models.PlatformWindows,
				Arches: []pipeline.ArchSpec{
					{Arch: "x86_64", Triple: "x86_64-pc-windows-msvc"},
				},
			},
		},
	}
	return def
}

func testReconciler(s store.Store, q queue.Queue, pub ReleasePublisher) *Reconciler {
	return NewReconciler(s, q, testPipeline(), pub, &config.SchedulerConfig{
		ReconcileInterval: time.Second,
		RunTimeout:        time.Hour,
	}, nil)
}

// genStageStatuses generates a non-empty slice of stage statuses.
func genStageStatuses() gopter.Gen {
	return gen.SliceOf(gen.OneConstOf(
		models.StageStatusQueued,
		models.StageStatusRunning,
		models.StageStatusSucceeded,
		models.StageStatusFailed,
	)).SuchThat(func(s []models.StageStatus) bool { return len(s) > 0 })
}

func stagesWithStatuses(runID string, statuses []models.StageStatus) []*models.StageJob {
	stages := make([]*models.StageJob, len(statuses))
	for i, status := range statuses {
		stages[i] = &models.StageJob{
			ID:          fmt.Sprintf("%s-stage-%d", runID, i),
			RunID:       runID,
			ArchiveName: fmt.Sprintf("helios-linux-gnu-arch%d.zip", i),
			Status:      status,
		}
	}
	return stages
}

// TestEvaluateStagesProperties checks the barrier reduction over generated
// stage status combinations.
func TestEvaluateStagesProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("any failed stage fails the run", prop.ForAll(
		func(statuses []models.StageStatus) bool {
			hasFailed := false
			for _, s := range statuses {
				if s == models.StageStatusFailed {
					hasFailed = true
				}
			}
			outcome := EvaluateStages(stagesWithStatuses("r", statuses))
			if hasFailed {
				return outcome == OutcomeFailed
			}
			return outcome != OutcomeFailed
		},
		genStageStatuses(),
	))

	properties.Property("success requires every stage green", prop.ForAll(
		func(statuses []models.StageStatus) bool {
			allGreen := true
			for _, s := range statuses {
				if s != models.StageStatusSucceeded {
					allGreen = false
				}
			}
			outcome := EvaluateStages(stagesWithStatuses("r", statuses))
			return (outcome == OutcomeSucceeded) == allGreen
		},
		genStageStatuses(),
	))

	properties.TestingRun(t)
}

func TestEvaluateStagesEmpty(t *testing.T) {
	if got := EvaluateStages(nil); got != OutcomeInFlight {
		t.Errorf("EvaluateStages(nil) = %v, want OutcomeInFlight", got)
	}
}

func seedRun(t *testing.T, s *mockStore, trigger models.TriggerKind, tag string, statuses []models.StageStatus) *models.Run {
	t.Helper()
	ctx := context.Background()

	started := time.Now().UTC()
	run := &models.Run{
		ID:        "run-" + tag + string(trigger),
		Trigger:   trigger,
		Tag:       tag,
		Ref:       "refs/tags/v" + tag,
		Program:   "helios",
		Status:    models.RunStatusBuilding,
		StartedAt: &started,
	}
	if err := s.Runs().Create(ctx, run); err != nil {
		t.Fatal(err)
	}
	for _, stage := range stagesWithStatuses(run.ID, statuses) {
		if err := s.Stages().Create(ctx, stage); err != nil {
			t.Fatal(err)
		}
	}
	return run
}

func TestReconcilePublishesTagRunWhenAllGreen(t *testing.T) {
	s := newMockStore()
	q := &mockQueue{}
	pub := &mockPublisher{}
	run := seedRun(t, s, models.TriggerTag, "1.2.3", []models.StageStatus{
		models.StageStatusSucceeded,
		models.StageStatusSucceeded,
		models.StageStatusSucceeded,
	})

	r := testReconciler(s, q, pub)
	if err := r.ReconcileOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := pub.publishedRuns(); len(got) != 1 || got[0] != run.ID {
		t.Errorf("published runs = %v, want [%s]", got, run.ID)
	}
	final, _ := s.Runs().Get(context.Background(), run.ID)
	if final.Status != models.RunStatusSucceeded {
		t.Errorf("run status = %s, want succeeded", final.Status)
	}
}

func TestReconcileManualRunNeverPublishes(t *testing.T) {
	s := newMockStore()
	q := &mockQueue{}
	pub := &mockPublisher{}
	run := seedRun(t, s, models.TriggerManual, "", []models.StageStatus{
		models.StageStatusSucceeded,
		models.StageStatusSucceeded,
	})

	r := testReconciler(s, q, pub)
	if err := r.ReconcileOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := pub.publishedRuns(); len(got) != 0 {
		t.Errorf("manual run published a release: %v", got)
	}
	final, _ := s.Runs().Get(context.Background(), run.ID)
	if final.Status != models.RunStatusSucceeded {
		t.Errorf("run status = %s, want succeeded", final.Status)
	}
}

func TestReconcileFailsFastOnStageFailure(t *testing.T) {
	s := newMockStore()
	q := &mockQueue{}
	pub := &mockPublisher{}
	run := seedRun(t, s, models.TriggerTag, "2.0.0", []models.StageStatus{
		models.StageStatusSucceeded,
		models.StageStatusFailed,
		models.StageStatusQueued,
	})

	r := testReconciler(s, q, pub)
	if err := r.ReconcileOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := pub.publishedRuns(); len(got) != 0 {
		t.Errorf("failed run published a release: %v", got)
	}
	if got := q.droppedRuns(); len(got) != 1 || got[0] != run.ID {
		t.Errorf("dropped runs = %v, want [%s]", got, run.ID)
	}
	final, _ := s.Runs().Get(context.Background(), run.ID)
	if final.Status != models.RunStatusFailed {
		t.Errorf("run status = %s, want failed", final.Status)
	}
	if final.Error == "" {
		t.Error("failed run should record the failing stage")
	}
}

func TestReconcileLeavesInFlightRunsAlone(t *testing.T) {
	s := newMockStore()
	q := &mockQueue{}
	pub := &mockPublisher{}
	run := seedRun(t, s, models.TriggerTag, "3.0.0", []models.StageStatus{
		models.StageStatusSucceeded,
		models.StageStatusRunning,
	})

	r := testReconciler(s, q, pub)
	if err := r.ReconcileOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	final, _ := s.Runs().Get(context.Background(), run.ID)
	if final.Status != models.RunStatusBuilding {
		t.Errorf("run status = %s, want building", final.Status)
	}
	if len(pub.publishedRuns()) != 0 {
		t.Error("in-flight run must not publish")
	}
}

func TestReconcileFailsRunWhenPublishFails(t *testing.T) {
	s := newMockStore()
	q := &mockQueue{}
	pub := &mockPublisher{fail: true}
	run := seedRun(t, s, models.TriggerTag, "4.0.0", []models.StageStatus{
		models.StageStatusSucceeded,
	})

	r := testReconciler(s, q, pub)
	if err := r.ReconcileOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	final, _ := s.Runs().Get(context.Background(), run.ID)
	if final.Status != models.RunStatusFailed {
		t.Errorf("run status = %s, want failed", final.Status)
	}
}

func TestReconcileTimesOutStuckRuns(t *testing.T) {
	s := newMockStore()
	q := &mockQueue{}
	run := seedRun(t, s, models.TriggerTag, "5.0.0", []models.StageStatus{
		models.StageStatusRunning,
	})

	// Backdate the start far past the timeout.
	ctx := context.Background()
	stored, _ := s.Runs().Get(ctx, run.ID)
	old := time.Now().Add(-2 * time.Hour)
	stored.StartedAt = &old
	if err := s.Runs().Update(ctx, stored); err != nil {
		t.Fatal(err)
	}

	r := testReconciler(s, q, &mockPublisher{})
	if err := r.ReconcileOnce(ctx); err != nil {
		t.Fatal(err)
	}

	final, _ := s.Runs().Get(ctx, run.ID)
	if final.Status != models.RunStatusFailed {
		t.Errorf("run status = %s, want failed after timeout", final.Status)
	}
}

func TestSchedulerFanOut(t *testing.T) {
	s := newMockStore()
	q := &mockQueue{}
	sched := NewScheduler(s, q, testPipeline(), nil)

	run, err := sched.StartTagRun(context.Background(), "1.2.3", "refs/tags/v1.2.3")
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != models.RunStatusBuilding {
		t.Errorf("run status = %s, want building", run.Status)
	}
	if !run.WantsRelease() {
		t.Error("tag run must want a release")
	}

	stages, err := s.Stages().ListByRun(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 3 {
		t.Fatalf("stage count = %d, want 3", len(stages))
	}

	wantArchives := map[string]bool{
		"helios-linux-gnu-x86_64.zip":  true,
		"helios-linux-gnu-aarch64.zip": true,
		"helios-windows-x86_64.zip":    true,
	}
	for _, stage := range stages {
		if !wantArchives[stage.ArchiveName] {
			t.Errorf("unexpected stage archive %q", stage.ArchiveName)
		}
		if stage.BuildCommand != "cargo build --release" {
			t.Errorf("stage build command = %q", stage.BuildCommand)
		}
		if stage.Ref != "refs/tags/v1.2.3" {
			t.Errorf("stage ref = %q", stage.Ref)
		}
	}

	if len(q.enqueued) != 3 {
		t.Errorf("enqueued %d jobs, want 3", len(q.enqueued))
	}
}

func TestCancelRunDropsQueuedStages(t *testing.T) {
	s := newMockStore()
	q := &mockQueue{}
	sched := NewScheduler(s, q, testPipeline(), nil)

	run, err := sched.StartManualRun(context.Background(), "refs/heads/main")
	if err != nil {
		t.Fatal(err)
	}

	if err := sched.CancelRun(context.Background(), run.ID); err != nil {
		t.Fatal(err)
	}

	final, _ := s.Runs().Get(context.Background(), run.ID)
	if final.Status != models.RunStatusCancelled {
		t.Errorf("run status = %s, want cancelled", final.Status)
	}
	if got := q.droppedRuns(); len(got) != 1 || got[0] != run.ID {
		t.Errorf("dropped runs = %v, want [%s]", got, run.ID)
	}

	// Cancelling again is an error.
	if err := sched.CancelRun(context.Background(), run.ID); err != ErrRunNotCancellable {
		t.Errorf("second cancel error = %v, want ErrRunNotCancellable", err)
	}
}
