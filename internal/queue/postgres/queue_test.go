package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/queue"
)

// setupQueueDB creates a test database connection and the queue table.
func setupQueueDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("failed to ping database: %v", err)
	}

	_, _ = db.Exec("DROP TABLE IF EXISTS stage_queue")
	schema := `
		CREATE TABLE stage_queue (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL,
			job_data JSONB NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing')),
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create queue table: %v", err)
	}
	return db
}

func cleanupQueueDB(t *testing.T, db *sql.DB) {
	t.Helper()
	db.Exec("DELETE FROM stage_queue")
	db.Close()
}

func testJob() *models.StageJob {
	return &models.StageJob{
		ID:           uuid.New().String(),
		RunID:        uuid.New().String(),
		Ref:          "refs/tags/v1.2.3",
		Program:      "helios",
		BuildCommand: "cargo build --release",
		ArchiveName:  "helios-linux-gnu-x86_64.zip",
		Status:       models.StageStatusQueued,
	}
}

// TestNackIncrementsRetryCountOnRedelivery checks that the retry counter a
// worker sees grows with every nack, so a persistently failing stage runs
// out of retry budget instead of looping forever.
func TestNackIncrementsRetryCountOnRedelivery(t *testing.T) {
	db := setupQueueDB(t)
	defer cleanupQueueDB(t, db)

	q := NewPostgresQueue(db, nil)
	ctx := context.Background()

	job := testJob()
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}

	for want := 0; want < 3; want++ {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", want, err)
		}
		if got.ID != job.ID {
			t.Fatalf("dequeued job %s, want %s", got.ID, job.ID)
		}
		if got.RetryCount != want {
			t.Fatalf("redelivery %d: RetryCount = %d, want %d", want, got.RetryCount, want)
		}
		if err := q.Nack(ctx, job.ID); err != nil {
			t.Fatalf("nack %d: %v", want, err)
		}
	}
}

// TestEnqueueResetsProcessingRow checks that requeuing a job whose row was
// left in processing by a crashed worker makes it dequeuable again.
func TestEnqueueResetsProcessingRow(t *testing.T) {
	db := setupQueueDB(t)
	defer cleanupQueueDB(t, db)

	q := NewPostgresQueue(db, nil)
	ctx := context.Background()

	job := testJob()
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}

	// The row is now processing; a crashed worker never acks or nacks it.
	if _, err := q.Dequeue(ctx); err != queue.ErrNoJobs {
		t.Fatalf("dequeue of processing row: err = %v, want ErrNoJobs", err)
	}

	job.RetryCount = 1
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("requeue after crash: %v", err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after requeue: %v", err)
	}
	if got.ID != job.ID {
		t.Errorf("dequeued job %s, want %s", got.ID, job.ID)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
}

func TestAckRemovesJob(t *testing.T) {
	db := setupQueueDB(t)
	defer cleanupQueueDB(t, db)

	q := NewPostgresQueue(db, nil)
	ctx := context.Background()

	job := testJob()
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}
	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := q.Dequeue(ctx); err != queue.ErrNoJobs {
		t.Errorf("dequeue after ack: err = %v, want ErrNoJobs", err)
	}
	// Acking twice reports the job as gone.
	if err := q.Ack(ctx, job.ID); err != queue.ErrJobNotFound {
		t.Errorf("second ack: err = %v, want ErrJobNotFound", err)
	}
}

func TestDropRunLeavesProcessingJobs(t *testing.T) {
	db := setupQueueDB(t)
	defer cleanupQueueDB(t, db)

	q := NewPostgresQueue(db, nil)
	ctx := context.Background()

	runID := uuid.New().String()
	inFlight := testJob()
	inFlight.RunID = runID
	pending := testJob()
	pending.RunID = runID

	if err := q.Enqueue(ctx, inFlight); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, pending); err != nil {
		t.Fatal(err)
	}

	if err := q.DropRun(ctx, runID); err != nil {
		t.Fatal(err)
	}

	// The pending job is gone, the in-flight one can still be settled.
	if _, err := q.Dequeue(ctx); err != queue.ErrNoJobs {
		t.Errorf("dequeue after drop: err = %v, want ErrNoJobs", err)
	}
	if err := q.Ack(ctx, inFlight.ID); err != nil {
		t.Errorf("ack of in-flight job after drop: %v", err)
	}
}
