package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/crestline/release-plane/internal/models"
)

// getTestDSN returns the test database DSN, or empty to skip database tests.
func getTestDSN() string {
	return os.Getenv("TEST_DATABASE_URL")
}

// setupTestDB creates a test database connection and applies the schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := getTestDSN()
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

	if err := runMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// cleanupTestDB cleans up test data and closes the connection.
func cleanupTestDB(t *testing.T, db *sql.DB) {
	t.Helper()
	db.Exec("DELETE FROM artifacts")
	db.Exec("DELETE FROM stages")
	db.Exec("DELETE FROM releases")
	db.Exec("DELETE FROM runs")
	db.Close()
}

// runMigrations applies the database schema for store testing.
func runMigrations(db *sql.DB) error {
	_, _ = db.Exec("DROP TABLE IF EXISTS build_logs CASCADE")
	_, _ = db.Exec("DROP TABLE IF EXISTS artifacts CASCADE")
	_, _ = db.Exec("DROP TABLE IF EXISTS releases CASCADE")
	_, _ = db.Exec("DROP TABLE IF EXISTS stages CASCADE")
	_, _ = db.Exec("DROP TABLE IF EXISTS runs CASCADE")

	schema := `
		CREATE TABLE runs (
			id UUID PRIMARY KEY,
			trigger_kind VARCHAR(20) NOT NULL CHECK (trigger_kind IN ('tag', 'manual')),
			tag VARCHAR(100),
			ref VARCHAR(255) NOT NULL,
			program VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		);

		CREATE TABLE stages (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			ref VARCHAR(255) NOT NULL,
			program VARCHAR(100) NOT NULL,
			build_command TEXT NOT NULL,
			binary_dir VARCHAR(255) NOT NULL DEFAULT '',
			target JSONB NOT NULL,
			archive_name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			worker_id VARCHAR(255),
			error TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			UNIQUE (run_id, archive_name)
		);

		CREATE TABLE artifacts (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			stage_id UUID NOT NULL REFERENCES stages(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			key VARCHAR(512) NOT NULL,
			digest VARCHAR(64) NOT NULL,
			size_bytes BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			released BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (run_id, name)
		);

		CREATE TABLE releases (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			tag VARCHAR(100) NOT NULL UNIQUE,
			title VARCHAR(255) NOT NULL,
			body TEXT NOT NULL,
			url TEXT,
			asset_names TEXT[] NOT NULL DEFAULT '{}',
			status VARCHAR(20) NOT NULL,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			published_at TIMESTAMPTZ
		);
	`
	_, err := db.Exec(schema)
	return err
}

// genRunStatus generates a random RunStatus.
func genRunStatus() gopter.Gen {
	return gen.OneConstOf(
		models.RunStatusPending,
		models.RunStatusBuilding,
		models.RunStatusPublishing,
		models.RunStatusSucceeded,
		models.RunStatusFailed,
		models.RunStatusCancelled,
	)
}

// TestRunCreateGetRoundTrip checks that runs survive a store round trip.
func TestRunCreateGetRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	runStore := &RunStore{db: db, logger: slog.Default()}
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("Create then Get preserves run fields", prop.ForAll(
		func(trigger bool, status models.RunStatus) bool {
			run := &models.Run{
				ID:        uuid.New().String(),
				Trigger:   models.TriggerManual,
				Ref:       "refs/heads/main",
				Program:   "helios",
				Status:    status,
				CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
			}
			if trigger {
				run.Trigger = models.TriggerTag
				run.Tag = "1.2.3"
				run.Ref = "refs/tags/v1.2.3"
			}

			if err := runStore.Create(ctx, run); err != nil {
				t.Logf("Create failed: %v", err)
				return false
			}
			defer db.Exec("DELETE FROM runs WHERE id = $1", run.ID)

			got, err := runStore.Get(ctx, run.ID)
			if err != nil {
				t.Logf("Get failed: %v", err)
				return false
			}

			return got.ID == run.ID &&
				got.Trigger == run.Trigger &&
				got.Tag == run.Tag &&
				got.Ref == run.Ref &&
				got.Program == run.Program &&
				got.Status == run.Status
		},
		gen.Bool(),
		genRunStatus(),
	))

	properties.TestingRun(t)
}

// TestStageAndArtifactRoundTrip checks stage and artifact persistence,
// including the JSON target column.
func TestStageAndArtifactRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	runStore := &RunStore{db: db, logger: slog.Default()}
	stageStore := &StageStore{db: db, logger: slog.Default()}
	artifactStore := &ArtifactStore{db: db, logger: slog.Default()}
	ctx := context.Background()

	run := &models.Run{
		ID:      uuid.New().String(),
		Trigger: models.TriggerTag,
		Tag:     "2.0.0",
		Ref:     "refs/tags/v2.0.0",
		Program: "helios",
		Status:  models.RunStatusBuilding,
	}
	if err := runStore.Create(ctx, run); err != nil {
		t.Fatalf("creating run: %v", err)
	}

	target := models.Target{
		Platform:   models.PlatformAndroid,
		Arch:       "aarch64",
		Triple:     "aarch64-linux-android",
		Env:        map[string]string{"ANDROID_API": "26"},
		ExtraFiles: []string{"libc++_shared.so"},
	}
	stage := &models.StageJob{
		ID:           uuid.New().String(),
		RunID:        run.ID,
		Ref:          run.Ref,
		Program:      run.Program,
		BuildCommand: "cargo build --release",
		Target:       target,
		ArchiveName:  target.ArchiveName(run.Program),
		Status:       models.StageStatusQueued,
	}
	if err := stageStore.Create(ctx, stage); err != nil {
		t.Fatalf("creating stage: %v", err)
	}

	got, err := stageStore.Get(ctx, stage.ID)
	if err != nil {
		t.Fatalf("getting stage: %v", err)
	}
	if got.Target.Triple != target.Triple || got.Target.Env["ANDROID_API"] != "26" {
		t.Errorf("target did not survive round trip: %+v", got.Target)
	}
	if got.ArchiveName != "helios-android-aarch64.zip" {
		t.Errorf("archive name = %q", got.ArchiveName)
	}

	artifact := &models.Artifact{
		ID:        uuid.New().String(),
		RunID:     run.ID,
		StageID:   stage.ID,
		Name:      stage.ArchiveName,
		Key:       run.ID + "/" + stage.ArchiveName,
		Digest:    "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		SizeBytes: 1024,
	}
	if err := artifactStore.Create(ctx, artifact); err != nil {
		t.Fatalf("creating artifact: %v", err)
	}

	byName, err := artifactStore.GetByName(ctx, run.ID, stage.ArchiveName)
	if err != nil {
		t.Fatalf("getting artifact by name: %v", err)
	}
	if byName.Digest != artifact.Digest || byName.Released {
		t.Errorf("artifact round trip mismatch: %+v", byName)
	}

	// Released artifacts are exempt from expiry listing.
	if err := artifactStore.MarkReleased(ctx, run.ID); err != nil {
		t.Fatalf("marking released: %v", err)
	}
	expired, err := artifactStore.ListExpired(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("listing expired: %v", err)
	}
	for _, a := range expired {
		if a.ID == artifact.ID {
			t.Error("released artifact listed as expired")
		}
	}
}
