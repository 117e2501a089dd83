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
)

// StageStore implements store.StageStore using PostgreSQL. The target
// description is stored as a JSON column; the rest of the job is relational
// so the scheduler can query by status cheaply.
type StageStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *StageStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create creates a new stage record.
func (s *StageStore) Create(ctx context.Context, stage *models.StageJob) error {
	targetData, err := json.Marshal(stage.Target)
	if err != nil {
		return fmt.Errorf("marshaling target: %w", err)
	}

	query := `
		INSERT INTO stages (id, run_id, ref, program, build_command, binary_dir,
			target, archive_name, status, worker_id, error, retry_count,
			created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	if stage.CreatedAt.IsZero() {
		stage.CreatedAt = time.Now().UTC()
	}

	_, err = s.conn().ExecContext(ctx, query,
		stage.ID,
		stage.RunID,
		stage.Ref,
		stage.Program,
		stage.BuildCommand,
		stage.BinaryDir,
		targetData,
		stage.ArchiveName,
		stage.Status,
		stage.WorkerID,
		stage.Error,
		stage.RetryCount,
		stage.CreatedAt,
		stage.StartedAt,
		stage.FinishedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting stage: %w", err)
	}

	return nil
}

const stageColumns = `id, run_id, ref, program, build_command, binary_dir,
	target, archive_name, status, worker_id, error, retry_count,
	created_at, started_at, finished_at`

// scanStage scans a single stage row.
func scanStage(row interface{ Scan(...any) error }) (*models.StageJob, error) {
	stage := &models.StageJob{}
	var targetData []byte
	var workerID, errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&stage.ID,
		&stage.RunID,
		&stage.Ref,
		&stage.Program,
		&stage.BuildCommand,
		&stage.BinaryDir,
		&targetData,
		&stage.ArchiveName,
		&stage.Status,
		&workerID,
		&errMsg,
		&stage.RetryCount,
		&stage.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(targetData, &stage.Target); err != nil {
		return nil, fmt.Errorf("unmarshaling target: %w", err)
	}
	stage.WorkerID = workerID.String
	stage.Error = errMsg.String
	if startedAt.Valid {
		stage.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		stage.FinishedAt = &finishedAt.Time
	}
	return stage, nil
}

// Get retrieves a stage by ID.
func (s *StageStore) Get(ctx context.Context, id string) (*models.StageJob, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE id = $1`

	stage, err := scanStage(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting stage: %w", err)
	}
	return stage, nil
}

// ListByRun retrieves all stages of a run in creation order.
func (s *StageStore) ListByRun(ctx context.Context, runID string) ([]*models.StageJob, error) {
	query := `SELECT ` + stageColumns + ` FROM stages
		WHERE run_id = $1
		ORDER BY created_at ASC, archive_name ASC`

	rows, err := s.conn().QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("listing stages by run: %w", err)
	}
	defer rows.Close()

	return collectStages(rows)
}

// ListRunning retrieves all stages with status 'running'.
func (s *StageStore) ListRunning(ctx context.Context) ([]*models.StageJob, error) {
	query := `SELECT ` + stageColumns + ` FROM stages
		WHERE status = 'running'
		ORDER BY created_at ASC`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing running stages: %w", err)
	}
	defer rows.Close()

	return collectStages(rows)
}

// Update updates an existing stage.
func (s *StageStore) Update(ctx context.Context, stage *models.StageJob) error {
	query := `
		UPDATE stages
		SET status = $2, worker_id = $3, error = $4, retry_count = $5,
			started_at = $6, finished_at = $7
		WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query,
		stage.ID,
		stage.Status,
		stage.WorkerID,
		stage.Error,
		stage.RetryCount,
		stage.StartedAt,
		stage.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("updating stage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func collectStages(rows *sql.Rows) ([]*models.StageJob, error) {
	var stages []*models.StageJob
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stage: %w", err)
		}
		stages = append(stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stages: %w", err)
	}
	return stages, nil
}
