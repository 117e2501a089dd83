package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crestline/release-plane/internal/models"
)

// RunStore implements store.RunStore using PostgreSQL.
type RunStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *RunStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create creates a new run.
func (s *RunStore) Create(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO runs (id, trigger_kind, tag, ref, program, status, error,
			created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	var tag sql.NullString
	if run.Tag != "" {
		tag = sql.NullString{String: run.Tag, Valid: true}
	}

	_, err := s.conn().ExecContext(ctx, query,
		run.ID,
		run.Trigger,
		tag,
		run.Ref,
		run.Program,
		run.Status,
		run.Error,
		run.CreatedAt,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

const runColumns = `id, trigger_kind, tag, ref, program, status, error,
	created_at, started_at, finished_at`

// scanRun scans a single run row.
func scanRun(row interface{ Scan(...any) error }) (*models.Run, error) {
	run := &models.Run{}
	var tag sql.NullString
	var errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.Trigger,
		&tag,
		&run.Ref,
		&run.Program,
		&run.Status,
		&errMsg,
		&run.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Tag = tag.String
	run.Error = errMsg.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting run: %w", err)
	}
	return run, nil
}

// GetByTag retrieves the most recent run for a normalized tag version.
func (s *RunStore) GetByTag(ctx context.Context, tag string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE tag = $1
		ORDER BY created_at DESC
		LIMIT 1`

	run, err := scanRun(s.conn().QueryRowContext(ctx, query, tag))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting run by tag: %w", err)
	}
	return run, nil
}

// List retrieves runs ordered by created_at DESC, up to limit.
func (s *RunStore) List(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.conn().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListByStatus retrieves all runs with a given status.
func (s *RunStore) ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE status = $1
		ORDER BY created_at ASC`

	rows, err := s.conn().QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("listing runs by status: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// Update updates an existing run.
func (s *RunStore) Update(ctx context.Context, run *models.Run) error {
	query := `
		UPDATE runs
		SET status = $2, error = $3, started_at = $4, finished_at = $5
		WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
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

func collectRuns(rows *sql.Rows) ([]*models.Run, error) {
	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}
