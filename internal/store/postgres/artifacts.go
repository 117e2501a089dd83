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

// ArtifactStore implements store.ArtifactStore using PostgreSQL.
type ArtifactStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *ArtifactStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create records an uploaded artifact.
func (s *ArtifactStore) Create(ctx context.Context, artifact *models.Artifact) error {
	query := `
		INSERT INTO artifacts (id, run_id, stage_id, name, key, digest,
			size_bytes, created_at, released)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	_, err := s.conn().ExecContext(ctx, query,
		artifact.ID,
		artifact.RunID,
		artifact.StageID,
		artifact.Name,
		artifact.Key,
		artifact.Digest,
		artifact.SizeBytes,
		artifact.CreatedAt,
		artifact.Released,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting artifact: %w", err)
	}

	return nil
}

const artifactColumns = `id, run_id, stage_id, name, key, digest,
	size_bytes, created_at, released`

// scanArtifact scans a single artifact row.
func scanArtifact(row interface{ Scan(...any) error }) (*models.Artifact, error) {
	artifact := &models.Artifact{}
	err := row.Scan(
		&artifact.ID,
		&artifact.RunID,
		&artifact.StageID,
		&artifact.Name,
		&artifact.Key,
		&artifact.Digest,
		&artifact.SizeBytes,
		&artifact.CreatedAt,
		&artifact.Released,
	)
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// Get retrieves an artifact by ID.
func (s *ArtifactStore) Get(ctx context.Context, id string) (*models.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = $1`

	artifact, err := scanArtifact(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting artifact: %w", err)
	}
	return artifact, nil
}

// GetByName retrieves an artifact of a run by archive name.
func (s *ArtifactStore) GetByName(ctx context.Context, runID, name string) (*models.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts
		WHERE run_id = $1 AND name = $2`

	artifact, err := scanArtifact(s.conn().QueryRowContext(ctx, query, runID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting artifact by name: %w", err)
	}
	return artifact, nil
}

// ListByRun retrieves all artifacts of a run.
func (s *ArtifactStore) ListByRun(ctx context.Context, runID string) ([]*models.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts
		WHERE run_id = $1
		ORDER BY name ASC`

	rows, err := s.conn().QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts by run: %w", err)
	}
	defer rows.Close()

	return collectArtifacts(rows)
}

// MarkReleased marks every artifact of a run as attached to a release.
func (s *ArtifactStore) MarkReleased(ctx context.Context, runID string) error {
	query := `UPDATE artifacts SET released = TRUE WHERE run_id = $1`

	if _, err := s.conn().ExecContext(ctx, query, runID); err != nil {
		return fmt.Errorf("marking artifacts released: %w", err)
	}
	return nil
}

// ListExpired retrieves unreleased artifacts created before the cutoff.
func (s *ArtifactStore) ListExpired(ctx context.Context, before time.Time) ([]*models.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts
		WHERE released = FALSE AND created_at < $1
		ORDER BY created_at ASC`

	rows, err := s.conn().QueryContext(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("listing expired artifacts: %w", err)
	}
	defer rows.Close()

	return collectArtifacts(rows)
}

// Delete removes an artifact record.
func (s *ArtifactStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM artifacts WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting artifact: %w", err)
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

func collectArtifacts(rows *sql.Rows) ([]*models.Artifact, error) {
	var artifacts []*models.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artifacts: %w", err)
	}
	return artifacts, nil
}
