package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/crestline/release-plane/internal/models"
)

// ReleaseStore implements store.ReleaseStore using PostgreSQL. Asset names
// are stored as a text[] column.
type ReleaseStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *ReleaseStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create creates a new release record.
func (s *ReleaseStore) Create(ctx context.Context, release *models.Release) error {
	query := `
		INSERT INTO releases (id, run_id, tag, title, body, url, asset_names,
			status, error, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if release.CreatedAt.IsZero() {
		release.CreatedAt = time.Now().UTC()
	}

	_, err := s.conn().ExecContext(ctx, query,
		release.ID,
		release.RunID,
		release.Tag,
		release.Title,
		release.Body,
		release.URL,
		pq.Array(release.AssetNames),
		release.Status,
		release.Error,
		release.CreatedAt,
		release.PublishedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting release: %w", err)
	}

	return nil
}

const releaseColumns = `id, run_id, tag, title, body, url, asset_names,
	status, error, created_at, published_at`

// scanRelease scans a single release row.
func scanRelease(row interface{ Scan(...any) error }) (*models.Release, error) {
	release := &models.Release{}
	var url, errMsg sql.NullString
	var publishedAt sql.NullTime
	var assetNames pq.StringArray

	err := row.Scan(
		&release.ID,
		&release.RunID,
		&release.Tag,
		&release.Title,
		&release.Body,
		&url,
		&assetNames,
		&release.Status,
		&errMsg,
		&release.CreatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}

	release.URL = url.String
	release.Error = errMsg.String
	release.AssetNames = []string(assetNames)
	if publishedAt.Valid {
		release.PublishedAt = &publishedAt.Time
	}
	return release, nil
}

// Get retrieves a release by ID.
func (s *ReleaseStore) Get(ctx context.Context, id string) (*models.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE id = $1`

	release, err := scanRelease(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting release: %w", err)
	}
	return release, nil
}

// GetByRun retrieves the release of a run.
func (s *ReleaseStore) GetByRun(ctx context.Context, runID string) (*models.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE run_id = $1`

	release, err := scanRelease(s.conn().QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting release by run: %w", err)
	}
	return release, nil
}

// GetByTag retrieves a release by tag name.
func (s *ReleaseStore) GetByTag(ctx context.Context, tag string) (*models.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE tag = $1`

	release, err := scanRelease(s.conn().QueryRowContext(ctx, query, tag))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting release by tag: %w", err)
	}
	return release, nil
}

// List retrieves releases ordered by created_at DESC, up to limit.
func (s *ReleaseStore) List(ctx context.Context, limit int) ([]*models.Release, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + releaseColumns + ` FROM releases
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.conn().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	defer rows.Close()

	var releases []*models.Release
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning release: %w", err)
		}
		releases = append(releases, release)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating releases: %w", err)
	}
	return releases, nil
}

// Update updates an existing release record.
func (s *ReleaseStore) Update(ctx context.Context, release *models.Release) error {
	query := `
		UPDATE releases
		SET body = $2, url = $3, asset_names = $4, status = $5, error = $6,
			published_at = $7
		WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query,
		release.ID,
		release.Body,
		release.URL,
		pq.Array(release.AssetNames),
		release.Status,
		release.Error,
		release.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("updating release: %w", err)
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
