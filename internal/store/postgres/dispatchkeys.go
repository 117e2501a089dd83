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

// DispatchKeyStore implements store.DispatchKeyStore using PostgreSQL.
type DispatchKeyStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *DispatchKeyStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create records a new dispatch key.
func (s *DispatchKeyStore) Create(ctx context.Context, key *models.DispatchKey) error {
	query := `
		INSERT INTO dispatch_keys (id, name, key_hash, scopes, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := s.conn().ExecContext(ctx, query,
		key.ID,
		key.Name,
		key.KeyHash,
		pq.Array(key.Scopes),
		key.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting dispatch key: %w", err)
	}
	return nil
}

// GetByHash retrieves a dispatch key by its SHA-256 hash.
func (s *DispatchKeyStore) GetByHash(ctx context.Context, hash string) (*models.DispatchKey, error) {
	query := `
		SELECT id, name, key_hash, scopes, created_at, last_used_at
		FROM dispatch_keys
		WHERE key_hash = $1`

	key := &models.DispatchKey{}
	err := s.conn().QueryRowContext(ctx, query, hash).Scan(
		&key.ID,
		&key.Name,
		&key.KeyHash,
		pq.Array(&key.Scopes),
		&key.CreatedAt,
		&key.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting dispatch key: %w", err)
	}
	return key, nil
}

// List retrieves all dispatch keys, oldest first.
func (s *DispatchKeyStore) List(ctx context.Context) ([]*models.DispatchKey, error) {
	query := `
		SELECT id, name, key_hash, scopes, created_at, last_used_at
		FROM dispatch_keys
		ORDER BY created_at ASC`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing dispatch keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.DispatchKey
	for rows.Next() {
		key := &models.DispatchKey{}
		err := rows.Scan(
			&key.ID,
			&key.Name,
			&key.KeyHash,
			pq.Array(&key.Scopes),
			&key.CreatedAt,
			&key.LastUsedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning dispatch key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dispatch keys: %w", err)
	}
	return keys, nil
}

// TouchUsed updates a key's last-used timestamp.
func (s *DispatchKeyStore) TouchUsed(ctx context.Context, id string) error {
	query := `UPDATE dispatch_keys SET last_used_at = $2 WHERE id = $1`

	if _, err := s.conn().ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("touching dispatch key: %w", err)
	}
	return nil
}

// Delete revokes a dispatch key.
func (s *DispatchKeyStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM dispatch_keys WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting dispatch key: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
