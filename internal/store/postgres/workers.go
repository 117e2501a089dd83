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

// WorkerStore implements store.WorkerStore using PostgreSQL.
type WorkerStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *WorkerStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Register registers a new worker or updates an existing one.
func (s *WorkerStore) Register(ctx context.Context, worker *models.WorkerInfo) error {
	query := `
		INSERT INTO workers (id, hostname, platforms, healthy, last_heartbeat, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET hostname = EXCLUDED.hostname,
			platforms = EXCLUDED.platforms,
			healthy = EXCLUDED.healthy,
			last_heartbeat = EXCLUDED.last_heartbeat`

	now := time.Now().UTC()
	if worker.RegisteredAt.IsZero() {
		worker.RegisteredAt = now
	}
	if worker.LastHeartbeat.IsZero() {
		worker.LastHeartbeat = now
	}

	platforms := make([]string, 0, len(worker.Platforms))
	for _, p := range worker.Platforms {
		platforms = append(platforms, string(p))
	}

	_, err := s.conn().ExecContext(ctx, query,
		worker.ID,
		worker.Hostname,
		pq.Array(platforms),
		worker.Healthy,
		worker.LastHeartbeat,
		worker.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("registering worker: %w", err)
	}

	return nil
}

// scanWorker scans a single worker row.
func scanWorker(row interface{ Scan(...any) error }) (*models.WorkerInfo, error) {
	worker := &models.WorkerInfo{}
	var platforms pq.StringArray

	err := row.Scan(
		&worker.ID,
		&worker.Hostname,
		&platforms,
		&worker.Healthy,
		&worker.LastHeartbeat,
		&worker.RegisteredAt,
	)
	if err != nil {
		return nil, err
	}

	worker.Platforms = make([]models.Platform, 0, len(platforms))
	for _, p := range platforms {
		worker.Platforms = append(worker.Platforms, models.Platform(p))
	}
	return worker, nil
}

// Get retrieves a worker by ID.
func (s *WorkerStore) Get(ctx context.Context, id string) (*models.WorkerInfo, error) {
	query := `
		SELECT id, hostname, platforms, healthy, last_heartbeat, registered_at
		FROM workers
		WHERE id = $1`

	worker, err := scanWorker(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting worker: %w", err)
	}
	return worker, nil
}

// List retrieves all registered workers.
func (s *WorkerStore) List(ctx context.Context) ([]*models.WorkerInfo, error) {
	query := `
		SELECT id, hostname, platforms, healthy, last_heartbeat, registered_at
		FROM workers
		ORDER BY registered_at ASC`

	rows, err := s.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}
	defer rows.Close()

	var workers []*models.WorkerInfo
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning worker: %w", err)
		}
		workers = append(workers, worker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workers: %w", err)
	}
	return workers, nil
}

// UpdateHeartbeat updates a worker's last heartbeat timestamp.
func (s *WorkerStore) UpdateHeartbeat(ctx context.Context, id string) error {
	query := `
		UPDATE workers
		SET last_heartbeat = $2, healthy = TRUE
		WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating worker heartbeat: %w", err)
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

// UpdateHealth updates a worker's health status.
func (s *WorkerStore) UpdateHealth(ctx context.Context, id string, healthy bool) error {
	query := `UPDATE workers SET healthy = $2 WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query, id, healthy)
	if err != nil {
		return fmt.Errorf("updating worker health: %w", err)
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
