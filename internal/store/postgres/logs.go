package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/crestline/release-plane/internal/models"
)

// LogStore implements store.LogStore using PostgreSQL.
type LogStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *LogStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Create creates a new log entry.
func (s *LogStore) Create(ctx context.Context, entry *models.LogEntry) error {
	query := `
		INSERT INTO build_logs (id, run_id, stage_id, source, level, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := s.conn().ExecContext(ctx, query,
		entry.ID,
		entry.RunID,
		entry.StageID,
		entry.Source,
		entry.Level,
		entry.Message,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

// ListByStage retrieves log entries for a stage in timestamp order.
func (s *LogStore) ListByStage(ctx context.Context, stageID string, limit int) ([]*models.LogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id, run_id, stage_id, source, level, message, timestamp
		FROM build_logs
		WHERE stage_id = $1
		ORDER BY timestamp ASC
		LIMIT $2`

	rows, err := s.conn().QueryContext(ctx, query, stageID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing logs by stage: %w", err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

// ListByRun retrieves log entries for a whole run in timestamp order.
func (s *LogStore) ListByRun(ctx context.Context, runID string, limit int) ([]*models.LogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id, run_id, stage_id, source, level, message, timestamp
		FROM build_logs
		WHERE run_id = $1
		ORDER BY timestamp ASC
		LIMIT $2`

	rows, err := s.conn().QueryContext(ctx, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing logs by run: %w", err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

// ListByRunSince retrieves a run's log entries strictly newer than the given
// time, in timestamp order.
func (s *LogStore) ListByRunSince(ctx context.Context, runID string, since time.Time, limit int) ([]*models.LogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT id, run_id, stage_id, source, level, message, timestamp
		FROM build_logs
		WHERE run_id = $1 AND timestamp > $2
		ORDER BY timestamp ASC
		LIMIT $3`

	rows, err := s.conn().QueryContext(ctx, query, runID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing logs since: %w", err)
	}
	defer rows.Close()

	return collectLogs(rows)
}

// DeleteOlderThan removes log entries older than the specified time.
func (s *LogStore) DeleteOlderThan(ctx context.Context, before time.Time) error {
	query := `DELETE FROM build_logs WHERE timestamp < $1`

	if _, err := s.conn().ExecContext(ctx, query, before); err != nil {
		return fmt.Errorf("deleting old log entries: %w", err)
	}
	return nil
}

func collectLogs(rows *sql.Rows) ([]*models.LogEntry, error) {
	var entries []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.StageID,
			&entry.Source,
			&entry.Level,
			&entry.Message,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log entries: %w", err)
	}
	return entries, nil
}
