// Package postgres provides PostgreSQL implementation of the store interfaces.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/crestline/release-plane/internal/store"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger

	runs         *RunStore
	stages       *StageStore
	artifacts    *ArtifactStore
	releases     *ReleaseStore
	workers      *WorkerStore
	logs         *LogStore
	settings     *SettingsStore
	dispatchKeys *DispatchKeyStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// NewPostgresStore creates a new PostgreSQL store with the given configuration.
func NewPostgresStore(cfg *Config, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		logger: logger,
	}

	// Initialize sub-stores
	s.runs = &RunStore{db: db, logger: logger}
	s.stages = &StageStore{db: db, logger: logger}
	s.artifacts = &ArtifactStore{db: db, logger: logger}
	s.releases = &ReleaseStore{db: db, logger: logger}
	s.workers = &WorkerStore{db: db, logger: logger}
	s.logs = &LogStore{db: db, logger: logger}
	s.settings = &SettingsStore{db: db, logger: logger}
	s.dispatchKeys = &DispatchKeyStore{db: db, logger: logger}

	logger.Info("connected to PostgreSQL database")
	return s, nil
}

// Runs returns the RunStore.
func (s *PostgresStore) Runs() store.RunStore {
	return s.runs
}

// Stages returns the StageStore.
func (s *PostgresStore) Stages() store.StageStore {
	return s.stages
}

// Artifacts returns the ArtifactStore.
func (s *PostgresStore) Artifacts() store.ArtifactStore {
	return s.artifacts
}

// Releases returns the ReleaseStore.
func (s *PostgresStore) Releases() store.ReleaseStore {
	return s.releases
}

// Workers returns the WorkerStore.
func (s *PostgresStore) Workers() store.WorkerStore {
	return s.workers
}

// Logs returns the LogStore.
func (s *PostgresStore) Logs() store.LogStore {
	return s.logs
}

// Settings returns the SettingsStore.
func (s *PostgresStore) Settings() store.SettingsStore {
	return s.settings
}

// DispatchKeys returns the DispatchKeyStore.
func (s *PostgresStore) DispatchKeys() store.DispatchKeyStore {
	return s.dispatchKeys
}

// WithTx executes the given function within a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	// Create a transaction-scoped store
	txs := &txStore{
		tx:     tx,
		logger: s.logger,
	}

	// Execute the function
	if err := fn(txs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	// Commit the transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL connection")
	return s.db.Close()
}

// DB returns the underlying database connection.
// This is useful for components that need direct database access.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies database connectivity. Used by the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// txStore wraps a transaction and implements the Store interface.
type txStore struct {
	tx     *sql.Tx
	logger *slog.Logger

	runs         *RunStore
	stages       *StageStore
	artifacts    *ArtifactStore
	releases     *ReleaseStore
	workers      *WorkerStore
	logs         *LogStore
	settings     *SettingsStore
	dispatchKeys *DispatchKeyStore
}

func (s *txStore) Runs() store.RunStore {
	if s.runs == nil {
		s.runs = &RunStore{tx: s.tx, logger: s.logger}
	}
	return s.runs
}

func (s *txStore) Stages() store.StageStore {
	if s.stages == nil {
		s.stages = &StageStore{tx: s.tx, logger: s.logger}
	}
	return s.stages
}

func (s *txStore) Artifacts() store.ArtifactStore {
	if s.artifacts == nil {
		s.artifacts = &ArtifactStore{tx: s.tx, logger: s.logger}
	}
	return s.artifacts
}

func (s *txStore) Releases() store.ReleaseStore {
	if s.releases == nil {
		s.releases = &ReleaseStore{tx: s.tx, logger: s.logger}
	}
	return s.releases
}

func (s *txStore) Workers() store.WorkerStore {
	if s.workers == nil {
		s.workers = &WorkerStore{tx: s.tx, logger: s.logger}
	}
	return s.workers
}

func (s *txStore) Logs() store.LogStore {
	if s.logs == nil {
		s.logs = &LogStore{tx: s.tx, logger: s.logger}
	}
	return s.logs
}

func (s *txStore) Settings() store.SettingsStore {
	if s.settings == nil {
		s.settings = &SettingsStore{tx: s.tx, logger: s.logger}
	}
	return s.settings
}

func (s *txStore) DispatchKeys() store.DispatchKeyStore {
	if s.dispatchKeys == nil {
		s.dispatchKeys = &DispatchKeyStore{tx: s.tx, logger: s.logger}
	}
	return s.dispatchKeys
}

func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	// Already in a transaction, just execute the function
	return fn(s)
}

func (s *txStore) Close() error {
	// No-op for transaction store
	return nil
}

// queryable is an interface that both *sql.DB and *sql.Tx implement.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
