// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/crestline/release-plane/internal/models"
)

// RunStore defines operations for pipeline run management.
type RunStore interface {
	// Create creates a new run.
	Create(ctx context.Context, run *models.Run) error
	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*models.Run, error)
	// GetByTag retrieves the most recent run for a normalized tag version.
	GetByTag(ctx context.Context, tag string) (*models.Run, error)
	// List retrieves runs ordered by created_at DESC, up to limit.
	List(ctx context.Context, limit int) ([]*models.Run, error)
	// ListByStatus retrieves all runs with a given status.
	ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.Run, error)
	// Update updates an existing run.
	Update(ctx context.Context, run *models.Run) error
}

// StageStore defines operations for build stage management.
type StageStore interface {
	// Create creates a new stage record.
	Create(ctx context.Context, stage *models.StageJob) error
	// Get retrieves a stage by ID.
	Get(ctx context.Context, id string) (*models.StageJob, error)
	// ListByRun retrieves all stages of a run in creation order.
	ListByRun(ctx context.Context, runID string) ([]*models.StageJob, error)
	// ListRunning retrieves all stages with status 'running'.
	// Used for startup recovery to identify interrupted stages.
	ListRunning(ctx context.Context) ([]*models.StageJob, error)
	// Update updates an existing stage.
	Update(ctx context.Context, stage *models.StageJob) error
}

// ArtifactStore defines operations for artifact metadata management.
// The archive bytes themselves live in blob storage.
type ArtifactStore interface {
	// Create records an uploaded artifact.
	Create(ctx context.Context, artifact *models.Artifact) error
	// Get retrieves an artifact by ID.
	Get(ctx context.Context, id string) (*models.Artifact, error)
	// GetByName retrieves an artifact of a run by archive name.
	GetByName(ctx context.Context, runID, name string) (*models.Artifact, error)
	// ListByRun retrieves all artifacts of a run.
	ListByRun(ctx context.Context, runID string) ([]*models.Artifact, error)
	// MarkReleased marks every artifact of a run as attached to a release,
	// exempting them from retention cleanup.
	MarkReleased(ctx context.Context, runID string) error
	// ListExpired retrieves unreleased artifacts created before the cutoff.
	ListExpired(ctx context.Context, before time.Time) ([]*models.Artifact, error)
	// Delete removes an artifact record.
	Delete(ctx context.Context, id string) error
}

// ReleaseStore defines operations for release record management.
type ReleaseStore interface {
	// Create creates a new release record.
	Create(ctx context.Context, release *models.Release) error
	// Get retrieves a release by ID.
	Get(ctx context.Context, id string) (*models.Release, error)
	// GetByRun retrieves the release of a run.
	GetByRun(ctx context.Context, runID string) (*models.Release, error)
	// GetByTag retrieves a release by tag name.
	GetByTag(ctx context.Context, tag string) (*models.Release, error)
	// List retrieves releases ordered by created_at DESC, up to limit.
	List(ctx context.Context, limit int) ([]*models.Release, error)
	// Update updates an existing release record.
	Update(ctx context.Context, release *models.Release) error
}

// WorkerStore defines operations for build worker fleet management.
type WorkerStore interface {
	// Register registers a new worker or updates an existing one.
	Register(ctx context.Context, worker *models.WorkerInfo) error
	// Get retrieves a worker by ID.
	Get(ctx context.Context, id string) (*models.WorkerInfo, error)
	// List retrieves all registered workers.
	List(ctx context.Context) ([]*models.WorkerInfo, error)
	// UpdateHeartbeat updates a worker's last heartbeat timestamp.
	UpdateHeartbeat(ctx context.Context, id string) error
	// UpdateHealth updates a worker's health status.
	UpdateHealth(ctx context.Context, id string, healthy bool) error
}

// LogStore defines operations for build log management.
type LogStore interface {
	// Create creates a new log entry.
	Create(ctx context.Context, entry *models.LogEntry) error
	// ListByStage retrieves log entries for a stage in timestamp order.
	ListByStage(ctx context.Context, stageID string, limit int) ([]*models.LogEntry, error)
	// ListByRun retrieves log entries for a whole run in timestamp order.
	ListByRun(ctx context.Context, runID string, limit int) ([]*models.LogEntry, error)
	// ListByRunSince retrieves a run's log entries strictly newer than the
	// given time, in timestamp order. Used to tail live build output.
	ListByRunSince(ctx context.Context, runID string, since time.Time, limit int) ([]*models.LogEntry, error)
	// DeleteOlderThan removes log entries older than the specified time.
	DeleteOlderThan(ctx context.Context, before time.Time) error
}

// DispatchKeyStore defines operations for dispatch API key management.
// Keys are looked up by the hash of the presented key, never the raw value.
type DispatchKeyStore interface {
	// Create records a new dispatch key.
	Create(ctx context.Context, key *models.DispatchKey) error
	// GetByHash retrieves a dispatch key by its SHA-256 hash.
	GetByHash(ctx context.Context, hash string) (*models.DispatchKey, error)
	// List retrieves all dispatch keys.
	List(ctx context.Context) ([]*models.DispatchKey, error)
	// TouchUsed updates a key's last-used timestamp.
	TouchUsed(ctx context.Context, id string) error
	// Delete revokes a dispatch key.
	Delete(ctx context.Context, id string) error
}

// SettingsStore defines operations for global key-value settings, including
// the age-encrypted release token.
type SettingsStore interface {
	// Get retrieves a setting by key.
	Get(ctx context.Context, key string) (string, error)
	// Set sets a setting key-value pair.
	Set(ctx context.Context, key, value string) error
	// GetAll retrieves all global settings.
	GetAll(ctx context.Context) (map[string]string, error)
}

// Store is the main interface for database operations.
type Store interface {
	// Runs returns the RunStore for pipeline run operations.
	Runs() RunStore
	// Stages returns the StageStore for build stage operations.
	Stages() StageStore
	// Artifacts returns the ArtifactStore for artifact metadata operations.
	Artifacts() ArtifactStore
	// Releases returns the ReleaseStore for release record operations.
	Releases() ReleaseStore
	// Workers returns the WorkerStore for worker fleet operations.
	Workers() WorkerStore
	// Logs returns the LogStore for build log operations.
	Logs() LogStore
	// Settings returns the SettingsStore for global configuration.
	Settings() SettingsStore
	// DispatchKeys returns the DispatchKeyStore for API key management.
	DispatchKeys() DispatchKeyStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Close closes the database connection.
	Close() error
}
