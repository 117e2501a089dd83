package models

import "time"

// StageStatus represents the current state of a build stage job.
type StageStatus string

const (
	StageStatusQueued    StageStatus = "queued"
	StageStatusRunning   StageStatus = "running"
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s StageStatus) Terminal() bool {
	return s == StageStatusSucceeded || s == StageStatusFailed
}

// StageJob is one build stage of a run: compile one target, package the
// archive, and upload it to artifact storage.
type StageJob struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	// Ref is the git ref to build, copied from the run so workers need no
	// extra lookup.
	Ref     string `json:"ref"`
	Program string `json:"program"`
	// BuildCommand is the toolchain invocation template from the pipeline
	// definition.
	BuildCommand string `json:"build_command"`
	// BinaryDir is where the toolchain leaves the binary, relative to the
	// checkout, with {triple} expanded per target.
	BinaryDir string `json:"binary_dir"`
	Target    Target `json:"target"`
	// ArchiveName is the archive this stage must produce, fixed at
	// expansion time.
	ArchiveName string      `json:"archive_name"`
	Status      StageStatus `json:"status"`
	WorkerID    string      `json:"worker_id,omitempty"`
	Error       string      `json:"error,omitempty"`
	RetryCount  int         `json:"retry_count"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}

// StageResult represents the output of a completed build stage.
type StageResult struct {
	// ArchiveKey is the storage key of the uploaded archive.
	ArchiveKey string `json:"archive_key"`
	// Digest is the SHA-256 digest of the archive, hex encoded.
	Digest string `json:"digest"`
	// SizeBytes is the archive size.
	SizeBytes int64 `json:"size_bytes"`
	Logs      string `json:"logs"`
}
