package models

import "time"

// TriggerKind identifies what started a pipeline run.
type TriggerKind string

const (
	// TriggerTag is a run started by a version tag push.
	TriggerTag TriggerKind = "tag"
	// TriggerManual is a run started by an operator through the API.
	// Manual runs build and archive but never publish a release.
	TriggerManual TriggerKind = "manual"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	// RunStatusPending means the run is created but stages are not queued yet.
	RunStatusPending RunStatus = "pending"
	// RunStatusBuilding means stage jobs are queued or executing.
	RunStatusBuilding RunStatus = "building"
	// RunStatusPublishing means all stages succeeded and the release
	// publication is in progress.
	RunStatusPublishing RunStatus = "publishing"
	// RunStatusSucceeded means the run completed, including the release
	// stage when one was due.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed means at least one stage failed; no release is published.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled means an operator cancelled the run.
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Run is one execution of the release pipeline.
type Run struct {
	ID      string      `json:"id"`
	Trigger TriggerKind `json:"trigger"`
	// Tag is the normalized version (no "v" prefix) for tag-triggered runs,
	// empty for manual runs.
	Tag string `json:"tag,omitempty"`
	// Ref is the git ref the run builds from.
	Ref string `json:"ref"`
	// Program is the build artifact base name from the pipeline definition.
	Program    string     `json:"program"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// WantsRelease reports whether a release must be published once every
// stage of this run succeeds.
func (r *Run) WantsRelease() bool {
	return r.Trigger == TriggerTag && r.Tag != ""
}
