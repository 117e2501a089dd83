package models

import "time"

// Artifact is the metadata record for one uploaded build archive. The bytes
// themselves live in blob storage under Key.
type Artifact struct {
	ID      string `json:"id"`
	RunID   string `json:"run_id"`
	StageID string `json:"stage_id"`
	// Name is the archive file name following the naming convention.
	Name string `json:"name"`
	// Key is the blob storage key, <run-id>/<name>.
	Key string `json:"key"`
	// Digest is the SHA-256 digest of the archive, hex encoded.
	Digest    string    `json:"digest"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	// Released marks artifacts attached to a published release; the
	// retention sweep never deletes these.
	Released bool `json:"released"`
}
