package models

import "time"

// ReleaseStatus represents the state of a release publication.
type ReleaseStatus string

const (
	ReleaseStatusPending   ReleaseStatus = "pending"
	ReleaseStatusPublished ReleaseStatus = "published"
	ReleaseStatusFailed    ReleaseStatus = "failed"
)

// Release is a published (or attempted) release record for a tag-triggered run.
type Release struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	// Tag is the pushed tag name the release is published under.
	Tag string `json:"tag"`
	// Title is the release title, normally the tag name.
	Title string `json:"title"`
	// Body is the changelog content attached verbatim at publish time.
	Body string `json:"body"`
	// URL is the public release page once published.
	URL string `json:"url,omitempty"`
	// AssetNames are the archive names attached to the release.
	AssetNames  []string      `json:"asset_names"`
	Status      ReleaseStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	PublishedAt *time.Time    `json:"published_at,omitempty"`
}
