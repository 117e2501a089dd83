package models

import "time"

// DispatchKey is a long-lived API key for non-interactive callers such as
// release scripts. Only the SHA-256 hash of the key is stored; the raw key
// is shown once at creation.
type DispatchKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
