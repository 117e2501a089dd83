package models

import "time"

// WorkerInfo is the registration and heartbeat record for a build worker.
type WorkerInfo struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	// Platforms are the platform families this worker can build.
	Platforms     []Platform `json:"platforms"`
	Healthy       bool       `json:"healthy"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	RegisteredAt  time.Time  `json:"registered_at"`
}

// CanBuild reports whether the worker declares support for the platform.
func (w *WorkerInfo) CanBuild(p Platform) bool {
	for _, have := range w.Platforms {
		if have == p {
			return true
		}
	}
	return false
}
