package models

import "time"

// LogEntry is a single build log line attached to a run stage.
type LogEntry struct {
	ID      string `json:"id"`
	RunID   string `json:"run_id"`
	StageID string `json:"stage_id"`
	// Source distinguishes toolchain output from pipeline events.
	Source    string    `json:"source"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
