// Package retry provides stage retry classification and bookkeeping.
package retry

import (
	"strings"
	"time"
)

// Retryable error patterns that indicate a transient toolchain failure
// worth retrying. Compile errors never match these.
var retryableErrorPatterns = []string{
	"network error",
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"unable to fetch",
	"failed to download",
	"spurious network error",
	"registry index",
	"temporary failure in name resolution",
}

// Strategy defines retry behavior for build stages.
type Strategy struct {
	// MaxAttempts bounds total attempts including the first.
	MaxAttempts int `json:"max_attempts"`
	// Backoff is the wait between attempts.
	Backoff time.Duration `json:"backoff"`
}

// DefaultStrategy returns the default retry strategy.
func DefaultStrategy() *Strategy {
	return &Strategy{
		MaxAttempts: 2,
		Backoff:     10 * time.Second,
	}
}

// IsRetryable reports whether an error message matches a transient pattern.
func IsRetryable(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// ShouldRetry decides whether a failed attempt should be retried.
// attempt is 1-based: the first execution is attempt 1.
func (s *Strategy) ShouldRetry(errMsg string, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	return IsRetryable(errMsg)
}
