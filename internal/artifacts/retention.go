package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/crestline/release-plane/internal/store"
)

// DefaultRetention is how long artifacts of unreleased runs are kept.
const DefaultRetention = 7 * 24 * time.Hour

// RetentionConfig holds retention sweep configuration.
type RetentionConfig struct {
	// Retention is the age after which unreleased artifacts are removed.
	Retention time.Duration
	// Schedule is the cron expression for the sweep.
	Schedule string
}

// DefaultRetentionConfig returns a RetentionConfig with sensible defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		Retention: DefaultRetention,
		Schedule:  "0 3 * * *",
	}
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %v", c.Retention)
	}
	if c.Schedule == "" {
		return fmt.Errorf("cleanup schedule is required")
	}
	return nil
}

// RetentionService deletes expired artifacts of unreleased runs on a cron
// schedule. Artifacts attached to a published release are never removed.
type RetentionService struct {
	cfg     *RetentionConfig
	store   store.Store
	storage Storage
	logger  *slog.Logger
	cron    *cron.Cron
}

// NewRetentionService creates a retention service.
func NewRetentionService(cfg *RetentionConfig, s store.Store, storage Storage, logger *slog.Logger) (*RetentionService, error) {
	if cfg == nil {
		cfg = DefaultRetentionConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetentionService{
		cfg:     cfg,
		store:   s,
		storage: storage,
		logger:  logger.With("component", "artifact-retention"),
	}, nil
}

// Start schedules the sweep. It returns immediately; sweeps run on the
// cron schedule until Stop is called.
func (s *RetentionService) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling retention sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("retention sweep scheduled", "schedule", s.cfg.Schedule, "retention", s.cfg.Retention)
	return nil
}

// Stop stops the cron scheduler and waits for a running sweep to finish.
func (s *RetentionService) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

// Sweep removes every unreleased artifact older than the retention window,
// deleting the blob first and the metadata record after. It returns the
// number of artifacts removed.
func (s *RetentionService) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)

	expired, err := s.store.Artifacts().ListExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing expired artifacts: %w", err)
	}

	removed := 0
	for _, artifact := range expired {
		if err := s.storage.Delete(ctx, artifact.Key); err != nil {
			s.logger.Error("failed to delete artifact blob",
				"artifact_id", artifact.ID,
				"key", artifact.Key,
				"error", err,
			)
			continue
		}
		if err := s.store.Artifacts().Delete(ctx, artifact.ID); err != nil {
			s.logger.Error("failed to delete artifact record",
				"artifact_id", artifact.ID,
				"error", err,
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("retention sweep removed artifacts", "count", removed, "cutoff", cutoff)
	}
	return removed, nil
}
