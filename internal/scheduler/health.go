package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/store"
)

// DefaultHealthThreshold is how stale a heartbeat may be before a worker is
// considered unhealthy. Workers heartbeat every 15 seconds.
const DefaultHealthThreshold = time.Minute

// HealthMonitor tracks build worker liveness from heartbeats.
type HealthMonitor struct {
	store     store.Store
	threshold time.Duration
	interval  time.Duration
	logger    *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHealthMonitor creates a worker health monitor. A zero threshold uses
// DefaultHealthThreshold.
func NewHealthMonitor(s store.Store, threshold time.Duration, logger *slog.Logger) *HealthMonitor {
	if threshold <= 0 {
		threshold = DefaultHealthThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		store:     s,
		threshold: threshold,
		interval:  threshold / 2,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// IsWorkerHealthy reports whether a worker's heartbeat is within the
// threshold.
func (m *HealthMonitor) IsWorkerHealthy(worker *models.WorkerInfo) bool {
	return worker.Healthy && time.Since(worker.LastHeartbeat) <= m.threshold
}

// Start runs the health check loop until Stop is called or the context ends.
func (m *HealthMonitor) Start(ctx context.Context) {
	go func() {
		defer close(m.doneCh)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.CheckOnce(ctx)
			}
		}
	}()
}

// Stop stops the health check loop.
func (m *HealthMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// CheckOnce performs a single health pass over the worker fleet, flipping
// health flags where the heartbeat state disagrees with the record.
func (m *HealthMonitor) CheckOnce(ctx context.Context) {
	workers, err := m.store.Workers().List(ctx)
	if err != nil {
		m.logger.Error("failed to list workers", "error", err)
		return
	}

	cutoff := time.Now().Add(-m.threshold)
	for _, worker := range workers {
		fresh := worker.LastHeartbeat.After(cutoff)
		if fresh == worker.Healthy {
			continue
		}

		if err := m.store.Workers().UpdateHealth(ctx, worker.ID, fresh); err != nil {
			m.logger.Error("failed to update worker health",
				"worker_id", worker.ID, "error", err)
			continue
		}

		if fresh {
			m.logger.Info("worker recovered", "worker_id", worker.ID)
		} else {
			m.logger.Warn("worker went unhealthy",
				"worker_id", worker.ID,
				"last_heartbeat", worker.LastHeartbeat,
			)
		}
	}
}
