// Package main provides the entry point for the build worker.
package main

import (
	"context"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/crestline/release-plane/internal/artifacts"
	"github.com/crestline/release-plane/internal/builder"
	pgqueue "github.com/crestline/release-plane/internal/queue/postgres"
	"github.com/crestline/release-plane/internal/shutdown"
	pgstore "github.com/crestline/release-plane/internal/store/postgres"
	"github.com/crestline/release-plane/pkg/config"
	"github.com/crestline/release-plane/pkg/logger"
)

func main() {
	log := logger.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storeCfg := pgstore.DefaultConfig(cfg.DatabaseDSN)
	store, err := pgstore.NewPostgresStore(storeCfg, log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	queue := pgqueue.NewPostgresQueue(store.DB(), log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := newStorage(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize artifact storage", "error", err)
		os.Exit(1)
	}

	// Requeue stages this worker (or a crashed peer) left in flight.
	recovery := builder.NewRecoveryService(store, queue, log.Logger)
	if err := recovery.RecoverOnStartup(ctx); err != nil {
		// Recovery errors do not prevent the worker from starting; stuck
		// stages will be failed by the run timeout instead.
		log.Error("startup recovery failed", "error", err)
	}

	workerCfg := builder.DefaultWorkerConfig()
	workerCfg.RepoURL = cfg.Worker.RepoURL
	workerCfg.WorkDir = cfg.Worker.WorkDir
	workerCfg.Concurrency = cfg.Worker.MaxConcurrency
	workerCfg.Executor = &builder.ExecutorConfig{
		BuildTimeout: cfg.Worker.BuildTimeout,
		NDKHome:      cfg.Worker.NDKHome,
	}

	worker, err := builder.NewWorker(workerCfg, store, queue, storage, log.Logger)
	if err != nil {
		log.Error("failed to create worker", "error", err)
		os.Exit(1)
	}

	log.Info("starting build worker",
		"concurrency", workerCfg.Concurrency,
		"work_dir", workerCfg.WorkDir,
		"repo_url", workerCfg.RepoURL,
	)

	if err := worker.Start(ctx); err != nil {
		log.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("store", store))
	coordinator.Register(shutdown.NewStopperComponent("worker", worker))

	coordinator.WaitForSignal()
	coordinator.Wait()

	log.Info("build worker shutdown complete")
	os.Exit(coordinator.ExitCode())
}

// newStorage selects the artifact blob backend from configuration.
func newStorage(ctx context.Context, cfg *config.Config) (artifacts.Storage, error) {
	switch cfg.Artifacts.Backend {
	case "s3":
		return artifacts.NewS3Storage(ctx, artifacts.S3Config{
			Endpoint:  cfg.Artifacts.S3Endpoint,
			Bucket:    cfg.Artifacts.S3Bucket,
			AccessKey: cfg.Artifacts.S3AccessKey,
			SecretKey: cfg.Artifacts.S3SecretKey,
			UseSSL:    cfg.Artifacts.S3UseSSL,
		})
	default:
		return artifacts.NewFSStorage(cfg.Artifacts.Root)
	}
}
