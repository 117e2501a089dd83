// Package main provides the entry point for the control API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/crestline/release-plane/internal/api"
	"github.com/crestline/release-plane/internal/artifacts"
	"github.com/crestline/release-plane/internal/auth"
	"github.com/crestline/release-plane/internal/logs"
	"github.com/crestline/release-plane/internal/pipeline"
	pgqueue "github.com/crestline/release-plane/internal/queue/postgres"
	"github.com/crestline/release-plane/internal/release"
	"github.com/crestline/release-plane/internal/scheduler"
	"github.com/crestline/release-plane/internal/secrets"
	pgstore "github.com/crestline/release-plane/internal/store/postgres"
	"github.com/crestline/release-plane/pkg/config"
	"github.com/crestline/release-plane/pkg/logger"
)

func main() {
	log := logger.New(slog.LevelInfo, true)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	def, err := pipeline.Load(cfg.PipelineFile)
	if err != nil {
		log.Error("failed to load pipeline definition", "file", cfg.PipelineFile, "error", err)
		os.Exit(1)
	}

	storeCfg := pgstore.DefaultConfig(cfg.DatabaseDSN)
	store, err := pgstore.NewPostgresStore(storeCfg, log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	queue := pgqueue.NewPostgresQueue(store.DB(), log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := newStorage(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize artifact storage", "error", err)
		os.Exit(1)
	}

	// Vault is optional: without age keys the release token cannot be
	// stored or loaded, and tag runs will fail at publish time.
	var vault *secrets.Vault
	if cfg.Age.PublicKey != "" || cfg.Age.PrivateKey != "" {
		vault, err = secrets.NewVault(&secrets.Config{
			AgePublicKey:  cfg.Age.PublicKey,
			AgePrivateKey: cfg.Age.PrivateKey,
		}, log.Logger)
		if err != nil {
			log.Error("failed to initialize vault", "error", err)
			os.Exit(1)
		}
	}

	publisher := newPublisher(ctx, cfg, store, storage, vault, log.Logger)

	sched := scheduler.NewScheduler(store, queue, def, log.Logger)

	reconciler := scheduler.NewReconciler(store, queue, def, publisher, &cfg.Scheduler, log.Logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	healthMonitor := scheduler.NewHealthMonitor(store, scheduler.DefaultHealthThreshold, log.Logger)
	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	retention, err := artifacts.NewRetentionService(&artifacts.RetentionConfig{
		Retention: cfg.Artifacts.Retention,
		Schedule:  cfg.Artifacts.CleanupSchedule,
	}, store, storage, log.Logger)
	if err != nil {
		log.Error("failed to initialize retention service", "error", err)
		os.Exit(1)
	}
	if err := retention.Start(); err != nil {
		log.Error("failed to start retention service", "error", err)
		os.Exit(1)
	}
	defer retention.Stop()

	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.Logger)

	server := api.NewServer(cfg, &api.Dependencies{
		Store:     store,
		Storage:   storage,
		Scheduler: sched,
		Broker:    logs.NewBroker(store.Logs(), log.Logger),
		Auth:      authService,
		Vault:     vault,
		Pinger:    store,
	}, log.Logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	log.Info("starting API server",
		"host", cfg.APIHost,
		"port", cfg.APIPort,
		"program", def.Program,
		"stages", len(def.Expand()),
	)

	if err := server.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
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

// newPublisher wires the release publisher when the release repository and
// a decryptable release token are configured. Without one, tag runs fail at
// the publish step instead of silently skipping the release.
func newPublisher(ctx context.Context, cfg *config.Config, s *pgstore.PostgresStore, storage artifacts.Storage, vault *secrets.Vault, log *slog.Logger) scheduler.ReleasePublisher {
	if cfg.Release.Owner == "" || cfg.Release.Repo == "" {
		log.Warn("release publishing disabled: RELEASE_OWNER and RELEASE_REPO not set")
		return nil
	}
	if vault == nil || !vault.CanDecrypt() {
		log.Warn("release publishing disabled: no age private key to decrypt the release token")
		return nil
	}

	token, err := vault.LoadReleaseToken(ctx, s.Settings())
	if err != nil {
		if errors.Is(err, secrets.ErrNoToken) {
			log.Warn("release publishing disabled: no release token stored")
		} else {
			log.Error("failed to load release token", "error", err)
		}
		return nil
	}

	client := release.NewClient(cfg.Release.APIBase, token)
	return release.NewPublisher(&release.PublisherConfig{
		Owner:         cfg.Release.Owner,
		Repo:          cfg.Release.Repo,
		ChangelogPath: cfg.Release.ChangelogPath,
		SectionOnly:   cfg.Release.SectionOnly,
	}, s, storage, client, log)
}
