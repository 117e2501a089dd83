// Package api provides the HTTP control API for the release pipeline.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/crestline/release-plane/internal/api/handlers"
	"github.com/crestline/release-plane/internal/api/health"
	"github.com/crestline/release-plane/internal/api/middleware"
	"github.com/crestline/release-plane/internal/artifacts"
	"github.com/crestline/release-plane/internal/auth"
	"github.com/crestline/release-plane/internal/logs"
	"github.com/crestline/release-plane/internal/scheduler"
	"github.com/crestline/release-plane/internal/secrets"
	"github.com/crestline/release-plane/internal/store"
	"github.com/crestline/release-plane/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Server is the HTTP control API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	store         store.Store
	storage       artifacts.Storage
	scheduler     *scheduler.Scheduler
	broker        *logs.Broker
	auth          *auth.Service
	vault         *secrets.Vault
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// Dependencies bundles everything the server serves.
type Dependencies struct {
	Store     store.Store
	Storage   artifacts.Storage
	Scheduler *scheduler.Scheduler
	Broker    *logs.Broker
	Auth      *auth.Service
	// Vault encrypts the release token at rest; nil disables token storage.
	Vault *secrets.Vault
	// Pinger backs the health endpoint's database check.
	Pinger health.Pinger
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:     deps.Store,
		storage:   deps.Storage,
		scheduler: deps.Scheduler,
		broker:    deps.Broker,
		auth:      deps.Auth,
		vault:     deps.Vault,
		config:    cfg,
		logger:    logger,
	}

	s.healthChecker = health.NewChecker(deps.Pinger, Version)

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// Health check endpoint (no auth required)
	r.Get("/health", s.healthChecker.Handler())

	// Webhook endpoint (no bearer auth; deliveries are HMAC signed)
	webhookHandler := handlers.NewWebhookHandler(s.config.Trigger.WebhookSecret, s.scheduler, s.logger)
	r.Post("/hooks/push", webhookHandler.Receive)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		authMiddleware := middleware.NewAuthMiddleware(s.auth, s.store.DispatchKeys(), s.config.APIKeyHeader, s.logger)
		r.Use(authMiddleware.Authenticate)

		r.Get("/auth/validate", func(w http.ResponseWriter, r *http.Request) {
			subject := middleware.GetSubject(r.Context())
			handlers.WriteJSON(w, http.StatusOK, map[string]string{
				"status":  "ok",
				"subject": subject,
			})
		})

		runHandler := handlers.NewRunHandler(s.store, s.scheduler, s.logger)
		artifactHandler := handlers.NewArtifactHandler(s.store, s.storage, s.logger)
		logHandler := handlers.NewLogHandler(s.store, s.broker, s.logger)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runHandler.List)
			r.With(middleware.RequireScope(auth.ScopeDispatch)).Post("/", runHandler.Dispatch)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", runHandler.Get)
				r.With(middleware.RequireScope(auth.ScopeCancel)).Post("/cancel", runHandler.Cancel)
				r.Get("/artifacts", artifactHandler.ListByRun)
				r.Get("/artifacts/{name}", artifactHandler.Download)
				r.Get("/logs", logHandler.Get)
				r.Get("/logs/ws", logHandler.Stream)
			})
		})

		releaseHandler := handlers.NewReleaseHandler(s.store, s.logger)
		r.Route("/releases", func(r chi.Router) {
			r.Get("/", releaseHandler.List)
			r.Get("/{tag}", releaseHandler.GetByTag)
		})

		workerHandler := handlers.NewWorkerHandler(s.store, s.logger)
		r.Get("/workers", workerHandler.List)

		settingsHandler := handlers.NewSettingsHandler(s.store, s.vault, s.logger)
		r.With(middleware.RequireScope(auth.ScopeAdmin)).
			Put("/settings/release-token", settingsHandler.SetReleaseToken)

		keyHandler := handlers.NewKeyHandler(s.store, s.logger)
		r.Route("/keys", func(r chi.Router) {
			r.Use(middleware.RequireScope(auth.ScopeAdmin))
			r.Get("/", keyHandler.List)
			r.Post("/", keyHandler.Create)
			r.Delete("/{keyID}", keyHandler.Delete)
		})
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
