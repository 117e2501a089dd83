package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crestline/release-plane/internal/artifacts"
	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/store"
	"github.com/crestline/release-plane/internal/store/postgres"
)

// ArtifactHandler handles artifact metadata and download endpoints.
type ArtifactHandler struct {
	store   store.Store
	storage artifacts.Storage
	logger  *slog.Logger
}

// NewArtifactHandler creates an artifact handler.
func NewArtifactHandler(st store.Store, storage artifacts.Storage, logger *slog.Logger) *ArtifactHandler {
	return &ArtifactHandler{
		store:   st,
		storage: storage,
		logger:  logger,
	}
}

// ListByRun handles GET /v1/runs/{runID}/artifacts.
func (h *ArtifactHandler) ListByRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	arts, err := h.store.Artifacts().ListByRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("failed to list artifacts", "run_id", runID, "error", err)
		WriteInternalError(w, "Failed to list artifacts")
		return
	}
	if arts == nil {
		arts = []*models.Artifact{}
	}
	WriteJSON(w, http.StatusOK, arts)
}

// Download handles GET /v1/runs/{runID}/artifacts/{name} - streams the
// archive bytes.
func (h *ArtifactHandler) Download(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	name := chi.URLParam(r, "name")

	artifact, err := h.store.Artifacts().GetByName(r.Context(), runID, name)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Artifact not found")
			return
		}
		h.logger.Error("failed to get artifact", "run_id", runID, "name", name, "error", err)
		WriteInternalError(w, "Failed to get artifact")
		return
	}

	reader, err := h.storage.Get(r.Context(), artifact.Key)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			WriteNotFound(w, "Artifact data not found")
			return
		}
		h.logger.Error("failed to open artifact", "key", artifact.Key, "error", err)
		WriteInternalError(w, "Failed to open artifact")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Name+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(artifact.SizeBytes, 10))
	w.Header().Set("X-Checksum-Sha256", artifact.Digest)

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Debug("artifact download interrupted", "name", name, "error", err)
	}
}
