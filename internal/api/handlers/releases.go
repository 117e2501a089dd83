package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/store"
	"github.com/crestline/release-plane/internal/store/postgres"
)

// ReleaseHandler handles release record endpoints.
type ReleaseHandler struct {
	store  store.Store
	logger *slog.Logger
}

// NewReleaseHandler creates a release handler.
func NewReleaseHandler(st store.Store, logger *slog.Logger) *ReleaseHandler {
	return &ReleaseHandler{
		store:  st,
		logger: logger,
	}
}

// List handles GET /v1/releases.
func (h *ReleaseHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	releases, err := h.store.Releases().List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list releases", "error", err)
		WriteInternalError(w, "Failed to list releases")
		return
	}
	if releases == nil {
		releases = []*models.Release{}
	}
	WriteJSON(w, http.StatusOK, releases)
}

// GetByTag handles GET /v1/releases/{tag}.
func (h *ReleaseHandler) GetByTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")

	release, err := h.store.Releases().GetByTag(r.Context(), tag)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Release not found")
			return
		}
		h.logger.Error("failed to get release", "tag", tag, "error", err)
		WriteInternalError(w, "Failed to get release")
		return
	}

	WriteJSON(w, http.StatusOK, release)
}
