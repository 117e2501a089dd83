package handlers

import (
	"log/slog"
	"net/http"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/store"
)

// WorkerHandler handles build worker fleet endpoints.
type WorkerHandler struct {
	store  store.Store
	logger *slog.Logger
}

// NewWorkerHandler creates a worker handler.
func NewWorkerHandler(st store.Store, logger *slog.Logger) *WorkerHandler {
	return &WorkerHandler{
		store:  st,
		logger: logger,
	}
}

// List handles GET /v1/workers.
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.Workers().List(r.Context())
	if err != nil {
		h.logger.Error("failed to list workers", "error", err)
		WriteInternalError(w, "Failed to list workers")
		return
	}
	if workers == nil {
		workers = []*models.WorkerInfo{}
	}
	WriteJSON(w, http.StatusOK, workers)
}
