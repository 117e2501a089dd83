package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/scheduler"
	"github.com/crestline/release-plane/internal/store"
	"github.com/crestline/release-plane/internal/store/postgres"
)

// defaultListLimit bounds list endpoints when no limit is given.
const defaultListLimit = 50

// RunHandler handles pipeline run endpoints.
type RunHandler struct {
	store     store.Store
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewRunHandler creates a run handler.
func NewRunHandler(st store.Store, sched *scheduler.Scheduler, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		store:     st,
		scheduler: sched,
		logger:    logger,
	}
}

// dispatchRequest is the payload for a manual run dispatch.
type dispatchRequest struct {
	// Ref is the git ref to build, e.g. "refs/heads/main" or a commit SHA.
	Ref string `json:"ref"`
}

// Dispatch handles POST /v1/runs - starts a manual run. Manual runs build
// the full matrix and keep the archives as artifacts, but never release.
func (h *RunHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}
	if req.Ref == "" {
		req.Ref = "refs/heads/main"
	}

	run, err := h.scheduler.StartManualRun(r.Context(), req.Ref)
	if err != nil {
		h.logger.Error("failed to start manual run", "ref", req.Ref, "error", err)
		WriteInternalError(w, "Failed to start run")
		return
	}

	WriteJSON(w, http.StatusCreated, run)
}

// List handles GET /v1/runs.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	runs, err := h.store.Runs().List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		WriteInternalError(w, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	WriteJSON(w, http.StatusOK, runs)
}

// runDetail is a run with its stages inlined.
type runDetail struct {
	*models.Run
	Stages []*models.StageJob `json:"stages"`
}

// Get handles GET /v1/runs/{runID} - the run with its stages.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.store.Runs().Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Run not found")
			return
		}
		h.logger.Error("failed to get run", "run_id", runID, "error", err)
		WriteInternalError(w, "Failed to get run")
		return
	}

	stages, err := h.store.Stages().ListByRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("failed to list stages", "run_id", runID, "error", err)
		WriteInternalError(w, "Failed to list stages")
		return
	}
	if stages == nil {
		stages = []*models.StageJob{}
	}

	WriteJSON(w, http.StatusOK, &runDetail{Run: run, Stages: stages})
}

// Cancel handles POST /v1/runs/{runID}/cancel.
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := h.scheduler.CancelRun(r.Context(), runID); err != nil {
		if errors.Is(err, scheduler.ErrRunNotCancellable) {
			WriteConflict(w, "Run is already finished")
			return
		}
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Run not found")
			return
		}
		h.logger.Error("failed to cancel run", "run_id", runID, "error", err)
		WriteInternalError(w, "Failed to cancel run")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
