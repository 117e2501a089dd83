package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/crestline/release-plane/internal/logs"
	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/store"
)

// defaultLogLimit bounds the historical log fetch.
const defaultLogLimit = 1000

// LogHandler serves stored build logs and live streams.
type LogHandler struct {
	store    store.Store
	broker   *logs.Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewLogHandler creates a log handler.
func NewLogHandler(st store.Store, broker *logs.Broker, logger *slog.Logger) *LogHandler {
	return &LogHandler{
		store:  st,
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API is token-authenticated; origin checks add nothing for
			// non-browser clients.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Get handles GET /v1/runs/{runID}/logs - stored log entries, optionally
// narrowed to a stage with ?stage_id=.
func (h *LogHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	stageID := r.URL.Query().Get("stage_id")

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 10000 {
			limit = n
		}
	}

	var entries []*models.LogEntry
	var err error
	if stageID != "" {
		entries, err = h.store.Logs().ListByStage(r.Context(), stageID, limit)
	} else {
		entries, err = h.store.Logs().ListByRun(r.Context(), runID, limit)
	}
	if err != nil {
		h.logger.Error("failed to list logs", "run_id", runID, "error", err)
		WriteInternalError(w, "Failed to list logs")
		return
	}
	if entries == nil {
		entries = []*models.LogEntry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}

// Stream handles GET /v1/runs/{runID}/logs/ws - live log entries over a
// websocket, one JSON entry per message.
func (h *LogHandler) Stream(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	stageID := r.URL.Query().Get("stage_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe(runID, stageID)
	defer h.broker.Unsubscribe(sub)

	h.logger.Info("log stream opened", "run_id", runID, "stage_id", stageID)

	// Reader goroutine: surfaces client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			h.logger.Debug("log stream closed by client", "run_id", runID)
			return
		case entry, ok := <-sub.Ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				h.logger.Debug("log stream write failed", "error", err)
				return
			}
		}
	}
}
