package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/crestline/release-plane/internal/scheduler"
	"github.com/crestline/release-plane/internal/trigger"
)

// maxWebhookBody bounds webhook delivery bodies.
const maxWebhookBody = 1 << 20

// WebhookHandler receives forge webhook deliveries and starts tag runs.
type WebhookHandler struct {
	secret    string
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(secret string, sched *scheduler.Scheduler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		scheduler: sched,
		logger:    logger,
	}
}

// Receive handles POST /hooks/push. The delivery must carry a valid
// HMAC-SHA256 signature; only pushes of release tags start a run, everything
// else is acknowledged and ignored.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		WriteBadRequest(w, "Failed to read delivery body")
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if err := trigger.VerifySignature(h.secret, body, signature); err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid signature")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	push, err := trigger.ParseTagPush(event, body)
	if err != nil {
		if errors.Is(err, trigger.ErrIgnoredEvent) {
			h.logger.Debug("webhook delivery ignored", "event", event)
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		WriteBadRequest(w, "Malformed delivery payload")
		return
	}

	run, err := h.scheduler.StartTagRun(r.Context(), push.Version, "refs/tags/"+push.Tag)
	if err != nil {
		h.logger.Error("failed to start tag run",
			"tag", push.Tag,
			"error", err,
		)
		WriteInternalError(w, "Failed to start run")
		return
	}

	h.logger.Info("tag run started from webhook",
		"run_id", run.ID,
		"tag", push.Tag,
		"version", push.Version,
	)
	WriteJSON(w, http.StatusAccepted, run)
}
