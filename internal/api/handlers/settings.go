package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/crestline/release-plane/internal/secrets"
	"github.com/crestline/release-plane/internal/store"
)

// SettingsHandler manages global settings, including the release token.
type SettingsHandler struct {
	store  store.Store
	vault  *secrets.Vault
	logger *slog.Logger
}

// NewSettingsHandler creates a settings handler. vault may be nil when no
// age keys are configured; storing the release token then fails loudly.
func NewSettingsHandler(st store.Store, vault *secrets.Vault, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:  st,
		vault:  vault,
		logger: logger,
	}
}

type releaseTokenRequest struct {
	Token string `json:"token"`
}

// SetReleaseToken handles PUT /v1/settings/release-token. The token is
// encrypted at rest and never returned by any endpoint.
func (h *SettingsHandler) SetReleaseToken(w http.ResponseWriter, r *http.Request) {
	if h.vault == nil || !h.vault.CanEncrypt() {
		WriteError(w, http.StatusServiceUnavailable, ErrCodeInternalError,
			"Token encryption is not configured")
		return
	}

	var req releaseTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}
	if req.Token == "" {
		WriteBadRequest(w, "Token is required")
		return
	}

	if err := h.vault.StoreReleaseToken(r.Context(), h.store.Settings(), req.Token); err != nil {
		h.logger.Error("failed to store release token", "error", err)
		WriteInternalError(w, "Failed to store token")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}
