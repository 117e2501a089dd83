package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crestline/release-plane/internal/auth"
	"github.com/crestline/release-plane/internal/models"
	"github.com/crestline/release-plane/internal/store"
	"github.com/crestline/release-plane/internal/store/postgres"
)

// KeyHandler manages dispatch keys for non-interactive API callers.
type KeyHandler struct {
	store  store.Store
	logger *slog.Logger
}

// NewKeyHandler creates a dispatch key handler.
func NewKeyHandler(st store.Store, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{
		store:  st,
		logger: logger,
	}
}

type createKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createKeyResponse struct {
	*models.DispatchKey
	// Key is the raw dispatch key, returned only at creation time.
	Key string `json:"key"`
}

// Create handles POST /v1/keys. The raw key appears once in the response;
// only its hash is stored.
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return
	}
	if req.Name == "" {
		WriteBadRequest(w, "Name is required")
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{string(auth.ScopeDispatch)}
	}
	for _, s := range req.Scopes {
		switch auth.Scope(s) {
		case auth.ScopeRead, auth.ScopeDispatch, auth.ScopeCancel, auth.ScopeAdmin:
		default:
			WriteBadRequest(w, "Unknown scope: "+s)
			return
		}
	}

	raw, err := auth.GenerateDispatchKey()
	if err != nil {
		h.logger.Error("failed to generate dispatch key", "error", err)
		WriteInternalError(w, "Failed to generate key")
		return
	}

	key := &models.DispatchKey{
		ID:      uuid.New().String(),
		Name:    req.Name,
		KeyHash: auth.HashDispatchKey(raw),
		Scopes:  req.Scopes,
	}
	if err := h.store.DispatchKeys().Create(r.Context(), key); err != nil {
		h.logger.Error("failed to store dispatch key", "error", err)
		WriteInternalError(w, "Failed to store key")
		return
	}

	h.logger.Info("dispatch key created", "key_id", key.ID, "name", key.Name)
	WriteJSON(w, http.StatusCreated, &createKeyResponse{DispatchKey: key, Key: raw})
}

// List handles GET /v1/keys.
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.DispatchKeys().List(r.Context())
	if err != nil {
		h.logger.Error("failed to list dispatch keys", "error", err)
		WriteInternalError(w, "Failed to list keys")
		return
	}
	if keys == nil {
		keys = []*models.DispatchKey{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// Delete handles DELETE /v1/keys/{keyID}, revoking the key immediately.
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")

	if err := h.store.DispatchKeys().Delete(r.Context(), keyID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			WriteNotFound(w, "Key not found")
			return
		}
		h.logger.Error("failed to delete dispatch key", "key_id", keyID, "error", err)
		WriteInternalError(w, "Failed to delete key")
		return
	}

	h.logger.Info("dispatch key revoked", "key_id", keyID)
	w.WriteHeader(http.StatusNoContent)
}
