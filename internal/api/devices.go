package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nvasko/push-delivery-system/internal/domain"
	"github.com/nvasko/push-delivery-system/internal/tokens"
)

type DeviceHandler struct {
	directory *tokens.Directory
}

func NewDeviceHandler(directory *tokens.Directory) *DeviceHandler {
	return &DeviceHandler{directory: directory}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	dt, err := h.directory.RegisterToken(r.Context(), req.UserID, req.Token, req.Platform)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	respondJSON(w, http.StatusCreated, dt)
}

func (h *DeviceHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	userID := r.URL.Query().Get("user_id")

	if err := h.directory.RemoveToken(r.Context(), userID, token); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to deactivate device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
