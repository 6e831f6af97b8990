package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nvasko/push-delivery-system/internal/domain"
	"github.com/nvasko/push-delivery-system/internal/store"
)

type NotificationHandler struct {
	store             *store.PostgresStore
	defaultMaxRetries int
}

func NewNotificationHandler(s *store.PostgresStore, defaultMaxRetries int) *NotificationHandler {
	return &NotificationHandler{store: s, defaultMaxRetries: defaultMaxRetries}
}

func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !domain.ValidNotificationType(req.NotificationType) {
		respondError(w, http.StatusBadRequest, "notification_type must be one of: reminder, srs, summary, system")
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Body == "" {
		respondError(w, http.StatusBadRequest, "body is required")
		return
	}
	if req.MaxRetries != nil && *req.MaxRetries < 1 {
		respondError(w, http.StatusBadRequest, "max_retries must be at least 1")
		return
	}

	item, err := h.store.Enqueue(r.Context(), req, h.defaultMaxRetries)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to enqueue notification")
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	status := domain.QueueStatus(r.URL.Query().Get("status"))
	limit := parseLimit(r, 50)

	items, err := h.store.ListQueueItems(r.Context(), userID, status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	respondJSON(w, http.StatusOK, items)
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.store.GetQueueItem(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get notification")
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, "notification not found")
		return
	}

	respondJSON(w, http.StatusOK, item)
}

func parseLimit(r *http.Request, fallback int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
