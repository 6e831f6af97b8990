package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nvasko/push-delivery-system/internal/domain"
	"github.com/nvasko/push-delivery-system/internal/store"
)

type DeadLetterHandler struct {
	store *store.PostgresStore
}

func NewDeadLetterHandler(s *store.PostgresStore) *DeadLetterHandler {
	return &DeadLetterHandler{store: s}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit := parseLimit(r, 50)

	items, err := h.store.ListQueueItems(r.Context(), userID, domain.StatusDeadLettered, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	respondJSON(w, http.StatusOK, items)
}

func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.store.GetQueueItem(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if item == nil || item.Status != domain.StatusDeadLettered {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return
	}

	respondJSON(w, http.StatusOK, item)
}

// Requeue resets a dead-lettered item to pending with a fresh retry
// budget. This is an operator action; the processor never resurrects
// dead-lettered items on its own.
func (h *DeadLetterHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.RequeueDeadLetter(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "item not found or not dead-lettered")
		return
	}

	item, err := h.store.GetQueueItem(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get requeued item")
		return
	}

	respondJSON(w, http.StatusOK, item)
}
