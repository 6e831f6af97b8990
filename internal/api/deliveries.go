package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nvasko/push-delivery-system/internal/store"
)

type DeliveryHandler struct {
	store *store.PostgresStore
}

func NewDeliveryHandler(s *store.PostgresStore) *DeliveryHandler {
	return &DeliveryHandler{store: s}
}

func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	queueItemID := r.URL.Query().Get("queue_item_id")
	userID := r.URL.Query().Get("user_id")
	outcome := r.URL.Query().Get("outcome")
	limit := parseLimit(r, 50)

	records, err := h.store.ListDeliveryRecords(r.Context(), queueItemID, userID, outcome, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list delivery records")
		return
	}

	respondJSON(w, http.StatusOK, records)
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.store.GetDeliveryRecord(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get delivery record")
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, "delivery record not found")
		return
	}

	respondJSON(w, http.StatusOK, record)
}
