package api

import (
	"net/http"

	"github.com/nvasko/push-delivery-system/internal/store"
)

type StatsHandler struct {
	store *store.PostgresStore
}

func NewStatsHandler(s *store.PostgresStore) *StatsHandler {
	return &StatsHandler{store: s}
}

// Stats returns aggregated queue and delivery statistics for monitoring.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetQueueStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
