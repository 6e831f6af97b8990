package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/nvasko/push-delivery-system/internal/processor"
)

// CycleRunner runs one queue processing cycle.
type CycleRunner interface {
	Run(ctx context.Context) (processor.Summary, error)
}

type ProcessHandler struct {
	runner CycleRunner
}

func NewProcessHandler(runner CycleRunner) *ProcessHandler {
	return &ProcessHandler{runner: runner}
}

// Trigger runs one cycle on behalf of the external scheduler. Item-level
// failures are part of a successful cycle; only an infrastructure failure
// (the store unreachable) surfaces as a 5xx for alerting.
func (h *ProcessHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.Run(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "processing cycle failed")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// requireSchedulerToken guards the cycle trigger with a shared secret.
func requireSchedulerToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Scheduler-Token")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respondError(w, http.StatusUnauthorized, "invalid scheduler token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
