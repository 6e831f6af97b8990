package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvasko/push-delivery-system/internal/store"
	"github.com/nvasko/push-delivery-system/internal/tokens"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, directory *tokens.Directory, runner CycleRunner, schedulerToken string, defaultMaxRetries int) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Handlers
	notifHandler := NewNotificationHandler(pgStore, defaultMaxRetries)
	deliveryHandler := NewDeliveryHandler(pgStore)
	dlqHandler := NewDeadLetterHandler(pgStore)
	deviceHandler := NewDeviceHandler(directory)
	statsHandler := NewStatsHandler(pgStore)
	processHandler := NewProcessHandler(runner)

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		// Cycle trigger, callable only by the internal scheduler.
		r.With(requireSchedulerToken(schedulerToken)).
			Post("/queue/process", processHandler.Trigger)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", notifHandler.Create)
			r.Get("/", notifHandler.List)
			r.Get("/{id}", notifHandler.Get)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliveryHandler.List)
			r.Get("/{id}", deliveryHandler.Get)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Get("/{id}", dlqHandler.Get)
			r.Post("/{id}/requeue", dlqHandler.Requeue)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Post("/", deviceHandler.Register)
			r.Delete("/{token}", deviceHandler.Deactivate)
		})

		r.Get("/stats", statsHandler.Stats)
	})

	return r
}
