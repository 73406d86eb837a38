package server

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yushao2/sre-agent/internal/core"
	"github.com/yushao2/sre-agent/internal/dispatch"
	"github.com/yushao2/sre-agent/internal/server/handler"
)

// NewRouter creates and configures the HTTP router with middleware and API
// routes.
func NewRouter(gateway *dispatch.Gateway, store core.ResultStore, broker core.Broker, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	healthHandler := handler.NewHealthHandler(store, broker, logger)
	r.Get("/health", healthHandler.Handle)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		taskHandler := handler.NewTaskHandler(gateway, logger)
		r.Post("/tasks", taskHandler.Submit)
		r.Get("/tasks/{id}", taskHandler.Status)

		webhookHandler := handler.NewWebhookHandler(gateway, logger)
		r.Post("/webhooks/{source}", webhookHandler.Handle)
	})

	return r
}
