package handler

import (
	"log/slog"
	"net/http"

	"github.com/yushao2/sre-agent/internal/core"
)

// HealthHandler reports liveness of the broker queue and result store.
type HealthHandler struct {
	store  core.ResultStore
	broker core.Broker
	logger *slog.Logger
}

// NewHealthHandler creates a health handler over the shared resources.
func NewHealthHandler(store core.ResultStore, broker core.Broker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, broker: broker, logger: logger}
}

type healthResponse struct {
	Status         string `json:"status"`
	Store          string `json:"store"`
	Broker         string `json:"broker"`
	TasksPending   int    `json:"tasks_pending"`
	TasksCompleted int    `json:"tasks_completed"`
}

// Handle serves GET /health.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok", Broker: "ok"}
	status := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("result store health check failed", "error", err)
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	} else if pending, completed, err := h.store.Counts(r.Context()); err == nil {
		resp.TasksPending = pending
		resp.TasksCompleted = completed
	}

	if err := h.broker.Ping(r.Context()); err != nil {
		h.logger.Warn("broker health check failed", "error", err)
		resp.Status = "degraded"
		resp.Broker = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
