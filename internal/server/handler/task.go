// Package handler provides the HTTP handlers for task submission, status
// polling, webhook ingestion, and health reporting.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yushao2/sre-agent/internal/core"
	"github.com/yushao2/sre-agent/internal/dispatch"
)

// TaskHandler serves the task submission and status endpoints.
type TaskHandler struct {
	gateway *dispatch.Gateway
	logger  *slog.Logger
}

// NewTaskHandler creates a task handler over the dispatch gateway.
func NewTaskHandler(gateway *dispatch.Gateway, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{gateway: gateway, logger: logger}
}

type submitRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Mode    string          `json:"mode,omitempty"` // "async" (default) or "sync"
}

// Submit handles POST /api/v1/tasks. Async submissions answer 202 with the
// pending handle; sync submissions answer 200 with the terminal record when
// the task finishes within the sync timeout.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	kind, err := core.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	var sync bool
	switch req.Mode {
	case "", "async":
	case "sync":
		sync = true
	default:
		writeError(w, http.StatusBadRequest, "mode must be \"async\" or \"sync\"")
		return
	}

	task, err := h.gateway.Submit(r.Context(), kind, req.Payload, sync)
	if err != nil {
		if errors.Is(err, core.ErrUnavailable) {
			h.logger.Error("task submission rejected", "error", err)
			writeError(w, http.StatusServiceUnavailable, "queue or result store unavailable, retry the submission")
			return
		}
		h.logger.Error("task submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	status := http.StatusAccepted
	if task.State.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, task)
}

// Status handles GET /api/v1/tasks/{id}.
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := h.gateway.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown or expired task id")
			return
		}
		h.logger.Error("task status lookup failed", "task_id", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, "result store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
