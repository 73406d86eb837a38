package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yushao2/sre-agent/internal/core"
	"github.com/yushao2/sre-agent/internal/dispatch"
)

const maxWebhookBytes = 1 << 20

// WebhookHandler ingests push notifications from external notifiers and
// turns them into task submissions. Duplicate deliveries are harmless: the
// gateway's deterministic id derivation collapses them onto one task.
type WebhookHandler struct {
	gateway *dispatch.Gateway
	logger  *slog.Logger
}

// NewWebhookHandler creates a webhook handler over the dispatch gateway.
func NewWebhookHandler(gateway *dispatch.Gateway, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, logger: logger}
}

// Handle processes POST /api/v1/webhooks/{source}. The event is acknowledged
// as soon as it is durably handed to the gateway; ingestion success is
// decoupled from task completion.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req *core.IngestRequest
	switch source {
	case "jira":
		req, err = core.IngestFromJira(raw)
	case "pagerduty":
		req, err = core.IngestFromPagerDuty(raw)
	case "generic":
		req, err = core.IngestFromGeneric(raw)
	default:
		writeError(w, http.StatusNotFound, "unknown webhook source: "+source)
		return
	}

	if err != nil {
		var ignored *core.ErrEventIgnored
		if errors.As(err, &ignored) {
			h.logger.Debug("webhook event ignored", "source", source, "reason", ignored.Reason)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": ignored.Reason})
			return
		}
		h.logger.Warn("rejecting malformed webhook", "source", source, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Ingestion is always async; webhook senders must never wait on an
	// inference call.
	task, err := h.gateway.Submit(r.Context(), req.Kind, req.Payload, false)
	if err != nil {
		if errors.Is(err, core.ErrUnavailable) {
			h.logger.Error("webhook ingestion rejected", "source", source, "error", err)
			writeError(w, http.StatusServiceUnavailable, "queue or result store unavailable, upstream should redeliver")
			return
		}
		h.logger.Error("webhook ingestion failed", "source", source, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to ingest event")
		return
	}

	h.logger.Info("webhook event ingested", "source", source, "task_id", task.ID, "kind", task.Kind)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"id":     task.ID,
		"state":  string(task.State),
	})
}
