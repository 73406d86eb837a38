package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yushao2/sre-agent/internal/core"
	"github.com/yushao2/sre-agent/internal/dispatch"
	"github.com/yushao2/sre-agent/internal/metrics"
	"github.com/yushao2/sre-agent/internal/queue"
	"github.com/yushao2/sre-agent/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	router chi.Router
	store  core.ResultStore
	broker core.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	broker := queue.NewMemoryBroker(time.Minute, testLogger())
	t.Cleanup(func() { _ = broker.Close() })

	gateway := dispatch.NewGateway(store, broker, metrics.New(prometheus.NewRegistry()), 200*time.Millisecond, testLogger())

	r := chi.NewRouter()
	taskHandler := NewTaskHandler(gateway, testLogger())
	r.Post("/api/v1/tasks", taskHandler.Submit)
	r.Get("/api/v1/tasks/{id}", taskHandler.Status)

	webhookHandler := NewWebhookHandler(gateway, testLogger())
	r.Post("/api/v1/webhooks/{source}", webhookHandler.Handle)

	healthHandler := NewHealthHandler(store, broker, testLogger())
	r.Get("/health", healthHandler.Handle)

	return &testEnv{router: r, store: store, broker: broker}
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) core.Task {
	t.Helper()
	var task core.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	return task
}

func TestTaskHandler_Submit(t *testing.T) {
	t.Run("async submission answers 202 with a pending handle", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/v1/tasks", `{"kind":"summarize","payload":{"key":"INC-1","summary":"db down"}}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		task := decodeTask(t, rec)
		assert.NotEmpty(t, task.ID)
		assert.Equal(t, core.StatePending, task.State)
	})

	t.Run("duplicate submission returns the same task id", func(t *testing.T) {
		env := newTestEnv(t)
		body := `{"kind":"summarize","payload":{"key":"INC-1","summary":"db down"}}`

		first := decodeTask(t, env.do(t, http.MethodPost, "/api/v1/tasks", body))
		second := decodeTask(t, env.do(t, http.MethodPost, "/api/v1/tasks", body))
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("validation failures answer 400", func(t *testing.T) {
		env := newTestEnv(t)

		tests := []struct {
			name string
			body string
		}{
			{name: "malformed body", body: `{"kind":`},
			{name: "unknown kind", body: `{"kind":"review","payload":{}}`},
			{name: "missing payload", body: `{"kind":"summarize"}`},
			{name: "bad mode", body: `{"kind":"summarize","payload":{},"mode":"later"}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := env.do(t, http.MethodPost, "/api/v1/tasks", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})

	t.Run("sync submission answers 200 once the worker finishes", func(t *testing.T) {
		env := newTestEnv(t)
		payload := json.RawMessage(`{"key":"INC-2","summary":"cache down"}`)
		id := core.DeriveTaskID(core.KindSummarize, payload)

		go func() {
			time.Sleep(50 * time.Millisecond)
			ctx := t.Context()
			if _, ok, err := env.store.Claim(ctx, id, 0); err != nil || !ok {
				return
			}
			_ = env.store.Complete(ctx, id, json.RawMessage(`{"summary":"handled"}`))
		}()

		rec := env.do(t, http.MethodPost, "/api/v1/tasks", `{"kind":"summarize","payload":{"key":"INC-2","summary":"cache down"},"mode":"sync"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		task := decodeTask(t, rec)
		assert.Equal(t, core.StateCompleted, task.State)
	})

	t.Run("sync timeout still answers 202 with the handle", func(t *testing.T) {
		env := newTestEnv(t)

		rec := env.do(t, http.MethodPost, "/api/v1/tasks", `{"kind":"summarize","payload":{"key":"INC-3","summary":"nobody home"},"mode":"sync"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		task := decodeTask(t, rec)
		assert.Equal(t, core.StatePending, task.State)
	})

	t.Run("broker outage answers 503", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.broker.Close())

		rec := env.do(t, http.MethodPost, "/api/v1/tasks", `{"kind":"summarize","payload":{"key":"INC-4","summary":"x"}}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestTaskHandler_Status(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	created := decodeTask(t, env.do(t, http.MethodPost, "/api/v1/tasks", `{"kind":"triage","payload":{"key":"PROJ-1","summary":"slow"}}`))

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeTask(t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, core.KindTriage, got.Kind)
}
