package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yushao2/sre-agent/internal/core"
)

func TestHealthHandler(t *testing.T) {
	t.Run("healthy resources answer 200 with counts", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.store.CreatePending(t.Context(), &core.Task{
			ID:      "t1",
			Kind:    core.KindSummarize,
			Payload: json.RawMessage(`{}`),
		})
		require.NoError(t, err)

		rec := env.do(t, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status       string `json:"status"`
			Store        string `json:"store"`
			Broker       string `json:"broker"`
			TasksPending int    `json:"tasks_pending"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.Store)
		assert.Equal(t, "ok", resp.Broker)
		assert.Equal(t, 1, resp.TasksPending)
	})

	t.Run("broker outage answers 503 degraded", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.broker.Close())

		rec := env.do(t, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp["status"])
		assert.Equal(t, "ok", resp["store"])
	})
}
