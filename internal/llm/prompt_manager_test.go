package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yushao2/sre-agent/internal/core"
)

func TestNewPromptManager(t *testing.T) {
	pm, err := NewPromptManager()
	require.NoError(t, err)

	for _, kind := range []core.TaskKind{core.KindSummarize, core.KindTriage, core.KindRCA, core.KindChat} {
		_, err := pm.Render(kind, DefaultProvider, &promptData{Key: "INC-1", Summary: "s", Message: "m"})
		assert.NoError(t, err, "kind %s must have a renderable default prompt", kind)
	}
}

func TestPromptManager_Render(t *testing.T) {
	pm, err := NewPromptManager()
	require.NoError(t, err)

	t.Run("summarize includes incident fields", func(t *testing.T) {
		out, err := pm.Render(core.KindSummarize, DefaultProvider, &promptData{
			Key:         "INC-42",
			Summary:     "db down",
			Description: "primary unreachable",
			Status:      "Open",
			Priority:    "P1",
		})
		require.NoError(t, err)
		assert.Contains(t, out, "INC-42")
		assert.Contains(t, out, "db down")
		assert.Contains(t, out, "primary unreachable")
		assert.Contains(t, out, "Priority: P1")
	})

	t.Run("optional sections are omitted when empty", func(t *testing.T) {
		out, err := pm.Render(core.KindSummarize, DefaultProvider, &promptData{
			Key:     "INC-42",
			Summary: "db down",
		})
		require.NoError(t, err)
		assert.NotContains(t, out, "Description:")
		assert.NotContains(t, out, "Comments:")
	})

	t.Run("rca includes knowledge base context", func(t *testing.T) {
		out, err := pm.Render(core.KindRCA, DefaultProvider, &promptData{
			Key:              "INC-42",
			Summary:          "db down",
			RelatedIncidents: `[{"key":"INC-9"}]`,
		})
		require.NoError(t, err)
		assert.Contains(t, out, "Similar past incidents")
		assert.Contains(t, out, "INC-9")
	})

	t.Run("chat includes the user message", func(t *testing.T) {
		out, err := pm.Render(core.KindChat, DefaultProvider, &promptData{Message: "why is the pager quiet?"})
		require.NoError(t, err)
		assert.Contains(t, out, "why is the pager quiet?")
	})

	t.Run("unknown provider falls back to the default variant", func(t *testing.T) {
		out, err := pm.Render(core.KindChat, ModelProvider("gemini"), &promptData{Message: "hello"})
		require.NoError(t, err)
		assert.Contains(t, out, "hello")
	})

	t.Run("unregistered kind is an error", func(t *testing.T) {
		_, err := pm.Render(core.TaskKind("review"), DefaultProvider, &promptData{})
		assert.Error(t, err)
	})
}
