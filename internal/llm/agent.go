package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sevigo/goframe/llms"

	"github.com/yushao2/sre-agent/internal/core"
)

// promptData is the template input assembled from a task payload.
type promptData struct {
	Key              string
	Summary          string
	Description      string
	Status           string
	Priority         string
	Labels           []string
	Comments         []string
	Message          string
	Context          string
	RelatedIncidents string
	FetchedDocument  string
}

// agent implements core.Inferencer on top of a goframe model.
type agent struct {
	model    llms.Model
	prompts  *PromptManager
	provider ModelProvider
	logger   *slog.Logger
}

// NewAgent creates the inference collaborator for the given generator model.
func NewAgent(model llms.Model, prompts *PromptManager, provider string, logger *slog.Logger) core.Inferencer {
	return &agent{
		model:    model,
		prompts:  prompts,
		provider: ModelProvider(provider),
		logger:   logger,
	}
}

// Infer renders the prompt for the task kind, calls the model, and wraps the
// output in the result payload for that kind. Provider failures come back as
// classified errors so the worker can decide whether to retry.
func (a *agent) Infer(ctx context.Context, kind core.TaskKind, payload json.RawMessage) (json.RawMessage, error) {
	data, err := decodePromptData(payload)
	if err != nil {
		return nil, &core.ClassifiedError{Kind: core.ErrorInvalid, Message: err.Error()}
	}
	if err := validateInput(kind, data); err != nil {
		return nil, &core.ClassifiedError{Kind: core.ErrorInvalid, Message: err.Error()}
	}

	prompt, err := a.prompts.Render(kind, a.provider, data)
	if err != nil {
		return nil, &core.ClassifiedError{Kind: core.ErrorInvalid, Message: err.Error()}
	}

	a.logger.Debug("invoking generator model", "kind", kind, "key", data.Key)
	output, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt)
	if err != nil {
		return nil, classifyModelError(err)
	}
	if strings.TrimSpace(output) == "" {
		return nil, &core.ClassifiedError{Kind: core.ErrorUnavailable, Message: "model returned an empty response"}
	}

	return encodeResult(kind, data, output)
}

func decodePromptData(payload json.RawMessage) (*promptData, error) {
	var raw struct {
		Key              string          `json:"key"`
		Summary          string          `json:"summary"`
		Description      string          `json:"description"`
		Status           string          `json:"status"`
		Priority         string          `json:"priority"`
		Labels           []string        `json:"labels"`
		Comments         []string        `json:"comments"`
		Message          string          `json:"message"`
		Context          json.RawMessage `json:"context"`
		RelatedIncidents json.RawMessage `json:"related_incidents"`
		FetchedDocument  json.RawMessage `json:"fetched_document"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed task payload: %w", err)
	}

	return &promptData{
		Key:              raw.Key,
		Summary:          raw.Summary,
		Description:      raw.Description,
		Status:           raw.Status,
		Priority:         raw.Priority,
		Labels:           raw.Labels,
		Comments:         raw.Comments,
		Message:          raw.Message,
		Context:          string(raw.Context),
		RelatedIncidents: string(raw.RelatedIncidents),
		FetchedDocument:  string(raw.FetchedDocument),
	}, nil
}

func validateInput(kind core.TaskKind, data *promptData) error {
	switch kind {
	case core.KindChat:
		if data.Message == "" {
			return errors.New("chat payload requires a message")
		}
	case core.KindSummarize, core.KindTriage, core.KindRCA:
		if data.Key == "" {
			return fmt.Errorf("%s payload requires a key", kind)
		}
		if data.Summary == "" {
			return fmt.Errorf("%s payload requires a summary", kind)
		}
	default:
		return fmt.Errorf("unsupported task kind %q", kind)
	}
	return nil
}

func encodeResult(kind core.TaskKind, data *promptData, output string) (json.RawMessage, error) {
	processedAt := time.Now().UTC().Format(time.RFC3339)

	var result any
	switch kind {
	case core.KindSummarize:
		result = map[string]string{
			"incident_key": data.Key,
			"summary":      output,
			"processed_at": processedAt,
		}
	case core.KindTriage:
		result = map[string]string{
			"ticket_key":   data.Key,
			"analysis":     output,
			"processed_at": processedAt,
		}
	case core.KindRCA:
		result = map[string]string{
			"incident_key": data.Key,
			"analysis":     output,
			"processed_at": processedAt,
		}
	case core.KindChat:
		result = map[string]string{
			"response":     output,
			"processed_at": processedAt,
		}
	default:
		return nil, &core.ClassifiedError{Kind: core.ErrorInvalid, Message: fmt.Sprintf("unsupported task kind %q", kind)}
	}
	return json.Marshal(result)
}

// classifyModelError maps provider failures onto the retry taxonomy: timeouts
// and rate limits are transient, rejected input is permanent, and anything
// else counts as the provider being unavailable.
func classifyModelError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.ClassifiedError{Kind: core.ErrorTimeout, Message: err.Error()}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return &core.ClassifiedError{Kind: core.ErrorRateLimited, Message: err.Error()}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return &core.ClassifiedError{Kind: core.ErrorTimeout, Message: err.Error()}
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "bad request") || strings.Contains(msg, "400"):
		return &core.ClassifiedError{Kind: core.ErrorInvalid, Message: err.Error()}
	default:
		return &core.ClassifiedError{Kind: core.ErrorUnavailable, Message: err.Error()}
	}
}
