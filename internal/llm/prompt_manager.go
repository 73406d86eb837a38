// Package llm implements the inference collaborator: prompt construction per
// task kind and the provider-backed model call, with failures classified for
// the worker's retry policy.
package llm

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/yushao2/sre-agent/internal/core"
)

//go:embed prompts/*.prompt
var promptFiles embed.FS

// ModelProvider selects a provider-specific prompt variant.
type ModelProvider string

// DefaultProvider is used when no provider-specific prompt exists.
const DefaultProvider ModelProvider = "default"

// PromptManager loads and renders the embedded prompt templates. Prompt
// files are named "<kind>_<provider>.prompt".
type PromptManager struct {
	prompts map[core.TaskKind]map[ModelProvider]*template.Template
}

// NewPromptManager parses all embedded prompt templates.
func NewPromptManager() (*PromptManager, error) {
	pm := &PromptManager{
		prompts: make(map[core.TaskKind]map[ModelProvider]*template.Template),
	}

	files, err := promptFiles.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		fileName := file.Name()
		baseName := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		lastUnderscore := strings.LastIndex(baseName, "_")
		if lastUnderscore <= 0 || lastUnderscore == len(baseName)-1 {
			return nil, fmt.Errorf("invalid prompt filename format: %s (expected 'kind_provider.prompt')", fileName)
		}

		kind, err := core.ParseKind(baseName[:lastUnderscore])
		if err != nil {
			return nil, fmt.Errorf("prompt file %s: %w", fileName, err)
		}
		provider := ModelProvider(baseName[lastUnderscore+1:])

		content, err := promptFiles.ReadFile("prompts/" + fileName)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded prompt file %s: %w", fileName, err)
		}

		if err := pm.register(kind, provider, string(content)); err != nil {
			return nil, fmt.Errorf("failed to register prompt from file %s: %w", fileName, err)
		}
	}

	for _, kind := range []core.TaskKind{core.KindSummarize, core.KindTriage, core.KindRCA, core.KindChat} {
		if _, ok := pm.prompts[kind]; !ok {
			return nil, fmt.Errorf("no prompt template embedded for task kind %q", kind)
		}
	}
	return pm, nil
}

func (pm *PromptManager) register(kind core.TaskKind, provider ModelProvider, content string) error {
	tmpl, err := template.New(string(kind) + "_" + string(provider)).Parse(content)
	if err != nil {
		return fmt.Errorf("could not parse template: %w", err)
	}

	if _, ok := pm.prompts[kind]; !ok {
		pm.prompts[kind] = make(map[ModelProvider]*template.Template)
	}
	pm.prompts[kind][provider] = tmpl
	return nil
}

// Render produces the prompt for a task kind, falling back to the default
// provider variant when no provider-specific one exists.
func (pm *PromptManager) Render(kind core.TaskKind, provider ModelProvider, data any) (string, error) {
	variants, ok := pm.prompts[kind]
	if !ok {
		return "", fmt.Errorf("no prompt registered for task kind %q", kind)
	}

	tmpl, ok := variants[provider]
	if !ok {
		tmpl, ok = variants[DefaultProvider]
		if !ok {
			return "", fmt.Errorf("no prompt registered for kind %q and provider %q", kind, provider)
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt for kind %q: %w", kind, err)
	}
	return buf.String(), nil
}
