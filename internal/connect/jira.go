// Package connect provides read-only connectors to external systems. The
// connectors only fetch; they never write back to the upstream system.
package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/yushao2/sre-agent/internal/core"
)

const maxResponseBytes = 1 << 20 // issues past 1MB are truncated, not fetched

// jiraFetcher reads issues from a Jira instance over its REST API using
// basic auth.
type jiraFetcher struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewJiraFetcher creates a read-only Jira connector.
func NewJiraFetcher(baseURL, username, apiToken string, logger *slog.Logger) core.Fetcher {
	return &jiraFetcher{
		baseURL:  baseURL,
		username: username,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		Priority struct {
			Name string `json:"name"`
		} `json:"priority"`
	} `json:"fields"`
}

// Fetch retrieves one issue by key, for example "INC-123".
func (f *jiraFetcher) Fetch(ctx context.Context, ref string) (*core.Document, error) {
	if ref == "" {
		return nil, fmt.Errorf("issue reference cannot be empty")
	}

	endpoint := fmt.Sprintf("%s/rest/api/2/issue/%s", f.baseURL, url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build jira request: %w", err)
	}
	req.SetBasicAuth(f.username, f.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira request for %s failed: %w", ref, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jira returned status %d for issue %s", resp.StatusCode, ref)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read jira response for %s: %w", ref, err)
	}

	var issue jiraIssue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("failed to decode jira issue %s: %w", ref, err)
	}

	f.logger.Debug("fetched jira issue", "ref", ref)
	return &core.Document{
		Ref:   ref,
		Title: issue.Fields.Summary,
		Body:  issue.Fields.Description,
		Fields: map[string]string{
			"status":   issue.Fields.Status.Name,
			"priority": issue.Fields.Priority.Name,
		},
	}, nil
}
