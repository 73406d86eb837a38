package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IngestRequest is a normalized webhook event ready for submission to the
// dispatch gateway.
type IngestRequest struct {
	Kind    TaskKind
	Payload json.RawMessage
}

// ErrEventIgnored marks a well-formed event the service deliberately does not
// act on (wrong event type, non-incident issue update, and so on). Handlers
// acknowledge these without creating a task.
type ErrEventIgnored struct {
	Reason string
}

func (e *ErrEventIgnored) Error() string {
	return "event ignored: " + e.Reason
}

type jiraWebhook struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string   `json:"summary"`
			Description string   `json:"description"`
			Labels      []string `json:"labels"`
			IssueType   struct {
				Name string `json:"name"`
			} `json:"issuetype"`
			Status struct {
				Name string `json:"name"`
			} `json:"status"`
			Priority struct {
				Name string `json:"name"`
			} `json:"priority"`
		} `json:"fields"`
	} `json:"issue"`
}

// incidentPayload is the payload shape shared by summarize/triage/rca tasks.
type incidentPayload struct {
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// IngestFromJira transforms a raw Jira webhook into a task submission. It
// acts as an anti-corruption layer: issue created/updated events for
// incidents become summarize tasks, other issues become triage tasks, and
// everything else is ignored.
func IngestFromJira(raw []byte) (*IngestRequest, error) {
	var hook jiraWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return nil, fmt.Errorf("malformed jira webhook: %w", err)
	}

	switch hook.WebhookEvent {
	case "jira:issue_created", "jira:issue_updated":
	default:
		return nil, &ErrEventIgnored{Reason: "unhandled jira event " + hook.WebhookEvent}
	}

	if hook.Issue.Key == "" {
		return nil, fmt.Errorf("jira webhook is missing the issue key")
	}
	if hook.Issue.Fields.Summary == "" {
		return nil, fmt.Errorf("jira webhook is missing the issue summary")
	}

	payload, err := json.Marshal(incidentPayload{
		Key:         hook.Issue.Key,
		Summary:     hook.Issue.Fields.Summary,
		Description: hook.Issue.Fields.Description,
		Status:      hook.Issue.Fields.Status.Name,
		Priority:    hook.Issue.Fields.Priority.Name,
		Labels:      hook.Issue.Fields.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding jira payload: %w", err)
	}

	kind := KindTriage
	if isIncident(hook.Issue.Key, hook.Issue.Fields.IssueType.Name, hook.Issue.Fields.Labels) {
		kind = KindSummarize
	}
	return &IngestRequest{Kind: kind, Payload: payload}, nil
}

func isIncident(key, issueType string, labels []string) bool {
	if strings.EqualFold(issueType, "incident") || strings.HasPrefix(key, "INC-") {
		return true
	}
	for _, l := range labels {
		if strings.EqualFold(l, "incident") {
			return true
		}
	}
	return false
}

type pagerDutyWebhook struct {
	Event struct {
		EventType string `json:"event_type"`
		Data      struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Urgency     string `json:"urgency"`
		} `json:"data"`
	} `json:"event"`
}

// IngestFromPagerDuty transforms a PagerDuty v3 webhook into a summarize
// task. Only incident.triggered events are acted on.
func IngestFromPagerDuty(raw []byte) (*IngestRequest, error) {
	var hook pagerDutyWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return nil, fmt.Errorf("malformed pagerduty webhook: %w", err)
	}

	if hook.Event.EventType != "incident.triggered" {
		return nil, &ErrEventIgnored{Reason: "unhandled pagerduty event " + hook.Event.EventType}
	}
	if hook.Event.Data.ID == "" {
		return nil, fmt.Errorf("pagerduty webhook is missing the incident id")
	}

	priority := hook.Event.Data.Urgency
	if priority == "" {
		priority = "high"
	}
	payload, err := json.Marshal(incidentPayload{
		Key:         hook.Event.Data.ID,
		Summary:     hook.Event.Data.Title,
		Description: hook.Event.Data.Description,
		Status:      "triggered",
		Priority:    priority,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding pagerduty payload: %w", err)
	}
	return &IngestRequest{Kind: KindSummarize, Payload: payload}, nil
}

type genericWebhook struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// IngestFromGeneric handles custom integrations posting {action, data}.
func IngestFromGeneric(raw []byte) (*IngestRequest, error) {
	var hook genericWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return nil, fmt.Errorf("malformed generic webhook: %w", err)
	}

	kind, err := ParseKind(hook.Action)
	if err != nil {
		return nil, err
	}
	if len(hook.Data) == 0 {
		return nil, fmt.Errorf("generic webhook is missing the data field")
	}
	return &IngestRequest{Kind: kind, Payload: hook.Data}, nil
}
