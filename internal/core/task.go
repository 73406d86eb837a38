// Package core defines the essential data structures and interfaces that form
// the backbone of the triage service: tasks, envelopes, error classification,
// and the contracts between the dispatch gateway, broker, and workers.
package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// TaskKind identifies the type of work a task performs.
type TaskKind string

const (
	KindSummarize TaskKind = "summarize"
	KindTriage    TaskKind = "triage"
	KindRCA       TaskKind = "rca"
	KindChat      TaskKind = "chat"
)

// ParseKind validates a raw kind string from an API request or webhook.
func ParseKind(s string) (TaskKind, error) {
	switch TaskKind(s) {
	case KindSummarize, KindTriage, KindRCA, KindChat:
		return TaskKind(s), nil
	default:
		return "", fmt.Errorf("unknown task kind: %q", s)
	}
}

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
)

// Terminal reports whether no further state transitions may occur.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Task is one logical unit of work tracked end-to-end by its identifier.
// The identifier is derived deterministically from the request content, so
// duplicate submissions collapse onto the same record.
type Task struct {
	ID        string          `json:"id"`
	Kind      TaskKind        `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	State     TaskState       `json:"state"`
	Attempt   int             `json:"attempt"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *TaskError      `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Envelope is the minimal wire representation carried on the broker queue.
// Workers still consult the result store before executing, because the queue
// only guarantees at-least-once delivery.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    TaskKind        `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// DeriveTaskID computes the stable task identifier for a logical request.
// The payload is compacted before hashing so formatting differences between
// otherwise identical submissions do not produce distinct ids.
func DeriveTaskID(kind TaskKind, payload json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		buf.Reset()
		buf.Write(payload)
	}

	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{':'})
	h.Write(buf.Bytes())
	return hex.EncodeToString(h.Sum(nil))[:32]
}
