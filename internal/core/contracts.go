package core

import (
	"context"
	"encoding/json"
	"time"
)

// ResultStore is the single source of truth for task state. All mutation of a
// task record funnels through the claim/transition protocol; correctness does
// not depend on queue delivery order.
type ResultStore interface {
	// CreatePending inserts a new pending record. It reports false if a
	// record with the same id already exists (idempotent submission).
	CreatePending(ctx context.Context, task *Task) (bool, error)

	// Get returns the current record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// Claim atomically transitions pending -> running and increments the
	// attempt counter. A running record whose last update is older than
	// lease is treated as abandoned by a dead worker and is reclaimable the
	// same way. Claim reports false when another worker holds a live claim
	// or the task already finished.
	Claim(ctx context.Context, id string, lease time.Duration) (*Task, bool, error)

	// Complete transitions running -> completed and stores the result.
	Complete(ctx context.Context, id string, result json.RawMessage) error

	// Fail transitions running -> failed and stores the classified error.
	Fail(ctx context.Context, id string, taskErr TaskError) error

	// Release transitions running -> pending so a retry can be claimed.
	Release(ctx context.Context, id string) error

	// ResetForRetry transitions failed -> pending with a zeroed attempt
	// counter. It reports false if the task was not in the failed state.
	ResetForRetry(ctx context.Context, id string) (bool, error)

	// Delete removes a record unconditionally. Used to roll back a pending
	// record whose envelope could not be enqueued.
	Delete(ctx context.Context, id string) error

	// Counts returns the number of pending and completed tasks.
	Counts(ctx context.Context) (pending, completed int, err error)

	// DeleteExpired removes terminal records last updated before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies connectivity for health reporting.
	Ping(ctx context.Context) error
}

// Delivery is one received envelope together with its acknowledgement
// handle. An unacknowledged delivery is redelivered after the broker's
// visibility timeout.
type Delivery interface {
	Envelope() Envelope

	// Ack marks the envelope as handled; it will not be redelivered.
	Ack() error

	// Nack schedules redelivery after the given delay.
	Nack(delay time.Duration) error
}

// Broker is an at-least-once delivery channel carrying task envelopes from
// producers to workers.
type Broker interface {
	Enqueue(ctx context.Context, env Envelope) error

	// Dequeue blocks until an envelope arrives or ctx is cancelled.
	Dequeue(ctx context.Context) (Delivery, error)

	Ping(ctx context.Context) error
	Close() error
}

// Inferencer is the opaque language-model collaborator. Failures carry a
// ClassifiedError so the worker can apply the retry policy.
type Inferencer interface {
	Infer(ctx context.Context, kind TaskKind, payload json.RawMessage) (json.RawMessage, error)
}

// Incident is an entry in the incident knowledge base.
type Incident struct {
	Key        string `json:"key"`
	Summary    string `json:"summary"`
	Resolution string `json:"resolution,omitempty"`
}

// IncidentMatch is a similarity-search hit from the knowledge base.
type IncidentMatch struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}

// KnowledgeBase stores past incidents for similarity search. It is a
// best-effort collaborator: a search failure never blocks a task outcome.
type KnowledgeBase interface {
	AddIncident(ctx context.Context, inc Incident) error
	Search(ctx context.Context, query string, k int) ([]IncidentMatch, error)
}

// Document is a read-only record fetched from an external system.
type Document struct {
	Ref    string            `json:"ref"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Fetcher reads a referenced document from an external connector. A fetch
// failure surfaces as a permanent task failure.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*Document, error)
}
