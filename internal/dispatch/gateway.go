// Package dispatch implements the task gateway: idempotent submission of
// work onto the broker queue and status lookup against the result store.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yushao2/sre-agent/internal/core"
	"github.com/yushao2/sre-agent/internal/metrics"
)

const syncPollInterval = 50 * time.Millisecond

// Gateway accepts task submissions, deduplicates them against in-flight and
// completed work, and enqueues envelopes for the worker pool.
type Gateway struct {
	store   core.ResultStore
	broker  core.Broker
	metrics *metrics.Metrics
	logger  *slog.Logger

	// syncTimeout bounds how long a sync-mode Submit blocks before handing
	// the caller back a pending handle to poll.
	syncTimeout time.Duration
}

// NewGateway creates a dispatch gateway over the given store and broker.
func NewGateway(store core.ResultStore, broker core.Broker, m *metrics.Metrics, syncTimeout time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		store:       store,
		broker:      broker,
		metrics:     m,
		syncTimeout: syncTimeout,
		logger:      logger,
	}
}

// Submit registers a task for the given request and enqueues it. Submitting
// the same (kind, payload) twice resolves to the same task id without a
// second execution. With sync set, Submit additionally waits (bounded) for a
// terminal state and returns the finished record; on timeout the pending
// handle is returned and the caller polls via GetStatus.
func (g *Gateway) Submit(ctx context.Context, kind core.TaskKind, payload json.RawMessage, sync bool) (*core.Task, error) {
	id := core.DeriveTaskID(kind, payload)

	task, err := g.resolve(ctx, id, kind, payload)
	if err != nil {
		return nil, err
	}

	if sync && !task.State.Terminal() {
		return g.waitForOutcome(ctx, id, task)
	}
	return task, nil
}

// resolve returns the existing record for id or creates and enqueues a new
// pending one. A failed-terminal record is re-dispatched as an explicit
// retry with a fresh attempt budget.
func (g *Gateway) resolve(ctx context.Context, id string, kind core.TaskKind, payload json.RawMessage) (*core.Task, error) {
	existing, err := g.store.Get(ctx, id)
	switch {
	case err == nil:
		if existing.State != core.StateFailed {
			g.logger.Debug("duplicate submission resolved to existing task", "task_id", id, "state", existing.State)
			return existing, nil
		}
		return g.redispatch(ctx, id, existing)
	case errors.Is(err, core.ErrNotFound):
		return g.create(ctx, id, kind, payload)
	default:
		g.logger.Error("result store unreachable during submit", "task_id", id, "error", err)
		return nil, fmt.Errorf("%w: result store: %v", core.ErrUnavailable, err)
	}
}

func (g *Gateway) create(ctx context.Context, id string, kind core.TaskKind, payload json.RawMessage) (*core.Task, error) {
	task := &core.Task{ID: id, Kind: kind, Payload: payload}
	created, err := g.store.CreatePending(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("%w: result store: %v", core.ErrUnavailable, err)
	}
	if !created {
		// Lost a race with a concurrent identical submission.
		return g.store.Get(ctx, id)
	}

	env := core.Envelope{ID: id, Kind: kind, Payload: payload}
	if err := g.broker.Enqueue(ctx, env); err != nil {
		// Roll the record back so the caller's retry starts clean.
		if delErr := g.store.Delete(ctx, id); delErr != nil {
			g.logger.Error("failed to roll back task record after enqueue failure", "task_id", id, "error", delErr)
		}
		g.logger.Error("broker unreachable during submit", "task_id", id, "error", err)
		return nil, fmt.Errorf("%w: broker: %v", core.ErrUnavailable, err)
	}

	g.metrics.TasksSubmitted.WithLabelValues(string(kind)).Inc()
	g.logger.Info("task submitted", "task_id", id, "kind", kind)
	return g.store.Get(ctx, id)
}

func (g *Gateway) redispatch(ctx context.Context, id string, failed *core.Task) (*core.Task, error) {
	reset, err := g.store.ResetForRetry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: result store: %v", core.ErrUnavailable, err)
	}
	if !reset {
		// Another submission reset it first; fall through to its record.
		return g.store.Get(ctx, id)
	}

	env := core.Envelope{ID: id, Kind: failed.Kind, Payload: failed.Payload}
	if err := g.broker.Enqueue(ctx, env); err != nil {
		g.logger.Error("broker unreachable during redispatch", "task_id", id, "error", err)
		return nil, fmt.Errorf("%w: broker: %v", core.ErrUnavailable, err)
	}

	g.metrics.TasksSubmitted.WithLabelValues(string(failed.Kind)).Inc()
	g.logger.Info("failed task re-dispatched", "task_id", id, "kind", failed.Kind)
	return g.store.Get(ctx, id)
}

// GetStatus reports the current record for id, or core.ErrNotFound when the
// id is unknown or the record aged out of retention.
func (g *Gateway) GetStatus(ctx context.Context, id string) (*core.Task, error) {
	return g.store.Get(ctx, id)
}

// waitForOutcome polls the result store until the task reaches a terminal
// state or the sync timeout elapses. Abandoning the wait has no effect on
// the in-flight task.
func (g *Gateway) waitForOutcome(ctx context.Context, id string, pending *core.Task) (*core.Task, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.syncTimeout)
	defer cancel()

	ticker := time.NewTicker(syncPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			// Timed out waiting; the caller keeps the async handle.
			return pending, nil
		case <-ticker.C:
			task, err := g.store.Get(waitCtx, id)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return nil, err
				}
				continue
			}
			if task.State.Terminal() {
				return task, nil
			}
			pending = task
		}
	}
}
