package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yushao2/sre-agent/internal/core"
)

// memoryStore is an in-process ResultStore used by tests and single-node
// development runs. It enforces the same claim/transition protocol as the
// Postgres store.
type memoryStore struct {
	mu    sync.Mutex
	tasks map[string]*core.Task
}

// NewMemoryStore creates an empty in-memory result store.
func NewMemoryStore() core.ResultStore {
	return &memoryStore{tasks: make(map[string]*core.Task)}
}

func (m *memoryStore) CreatePending(_ context.Context, task *core.Task) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[task.ID]; exists {
		return false, nil
	}

	now := time.Now().UTC()
	rec := cloneTask(task)
	rec.State = core.StatePending
	rec.Attempt = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.tasks[task.ID] = rec
	return true, nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*core.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneTask(rec), nil
}

func (m *memoryStore) Claim(_ context.Context, id string, lease time.Duration) (*core.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	if !ok {
		return nil, false, core.ErrNotFound
	}

	now := time.Now().UTC()
	switch {
	case rec.State == core.StatePending:
	case rec.State == core.StateRunning && lease > 0 && now.Sub(rec.UpdatedAt) >= lease:
		// Abandoned by a worker that died mid-claim.
	default:
		return nil, false, nil
	}

	rec.State = core.StateRunning
	rec.Attempt++
	rec.UpdatedAt = now
	return cloneTask(rec), true, nil
}

func (m *memoryStore) Complete(_ context.Context, id string, result json.RawMessage) error {
	return m.transition(id, core.StateRunning, func(rec *core.Task) {
		rec.State = core.StateCompleted
		rec.Result = append(json.RawMessage(nil), result...)
		rec.Error = nil
	})
}

func (m *memoryStore) Fail(_ context.Context, id string, taskErr core.TaskError) error {
	return m.transition(id, core.StateRunning, func(rec *core.Task) {
		rec.State = core.StateFailed
		rec.Error = &core.TaskError{Kind: taskErr.Kind, Message: taskErr.Message}
		rec.Result = nil
	})
}

func (m *memoryStore) Release(_ context.Context, id string) error {
	return m.transition(id, core.StateRunning, func(rec *core.Task) {
		rec.State = core.StatePending
	})
}

func (m *memoryStore) ResetForRetry(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	if !ok {
		return false, core.ErrNotFound
	}
	if rec.State != core.StateFailed {
		return false, nil
	}

	rec.State = core.StatePending
	rec.Attempt = 0
	rec.Error = nil
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memoryStore) Counts(_ context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending, completed int
	for _, rec := range m.tasks {
		switch rec.State {
		case core.StatePending:
			pending++
		case core.StateCompleted:
			completed++
		}
	}
	return pending, completed, nil
}

func (m *memoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, rec := range m.tasks {
		if rec.State.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memoryStore) Ping(_ context.Context) error {
	return nil
}

func (m *memoryStore) transition(id string, from core.TaskState, apply func(*core.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	if !ok {
		return core.ErrNotFound
	}
	if rec.State != from {
		return &invalidTransitionError{ID: id, From: rec.State}
	}
	apply(rec)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneTask(t *core.Task) *core.Task {
	cp := *t
	cp.Payload = append(json.RawMessage(nil), t.Payload...)
	if t.Result != nil {
		cp.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	return &cp
}
