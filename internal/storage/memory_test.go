package storage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yushao2/sre-agent/internal/core"
)

func newTestTask(id string) *core.Task {
	return &core.Task{
		ID:      id,
		Kind:    core.KindSummarize,
		Payload: json.RawMessage(`{"key":"INC-1","summary":"db down"}`),
	}
}

func TestMemoryStore_CreatePending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.CreatePending(ctx, newTestTask("t1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.CreatePending(ctx, newTestTask("t1"))
	require.NoError(t, err)
	assert.False(t, created, "duplicate id must not create a second record")

	rec, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.StatePending, rec.State)
	assert.Equal(t, 0, rec.Attempt)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStore_Claim(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreatePending(ctx, newTestTask("t1"))
	require.NoError(t, err)

	rec, ok, err := store.Claim(ctx, "t1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.StateRunning, rec.State)
	assert.Equal(t, 1, rec.Attempt)

	_, ok, err = store.Claim(ctx, "t1", 0)
	require.NoError(t, err)
	assert.False(t, ok, "a running task must not be claimable")

	_, _, err = store.Claim(ctx, "missing", 0)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStore_Claim_ReclaimsStaleRunning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreatePending(ctx, newTestTask("t1"))
	require.NoError(t, err)

	const lease = 20 * time.Millisecond

	_, ok, err := store.Claim(ctx, "t1", lease)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.Claim(ctx, "t1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a live claim must be honored")

	time.Sleep(2 * lease)

	rec, ok, err := store.Claim(ctx, "t1", lease)
	require.NoError(t, err)
	require.True(t, ok, "a running record past its lease is reclaimable")
	assert.Equal(t, core.StateRunning, rec.State)
	assert.Equal(t, 2, rec.Attempt)

	// lease 0 disables reclaim entirely.
	time.Sleep(2 * lease)
	_, ok, err = store.Claim(ctx, "t1", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_Claim_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreatePending(ctx, newTestTask("t1"))
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Claim(ctx, "t1", 0)
			if err == nil && ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims, "exactly one worker may claim a pending task")
}

func TestMemoryStore_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("complete", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.CreatePending(ctx, newTestTask("t1"))
		require.NoError(t, err)
		_, _, err = store.Claim(ctx, "t1", 0)
		require.NoError(t, err)

		require.NoError(t, store.Complete(ctx, "t1", json.RawMessage(`{"summary":"done"}`)))

		rec, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, core.StateCompleted, rec.State)
		assert.JSONEq(t, `{"summary":"done"}`, string(rec.Result))
		assert.Nil(t, rec.Error)
	})

	t.Run("fail", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.CreatePending(ctx, newTestTask("t1"))
		require.NoError(t, err)
		_, _, err = store.Claim(ctx, "t1", 0)
		require.NoError(t, err)

		require.NoError(t, store.Fail(ctx, "t1", core.TaskError{Kind: core.FailurePermanent, Message: "bad input"}))

		rec, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, core.StateFailed, rec.State)
		require.NotNil(t, rec.Error)
		assert.Equal(t, core.FailurePermanent, rec.Error.Kind)
	})

	t.Run("release makes the task claimable again", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.CreatePending(ctx, newTestTask("t1"))
		require.NoError(t, err)
		_, _, err = store.Claim(ctx, "t1", 0)
		require.NoError(t, err)

		require.NoError(t, store.Release(ctx, "t1"))

		rec, ok, err := store.Claim(ctx, "t1", 0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 2, rec.Attempt, "attempt counts claims, not releases")
	})

	t.Run("complete without a claim is rejected", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.CreatePending(ctx, newTestTask("t1"))
		require.NoError(t, err)

		err = store.Complete(ctx, "t1", json.RawMessage(`{}`))
		require.Error(t, err)

		var invalid *invalidTransitionError
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestMemoryStore_ResetForRetry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreatePending(ctx, newTestTask("t1"))
	require.NoError(t, err)
	_, _, err = store.Claim(ctx, "t1", 0)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, "t1", core.TaskError{Kind: core.FailureTransient, Message: "timeout"}))

	ok, err := store.ResetForRetry(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.StatePending, rec.State)
	assert.Equal(t, 0, rec.Attempt)
	assert.Nil(t, rec.Error)

	ok, err = store.ResetForRetry(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok, "only failed tasks can be reset")
}

func TestMemoryStore_Counts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.CreatePending(ctx, newTestTask(id))
		require.NoError(t, err)
	}
	_, _, err := store.Claim(ctx, "a", 0)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "a", json.RawMessage(`{}`)))

	pending, completed, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
	assert.Equal(t, 1, completed)
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.CreatePending(ctx, newTestTask("old"))
	require.NoError(t, err)
	_, _, err = store.Claim(ctx, "old", 0)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "old", json.RawMessage(`{}`)))

	_, err = store.CreatePending(ctx, newTestTask("still-pending"))
	require.NoError(t, err)

	removed, err := store.DeleteExpired(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed, "only terminal records are swept")

	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Get(ctx, "still-pending")
	assert.NoError(t, err)
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreatePending(ctx, newTestTask("t1"))
	require.NoError(t, err)

	rec, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	rec.State = core.StateCompleted
	rec.Payload[0] = 'X'

	fresh, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, core.StatePending, fresh.State)
	assert.JSONEq(t, `{"key":"INC-1","summary":"db down"}`, string(fresh.Payload))
}
