package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yushao2/sre-agent/internal/core"
	"github.com/yushao2/sre-agent/internal/metrics"
	"github.com/yushao2/sre-agent/internal/queue"
	"github.com/yushao2/sre-agent/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, syncTimeout time.Duration) (*Gateway, core.ResultStore, core.Broker) {
	t.Helper()
	store := storage.NewMemoryStore()
	broker := queue.NewMemoryBroker(time.Minute, testLogger())
	t.Cleanup(func() { _ = broker.Close() })

	m := metrics.New(prometheus.NewRegistry())
	return NewGateway(store, broker, m, syncTimeout, testLogger()), store, broker
}

// failingBroker rejects every enqueue, simulating a broker outage.
type failingBroker struct{}

func (f *failingBroker) Enqueue(context.Context, core.Envelope) error {
	return errors.New("connection refused")
}
func (f *failingBroker) Dequeue(ctx context.Context) (core.Delivery, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (f *failingBroker) Ping(context.Context) error { return errors.New("connection refused") }
func (f *failingBroker) Close() error               { return nil }

func TestGateway_Submit_Async(t *testing.T) {
	g, _, broker := newTestGateway(t, time.Second)

	task, err := g.Submit(context.Background(), core.KindTriage, json.RawMessage(`{"key":"PROJ-1","summary":"slow"}`), false)
	require.NoError(t, err)
	assert.Equal(t, core.StatePending, task.State)
	assert.NotEmpty(t, task.ID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Envelope().ID)
	require.NoError(t, d.Ack())
}

func TestGateway_Submit_Idempotent(t *testing.T) {
	g, _, broker := newTestGateway(t, time.Second)
	payload := json.RawMessage(`{"key":"INC-1","summary":"db down"}`)

	first, err := g.Submit(context.Background(), core.KindSummarize, payload, false)
	require.NoError(t, err)
	second, err := g.Submit(context.Background(), core.KindSummarize, payload, false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Only the first submission reached the queue.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	d, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Ack())

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = broker.Dequeue(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateway_Submit_ConcurrentDuplicates(t *testing.T) {
	g, _, _ := newTestGateway(t, time.Second)
	payload := json.RawMessage(`{"key":"INC-2","summary":"cache stampede"}`)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := g.Submit(context.Background(), core.KindSummarize, payload, false)
			if err == nil {
				ids[i] = task.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id, "all duplicate submissions resolve to one task")
	}
}

func TestGateway_Submit_Sync(t *testing.T) {
	t.Run("returns the terminal record once a worker finishes", func(t *testing.T) {
		g, store, _ := newTestGateway(t, 2*time.Second)
		payload := json.RawMessage(`{"key":"INC-3","summary":"oom loop"}`)
		id := core.DeriveTaskID(core.KindSummarize, payload)

		go func() {
			time.Sleep(100 * time.Millisecond)
			ctx := context.Background()
			if _, ok, err := store.Claim(ctx, id, 0); err != nil || !ok {
				return
			}
			_ = store.Complete(ctx, id, json.RawMessage(`{"summary":"done"}`))
		}()

		task, err := g.Submit(context.Background(), core.KindSummarize, payload, true)
		require.NoError(t, err)
		assert.Equal(t, core.StateCompleted, task.State)
		assert.JSONEq(t, `{"summary":"done"}`, string(task.Result))
	})

	t.Run("hands back a pending handle on timeout", func(t *testing.T) {
		g, _, _ := newTestGateway(t, 120*time.Millisecond)
		payload := json.RawMessage(`{"key":"INC-4","summary":"never finishes"}`)

		start := time.Now()
		task, err := g.Submit(context.Background(), core.KindSummarize, payload, true)
		require.NoError(t, err)
		assert.Equal(t, core.StatePending, task.State)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestGateway_Submit_BrokerDown(t *testing.T) {
	store := storage.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	g := NewGateway(store, &failingBroker{}, m, time.Second, testLogger())
	payload := json.RawMessage(`{"key":"INC-5","summary":"unreachable"}`)

	_, err := g.Submit(context.Background(), core.KindSummarize, payload, false)
	require.ErrorIs(t, err, core.ErrUnavailable)

	// The pending record was rolled back, so a later submission starts clean.
	id := core.DeriveTaskID(core.KindSummarize, payload)
	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestGateway_Submit_RedispatchesFailedTask(t *testing.T) {
	g, store, broker := newTestGateway(t, time.Second)
	payload := json.RawMessage(`{"key":"INC-6","summary":"flaky dep"}`)

	first, err := g.Submit(context.Background(), core.KindSummarize, payload, false)
	require.NoError(t, err)

	ctx := context.Background()
	d, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Ack())

	_, ok, err := store.Claim(ctx, first.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Fail(ctx, first.ID, core.TaskError{Kind: core.FailureTransient, Message: "timeout"}))

	resub, err := g.Submit(ctx, core.KindSummarize, payload, false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, resub.ID)
	assert.Equal(t, core.StatePending, resub.State)
	assert.Equal(t, 0, resub.Attempt, "explicit retry starts with a fresh attempt budget")

	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	d, err = broker.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, d.Envelope().ID)
	require.NoError(t, d.Ack())
}

func TestGateway_GetStatus(t *testing.T) {
	g, _, _ := newTestGateway(t, time.Second)

	_, err := g.GetStatus(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, core.ErrNotFound)

	task, err := g.Submit(context.Background(), core.KindChat, json.RawMessage(`{"message":"what broke?"}`), false)
	require.NoError(t, err)

	got, err := g.GetStatus(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
}
