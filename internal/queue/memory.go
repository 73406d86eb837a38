// Package queue provides the broker backends carrying task envelopes from
// producers to workers: an in-memory queue for tests and development, and a
// NATS JetStream queue for production. Both deliver at-least-once.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yushao2/sre-agent/internal/core"
)

// ErrClosed is returned by broker operations after Close.
var ErrClosed = errors.New("broker is closed")

const memoryQueueCapacity = 1024

// memoryBroker is a channel-backed broker. Each dequeued envelope is tracked
// until Ack or Nack; an envelope neither acked nor nacked within the
// visibility timeout is requeued, mirroring the redelivery behavior of the
// production queue.
type memoryBroker struct {
	mu         sync.Mutex
	ch         chan core.Envelope
	inflight   map[uint64]*time.Timer
	nextToken  uint64
	visibility time.Duration
	closed     bool
	logger     *slog.Logger
}

// NewMemoryBroker creates an in-memory broker with the given visibility
// timeout.
func NewMemoryBroker(visibility time.Duration, logger *slog.Logger) core.Broker {
	return &memoryBroker{
		ch:         make(chan core.Envelope, memoryQueueCapacity),
		inflight:   make(map[uint64]*time.Timer),
		visibility: visibility,
		logger:     logger,
	}
}

func (b *memoryBroker) Enqueue(_ context.Context, env core.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.ch <- env:
		return nil
	default:
		return errors.New("task queue is full, cannot accept new envelope")
	}
}

func (b *memoryBroker) Dequeue(ctx context.Context) (core.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case env, ok := <-b.ch:
		if !ok {
			return nil, ErrClosed
		}
		token := b.track(env)
		return &memoryDelivery{broker: b, env: env, token: token}, nil
	}
}

func (b *memoryBroker) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *memoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for token, timer := range b.inflight {
		timer.Stop()
		delete(b.inflight, token)
	}
	close(b.ch)
	return nil
}

// track registers a visibility timer that requeues the envelope if the
// worker never acknowledges it, for example because it crashed mid-task.
func (b *memoryBroker) track(env core.Envelope) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	token := b.nextToken
	b.inflight[token] = time.AfterFunc(b.visibility, func() {
		b.redeliver(token, env)
	})
	return token
}

func (b *memoryBroker) redeliver(token uint64, env core.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, tracked := b.inflight[token]; !tracked {
		return
	}
	delete(b.inflight, token)
	if b.closed {
		return
	}

	select {
	case b.ch <- env:
	default:
		b.logger.Warn("dropping redelivery, queue is full", "task_id", env.ID)
	}
}

// settle stops the visibility timer and reports whether the delivery was
// still tracked, which guards against a settle racing the timer.
func (b *memoryBroker) settle(token uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	timer, tracked := b.inflight[token]
	if !tracked {
		return false
	}
	timer.Stop()
	delete(b.inflight, token)
	return true
}

type memoryDelivery struct {
	broker *memoryBroker
	env    core.Envelope
	token  uint64
}

func (d *memoryDelivery) Envelope() core.Envelope {
	return d.env
}

func (d *memoryDelivery) Ack() error {
	d.broker.settle(d.token)
	return nil
}

func (d *memoryDelivery) Nack(delay time.Duration) error {
	if !d.broker.settle(d.token) {
		return nil
	}

	b := d.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.nextToken++
	token := b.nextToken
	b.inflight[token] = time.AfterFunc(delay, func() {
		b.redeliver(token, d.env)
	})
	return nil
}
