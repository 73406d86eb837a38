package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yushao2/sre-agent/internal/core"
)

// natsBroker implements core.Broker on a JetStream work queue. The consumer
// ack wait acts as the visibility timeout, and Nack maps onto NakWithDelay,
// so the retry backoff is honored by the server even if this process dies.
type natsBroker struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	sub     *nats.Subscription
	subject string
	logger  *slog.Logger
}

// NATSOptions configures the JetStream broker.
type NATSOptions struct {
	URL               string
	Stream            string
	Subject           string
	Durable           string
	VisibilityTimeout time.Duration
}

// NewNATSBroker connects to NATS, ensures the stream exists, and binds a
// durable pull consumer for the worker pool.
func NewNATSBroker(opts NATSOptions, logger *slog.Logger) (core.Broker, error) {
	nc, err := nats.Connect(opts.URL,
		nats.Name("sre-agent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", opts.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      opts.Stream,
		Subjects:  []string{opts.Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", opts.Stream, err)
	}

	sub, err := js.PullSubscribe(opts.Subject, opts.Durable,
		nats.AckExplicit(),
		nats.AckWait(opts.VisibilityTimeout),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create pull consumer %s: %w", opts.Durable, err)
	}

	logger.Info("connected to NATS broker",
		"url", opts.URL,
		"stream", opts.Stream,
		"durable", opts.Durable,
	)
	return &natsBroker{
		nc:      nc,
		js:      js,
		sub:     sub,
		subject: opts.Subject,
		logger:  logger,
	}, nil
}

func (b *natsBroker) Enqueue(ctx context.Context, env core.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	// No MsgId: the stream's duplicate window would swallow a legitimate
	// re-enqueue of a failed task that is retried within the window. The
	// result store's CreatePending is the authoritative dedup.
	_, err = b.js.Publish(b.subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}

func (b *natsBroker) Dequeue(ctx context.Context) (core.Delivery, error) {
	for {
		msgs, err := b.sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return nil, fmt.Errorf("failed to fetch from queue: %w", err)
		}
		if len(msgs) == 0 {
			continue
		}

		msg := msgs[0]
		var env core.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			// A broken envelope can never execute; drop it for good.
			b.logger.Error("discarding undecodable envelope", "error", err)
			_ = msg.Term()
			continue
		}
		return &natsDelivery{msg: msg, env: env}, nil
	}
}

func (b *natsBroker) Ping(_ context.Context) error {
	if !b.nc.IsConnected() {
		return errors.New("nats connection is down")
	}
	return nil
}

func (b *natsBroker) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

type natsDelivery struct {
	msg *nats.Msg
	env core.Envelope
}

func (d *natsDelivery) Envelope() core.Envelope {
	return d.env
}

func (d *natsDelivery) Ack() error {
	return d.msg.Ack()
}

func (d *natsDelivery) Nack(delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}
