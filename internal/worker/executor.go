// Package worker implements the executor pool that pulls task envelopes from
// the broker, claims them through the result store, and drives each task
// through the retry state machine to a terminal state.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yushao2/sre-agent/internal/core"
	"github.com/yushao2/sre-agent/internal/metrics"
)

// redeliverDelay is used when a delivery cannot even be looked up in the
// result store; a short nack keeps the envelope circulating until the store
// comes back.
const redeliverDelay = 5 * time.Second

// Config controls the executor pool and its retry policy.
type Config struct {
	Slots        int
	MaxAttempts  int
	InferTimeout time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration

	// ClaimLease bounds how long a running claim is trusted. A record still
	// running past the lease belongs to a dead worker and is reclaimed on
	// the next delivery. Normally set to the broker's visibility timeout.
	ClaimLease time.Duration
}

// Executor runs a fixed number of worker slots, each processing exactly one
// envelope at a time. The slot count is the global cap on concurrent
// inference calls.
type Executor struct {
	cfg        Config
	store      core.ResultStore
	broker     core.Broker
	inferencer core.Inferencer
	knowledge  core.KnowledgeBase
	fetcher    core.Fetcher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewExecutor assembles an executor pool. The knowledge base and fetcher are
// optional enrichment collaborators and may be nil.
func NewExecutor(
	cfg Config,
	store core.ResultStore,
	broker core.Broker,
	inferencer core.Inferencer,
	knowledge core.KnowledgeBase,
	fetcher core.Fetcher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Executor {
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	return &Executor{
		cfg:        cfg,
		store:      store,
		broker:     broker,
		inferencer: inferencer,
		knowledge:  knowledge,
		fetcher:    fetcher,
		metrics:    m,
		logger:     logger,
	}
}

// Start launches the worker slots. They run until Stop is called or the
// parent context is cancelled.
func (e *Executor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for i := range e.cfg.Slots {
		e.wg.Add(1)
		go e.runSlot(runCtx, i)
	}
}

// Stop cancels the dequeue loops and waits for in-flight tasks to settle.
func (e *Executor) Stop() {
	e.logger.Info("stopping executor and waiting for in-flight tasks")
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("all worker slots have stopped")
}

func (e *Executor) runSlot(ctx context.Context, slotID int) {
	defer e.wg.Done()
	e.logger.Info("starting worker slot", "slot", slotID)

	for {
		delivery, err := e.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.logger.Info("shutting down worker slot", "slot", slotID)
				return
			}
			e.logger.Error("failed to dequeue envelope", "slot", slotID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(redeliverDelay):
			}
			continue
		}
		e.process(ctx, slotID, delivery)
	}
}

// process drives one delivered envelope through the state machine. The queue
// delivers at least once, so every step re-checks the result store before
// acting.
func (e *Executor) process(ctx context.Context, slotID int, delivery core.Delivery) {
	env := delivery.Envelope()
	log := e.logger.With("slot", slotID, "task_id", env.ID, "kind", env.Kind)

	task, err := e.store.Get(ctx, env.ID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Envelope outlived its record (expired or rolled back).
			log.Warn("discarding envelope without a task record")
			e.ack(log, delivery)
			return
		}
		log.Error("result store unreachable, requeueing", "error", err)
		e.nack(log, delivery, redeliverDelay)
		return
	}

	if task.State.Terminal() {
		log.Debug("discarding duplicate delivery of finished task", "state", task.State)
		e.ack(log, delivery)
		return
	}

	claimed, ok, err := e.store.Claim(ctx, env.ID, e.cfg.ClaimLease)
	if err != nil {
		log.Error("failed to claim task, requeueing", "error", err)
		e.nack(log, delivery, redeliverDelay)
		return
	}
	if !ok {
		// Another worker holds a live claim. Keep the envelope circulating:
		// if that worker finishes, the next delivery sees a terminal record
		// and is discarded; if it died, the lease expires and a later
		// delivery reclaims the task.
		log.Debug("task claimed elsewhere, requeueing delivery")
		e.nack(log, delivery, e.claimRetryDelay())
		return
	}

	log.Info("worker processing task", "attempt", claimed.Attempt)
	result, err := e.execute(ctx, claimed)
	if err == nil {
		e.finishCompleted(ctx, log, delivery, claimed, result)
		return
	}
	e.finishFailed(ctx, log, delivery, claimed, err)
}

func (e *Executor) finishCompleted(ctx context.Context, log *slog.Logger, delivery core.Delivery, task *core.Task, result json.RawMessage) {
	if err := e.store.Complete(ctx, task.ID, result); err != nil {
		// The record will be re-claimed on redelivery; better to run twice
		// than to lose the outcome.
		log.Error("failed to persist completed task, requeueing", "error", err)
		e.nack(log, delivery, redeliverDelay)
		return
	}
	e.metrics.TasksCompleted.WithLabelValues(string(task.Kind)).Inc()
	log.Info("task completed", "attempt", task.Attempt)

	if task.Kind == core.KindSummarize {
		e.recordIncident(ctx, log, task, result)
	}
	e.ack(log, delivery)
}

// recordIncident stores a summarized incident in the knowledge base so later
// root cause analyses can surface it as related context. Best effort; the
// task is already completed.
func (e *Executor) recordIncident(ctx context.Context, log *slog.Logger, task *core.Task, result json.RawMessage) {
	if e.knowledge == nil {
		return
	}

	var summarized struct {
		Key     string `json:"incident_key"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(result, &summarized); err != nil || summarized.Key == "" || summarized.Summary == "" {
		return
	}

	inc := core.Incident{Key: summarized.Key, Summary: summarized.Summary}
	if err := e.knowledge.AddIncident(ctx, inc); err != nil {
		log.Warn("failed to record incident in knowledge base", "error", err)
	}
}

func (e *Executor) finishFailed(ctx context.Context, log *slog.Logger, delivery core.Delivery, task *core.Task, taskErr error) {
	if !retryable(taskErr) {
		e.failTerminal(ctx, log, delivery, task, core.TaskError{
			Kind:    core.FailurePermanent,
			Message: taskErr.Error(),
		})
		return
	}

	if task.Attempt >= e.cfg.MaxAttempts {
		log.Warn("retry budget exhausted", "attempt", task.Attempt, "error", taskErr)
		e.failTerminal(ctx, log, delivery, task, core.TaskError{
			Kind:    core.FailureTransient,
			Message: taskErr.Error(),
		})
		return
	}

	if err := e.store.Release(ctx, task.ID); err != nil {
		log.Error("failed to release task for retry, requeueing", "error", err)
		e.nack(log, delivery, redeliverDelay)
		return
	}

	delay := Backoff(e.cfg.BackoffBase, e.cfg.BackoffCap, task.Attempt)
	e.metrics.TasksRetried.Inc()
	log.Warn("transient failure, retry scheduled",
		"attempt", task.Attempt,
		"delay", delay,
		"error", taskErr,
	)
	e.nack(log, delivery, delay)
}

func (e *Executor) failTerminal(ctx context.Context, log *slog.Logger, delivery core.Delivery, task *core.Task, taskErr core.TaskError) {
	if err := e.store.Fail(ctx, task.ID, taskErr); err != nil {
		log.Error("failed to persist failed task, requeueing", "error", err)
		e.nack(log, delivery, redeliverDelay)
		return
	}
	e.metrics.TasksFailed.WithLabelValues(string(task.Kind), string(taskErr.Kind)).Inc()
	log.Error("task failed terminally", "failure", taskErr.Kind, "reason", taskErr.Message)
	e.ack(log, delivery)
}

// execute runs enrichment and the bounded inference call for one claimed
// task.
func (e *Executor) execute(ctx context.Context, task *core.Task) (json.RawMessage, error) {
	switch task.Kind {
	case core.KindSummarize, core.KindTriage, core.KindRCA, core.KindChat:
	default:
		return nil, &core.ClassifiedError{
			Kind:    core.ErrorInvalid,
			Message: fmt.Sprintf("unsupported task kind %q", task.Kind),
		}
	}

	payload, err := e.enrich(ctx, task)
	if err != nil {
		return nil, err
	}

	inferCtx, cancel := context.WithTimeout(ctx, e.cfg.InferTimeout)
	defer cancel()

	start := time.Now()
	result, err := e.inferencer.Infer(inferCtx, task.Kind, payload)
	e.metrics.InferDuration.WithLabelValues(string(task.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &core.ClassifiedError{Kind: core.ErrorTimeout, Message: "inference call timed out"}
		}
		return nil, err
	}
	return result, nil
}

// enrich augments the payload before inference: an external reference is
// resolved through the read-only connector (a fetch failure is permanent),
// and RCA tasks get best-effort context from the incident knowledge base.
// The two lookups are independent remote calls and run concurrently.
func (e *Executor) enrich(ctx context.Context, task *core.Task) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(task.Payload, &fields); err != nil {
		return nil, &core.ClassifiedError{Kind: core.ErrorInvalid, Message: "payload is not a JSON object"}
	}

	var fetched, related json.RawMessage
	g, gctx := errgroup.WithContext(ctx)

	if rawRef, ok := fields["fetch_ref"]; ok && e.fetcher != nil {
		var ref string
		if err := json.Unmarshal(rawRef, &ref); err != nil || ref == "" {
			return nil, &core.ClassifiedError{Kind: core.ErrorInvalid, Message: "fetch_ref must be a non-empty string"}
		}
		g.Go(func() error {
			doc, err := e.fetcher.Fetch(gctx, ref)
			if err != nil {
				return &core.ClassifiedError{
					Kind:    core.ErrorInvalid,
					Message: fmt.Sprintf("connector fetch for %s failed: %v", ref, err),
				}
			}
			encoded, err := json.Marshal(doc)
			if err != nil {
				return &core.ClassifiedError{Kind: core.ErrorInvalid, Message: "failed to encode fetched document"}
			}
			fetched = encoded
			return nil
		})
	}

	if task.Kind == core.KindRCA && e.knowledge != nil {
		g.Go(func() error {
			related = e.searchRelated(gctx, fields)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if fetched == nil && related == nil {
		return task.Payload, nil
	}
	if fetched != nil {
		fields["fetched_document"] = fetched
	}
	if related != nil {
		fields["related_incidents"] = related
	}
	return json.Marshal(fields)
}

func (e *Executor) searchRelated(ctx context.Context, fields map[string]json.RawMessage) json.RawMessage {
	var query string
	if raw, ok := fields["summary"]; ok {
		_ = json.Unmarshal(raw, &query)
	}
	if query == "" {
		return nil
	}

	matches, err := e.knowledge.Search(ctx, query, 3)
	if err != nil {
		e.logger.Warn("knowledge base lookup failed, continuing without context", "error", err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	encoded, err := json.Marshal(matches)
	if err != nil {
		return nil
	}
	return encoded
}

// claimRetryDelay spaces out redeliveries of an envelope whose task is
// claimed by another worker.
func (e *Executor) claimRetryDelay() time.Duration {
	if e.cfg.ClaimLease > 0 && e.cfg.ClaimLease < redeliverDelay {
		return e.cfg.ClaimLease
	}
	return redeliverDelay
}

func (e *Executor) ack(log *slog.Logger, delivery core.Delivery) {
	if err := delivery.Ack(); err != nil {
		log.Error("failed to ack delivery", "error", err)
	}
}

func (e *Executor) nack(log *slog.Logger, delivery core.Delivery, delay time.Duration) {
	if err := delivery.Nack(delay); err != nil {
		log.Error("failed to nack delivery", "error", err)
	}
}

// retryable reports whether an execution error may be retried. Classified
// errors carry their own policy; anything unclassified is treated as
// transient so blips never become permanent verdicts.
func retryable(err error) bool {
	var classified *core.ClassifiedError
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return true
}

// Backoff returns the retry delay for the given attempt: base * 2^attempt,
// capped.
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for range attempt {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}
