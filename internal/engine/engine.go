package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/converge/internal/clock"
	"github.com/roach88/converge/internal/codec"
	"github.com/roach88/converge/internal/ir"
	"github.com/roach88/converge/internal/reconcile"
	"github.com/roach88/converge/internal/store"
)

// DefaultWorkers is the worker count Run uses when given zero or less.
const DefaultWorkers = 4

// Engine reconciles events into the store.
//
// Thread-safety model:
//   - ReconcileTopic, ApplyMembership, Apply: safe from any goroutine
//   - Enqueue: safe from any goroutine
//   - Run: call once; it owns the worker pool
type Engine struct {
	store   *store.Store
	clock   clock.Clock
	batches BatchTokenGenerator
	queue   *eventQueue

	processed atomic.Int64
	failed    atomic.Int64
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithClock sets the clock used for journal receipt times.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithBatchGenerator sets the generator for batch tokens.
func WithBatchGenerator(g BatchTokenGenerator) Option {
	return func(e *Engine) {
		e.batches = g
	}
}

// New creates an Engine over s. Defaults: real clock, UUIDv7 batch tokens.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		clock:   clock.Real(),
		batches: UUIDv7Generator{},
		queue:   newEventQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// NewBatch generates a batch token for a group of events ingested together.
func (e *Engine) NewBatch() string {
	return e.batches.Generate()
}

// Result is the effect of one applied event.
type Result struct {
	Changes ir.ChangeSet // topic events
	Outcome ir.Outcome   // membership events
	// Duplicate is true when the event was an exact redelivery of an
	// already journaled event and was skipped.
	Duplicate bool
}

// ReconcileTopic applies a topic event and returns the fields whose stored
// value changed. Stale fields are ignored and logged at Debug.
func (e *Engine) ReconcileTopic(ctx context.Context, ev ir.SequencedEvent) (ir.ChangeSet, error) {
	res, err := e.reconcileTopic(ctx, ev, "")
	return res.Changes, err
}

// ApplyMembership applies a join or leave and reports its outcome.
// AlreadyOpen, Superseded and NoOpenInterval are normal outcomes, not errors.
func (e *Engine) ApplyMembership(ctx context.Context, ev ir.MembershipEvent) (ir.Outcome, error) {
	res, err := e.applyMembership(ctx, ev, "")
	return res.Outcome, err
}

// Apply routes a wrapped event to the matching operation.
func (e *Engine) Apply(ctx context.Context, ev Event) (Result, error) {
	switch ev.Type {
	case EventTypeTopic:
		if ev.Topic == nil {
			return Result{}, NewMalformedError("", fmt.Errorf("topic event missing topic data"))
		}
		return e.reconcileTopic(ctx, *ev.Topic, ev.Batch)

	case EventTypeMembership:
		if ev.Membership == nil {
			return Result{}, NewMalformedError("", fmt.Errorf("membership event missing membership data"))
		}
		return e.applyMembership(ctx, *ev.Membership, ev.Batch)

	default:
		return Result{}, NewMalformedError("", fmt.Errorf("unknown event type: %d", ev.Type))
	}
}

func (e *Engine) reconcileTopic(ctx context.Context, ev ir.SequencedEvent, batch string) (Result, error) {
	key := ev.Key.String()
	if err := ev.Validate(); err != nil {
		return Result{}, NewMalformedError(key, err)
	}

	id, err := ir.TopicEventID(ev)
	if err != nil {
		return Result{}, NewMalformedError(key, err)
	}
	payload, err := codec.EncodeTopicEvent(ev)
	if err != nil {
		return Result{}, NewMalformedError(key, err)
	}
	entry := e.entry(id, store.KindTopic, key, payload, batch)

	var out reconcile.TopicResult
	applied, err := e.store.WithTopic(ctx, ev.Key, entry, func(cur ir.Topic) (ir.Topic, error) {
		out = reconcile.ApplyTopic(cur, ev)
		return out.Topic, nil
	})
	if err != nil {
		return Result{}, NewPersistenceError(key, err)
	}
	if !applied {
		slog.Debug("duplicate event ignored", "key", key, "event_id", id, "sequence", ev.Sequence)
		return Result{Changes: ir.ChangeSet{Key: ev.Key}, Duplicate: true}, nil
	}

	for _, f := range out.Stale {
		slog.Debug("stale field ignored",
			"key", key,
			"field", f,
			"sequence", ev.Sequence,
			"watermark", out.Topic.Watermark(f),
		)
	}
	if !out.Changes.Empty() {
		slog.Info("topic reconciled",
			"key", key,
			"sequence", ev.Sequence,
			"changed", out.Changes.Fields(),
		)
	}
	return Result{Changes: out.Changes}, nil
}

func (e *Engine) applyMembership(ctx context.Context, ev ir.MembershipEvent, batch string) (Result, error) {
	key := ev.Key().String()
	if err := ev.Validate(); err != nil {
		return Result{}, NewMalformedError(key, err)
	}

	id, err := ir.MembershipEventID(ev)
	if err != nil {
		return Result{}, NewMalformedError(key, err)
	}
	payload, err := codec.EncodeMembershipEvent(ev)
	if err != nil {
		return Result{}, NewMalformedError(key, err)
	}
	entry := e.entry(id, store.KindMembership, key, payload, batch)

	var tr reconcile.Transition
	applied, err := e.store.WithResidency(ctx, ev.Key(), entry, func(history []ir.Interval) ([]ir.Interval, error) {
		tr = reconcile.ApplyMembership(history, ev)
		return reconcile.Commit(history, tr), nil
	})
	if err != nil {
		return Result{}, NewPersistenceError(key, err)
	}
	if !applied {
		// An exact redelivery is reported as the duplicate transition of
		// its kind.
		outcome := ir.AlreadyOpen
		if ev.Kind == ir.Left {
			outcome = ir.NoOpenInterval
		}
		slog.Debug("duplicate event ignored", "key", key, "event_id", id, "change", ev.Kind)
		return Result{Outcome: outcome, Duplicate: true}, nil
	}

	if tr.Outcome.Changed() {
		slog.Info("membership applied",
			"key", key,
			"change", ev.Kind,
			"at", ev.At,
			"outcome", tr.Outcome,
		)
	} else {
		slog.Debug("duplicate transition",
			"key", key,
			"change", ev.Kind,
			"at", ev.At,
			"outcome", tr.Outcome,
		)
	}
	return Result{Outcome: tr.Outcome}, nil
}

func (e *Engine) entry(id, kind, key string, payload []byte, batch string) *store.Entry {
	if batch == "" {
		batch = e.batches.Generate()
	}
	return &store.Entry{
		ID:         id,
		Kind:       kind,
		EntityKey:  key,
		Payload:    payload,
		Batch:      batch,
		ReceivedAt: e.clock.Now(),
	}
}

// Enqueue submits an event for the Run workers.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Pending returns the number of queued events not yet picked up.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// Stats reports how many queued events were processed and how many failed.
func (e *Engine) Stats() (processed, failed int64) {
	return e.processed.Load(), e.failed.Load()
}

// Run drains the queue with the given number of workers until ctx is
// cancelled or Stop is called and the queue is empty.
//
// ERROR HANDLING: a failed event is logged with its context and processing
// continues. Retrying is the producer's concern.
func (e *Engine) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	slog.Info("engine starting", "workers", workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return e.work(ctx)
		})
	}
	err := g.Wait()
	slog.Info("engine stopped", "processed", e.processed.Load(), "failed", e.failed.Load())
	return err
}

func (e *Engine) work(ctx context.Context) error {
	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if _, err := e.Apply(ctx, event); err != nil {
				e.failed.Add(1)
				logEventError(event, err)
			}
			e.processed.Add(1)
			continue
		}

		select {
		case <-ctx.Done():
			e.queue.Close()
			return ctx.Err()

		case _, open := <-e.queue.Wait():
			if !open && e.queue.Len() == 0 {
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the queued events are drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// logEventError logs a failed queued event with enough context to replay it
// by hand.
func logEventError(event Event, err error) {
	switch event.Type {
	case EventTypeTopic:
		if event.Topic != nil {
			slog.Error("topic event failed",
				"error", err,
				"key", event.Topic.Key.String(),
				"sequence", event.Topic.Sequence,
				"batch", event.Batch,
			)
			return
		}
	case EventTypeMembership:
		if event.Membership != nil {
			slog.Error("membership event failed",
				"error", err,
				"key", event.Membership.Key().String(),
				"change", event.Membership.Kind,
				"at", event.Membership.At,
				"batch", event.Batch,
			)
			return
		}
	}
	slog.Error("event failed", "error", err, "event_type", event.Type)
}
