package ingest

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/roach88/converge/internal/engine"
)

// Connect dials NATS with reconnect settings suited to a long-running
// subscriber.
func Connect(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// SubscriberConfig selects what a Subscriber listens to.
type SubscriberConfig struct {
	Subject string
	// Queue joins a queue group so several processes share the stream.
	Queue  string
	Filter Filter
}

// Subscriber feeds NATS messages into the engine queue. Each message holds
// one or more JSONL records and forms one batch.
type Subscriber struct {
	engine *engine.Engine
	cfg    SubscriberConfig

	mu  sync.Mutex
	sub *nats.Subscription

	received atomic.Int64
	rejected atomic.Int64
	dropped  atomic.Int64
}

// NewSubscriber creates a subscriber that enqueues into e.
func NewSubscriber(e *engine.Engine, cfg SubscriberConfig) *Subscriber {
	return &Subscriber{engine: e, cfg: cfg}
}

// Start subscribes on nc. Messages are handled on the connection's
// dispatch goroutine; HandleMsg only decodes and enqueues.
func (s *Subscriber) Start(nc *nats.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return fmt.Errorf("subscriber already started on %s", s.sub.Subject)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.cfg.Queue == "" {
		sub, err = nc.Subscribe(s.cfg.Subject, s.HandleMsg)
	} else {
		sub, err = nc.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.HandleMsg)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}
	if err := sub.SetPendingLimits(1_000_000, 64*1024*1024); err != nil {
		slog.Warn("set pending limits", "error", err)
	}
	s.sub = sub
	slog.Info("subscribed", "subject", s.cfg.Subject, "queue", s.cfg.Queue)
	return nil
}

// Drain stops receiving and lets in-flight messages finish.
func (s *Subscriber) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Drain()
	s.sub = nil
	return err
}

// HandleMsg decodes every record in m and enqueues the events under one
// batch token. Malformed records are logged and skipped.
func (s *Subscriber) HandleMsg(m *nats.Msg) {
	batch := s.engine.NewBatch()
	err := ReadAll(bytes.NewReader(m.Data), s.cfg.Filter,
		func(_ int, ev engine.Event) error {
			ev.Batch = batch
			s.received.Add(1)
			if !s.engine.Enqueue(ev) {
				s.dropped.Add(1)
				return fmt.Errorf("engine stopped")
			}
			return nil
		},
		func(err error) error {
			s.rejected.Add(1)
			slog.Warn("malformed record rejected", "subject", m.Subject, "batch", batch, "error", err)
			return nil
		},
	)
	if err != nil {
		slog.Error("message dropped", "subject", m.Subject, "batch", batch, "error", err)
	}
}

// Stats reports events enqueued, records rejected as malformed and events
// dropped because the engine had stopped.
func (s *Subscriber) Stats() (received, rejected, dropped int64) {
	return s.received.Load(), s.rejected.Load(), s.dropped.Load()
}
