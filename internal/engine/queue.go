package engine

import (
	"fmt"
	"sync"

	"github.com/roach88/converge/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeTopic is a topic update to reconcile.
	EventTypeTopic EventType = iota + 1
	// EventTypeMembership is a join or leave to apply.
	EventTypeMembership
)

func (t EventType) String() string {
	switch t {
	case EventTypeTopic:
		return "topic"
	case EventTypeMembership:
		return "membership"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event wraps topic and membership events for the queue and for Apply.
type Event struct {
	Type       EventType
	Topic      *ir.SequencedEvent
	Membership *ir.MembershipEvent
	// Batch groups events ingested together. Empty means the engine
	// generates one for this event alone.
	Batch string
}

// TopicEvent wraps ev for Apply or Enqueue.
func TopicEvent(ev ir.SequencedEvent, batch string) Event {
	return Event{Type: EventTypeTopic, Topic: &ev, Batch: batch}
}

// MembershipEvent wraps ev for Apply or Enqueue.
func MembershipEvent(ev ir.MembershipEvent, batch string) Event {
	return Event{Type: EventTypeMembership, Membership: &ev, Batch: batch}
}

// eventQueue is a thread-safe unbounded FIFO queue for events.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the worker loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)
	q.notify()
	return true
}

// notify signals availability without blocking. Caller holds q.mu.
func (q *eventQueue) notify() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not retain event pointers.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
		// Wake another worker for the remainder.
		q.notify()
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
