package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/converge/internal/clock"
	"github.com/roach88/converge/internal/engine"
	"github.com/roach88/converge/internal/ingest"
	"github.com/roach88/converge/internal/ir"
	"github.com/roach88/converge/internal/store"
	"github.com/roach88/converge/internal/testutil"
)

// scenarioEpoch is the receipt time stamped on every journal entry.
var scenarioEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness runs one scenario against a real engine and store.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	seq     *testutil.Sequencer
	batches *testutil.FixedBatchGenerator
	filter  ingest.Filter
	logger  *slog.Logger

	// topicEvents are the accepted topic events in delivery order, kept
	// for convergence checks.
	topicEvents []ir.SequencedEvent
}

func newHarness(scenario *Scenario) (*Harness, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	batches := testutil.NewFixedBatchGenerator(scenario.Batch)
	return &Harness{
		store: st,
		engine: engine.New(st,
			engine.WithClock(clock.Fake(scenarioEpoch)),
			engine.WithBatchGenerator(batches),
		),
		seq:     testutil.NewSequencer(),
		batches: batches,
		filter:  ingest.Filter{Residential: scenario.ResidentialGroups},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a fixed clock,
// a fixed batch token and a sequencer reset to zero, so the same scenario
// always produces the same trace.
//
// Execution flow:
//  1. Create fresh in-memory database and engine
//  2. Deliver each step synchronously and record its trace entry
//  3. Check step expectations
//  4. Snapshot the stored topics and intervals
//  5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	ctx := context.Background()
	result := NewResult()

	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}
	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}

	actx := &AssertionContext{
		Store:       h.store,
		Ctx:         ctx,
		TopicEvents: h.topicEvents,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeSteps delivers every step and checks its expectation.
//
// Rejected events are part of the trace, not harness failures: a scenario
// may deliberately feed malformed events.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		var (
			trace TraceEvent
			err   error
		)
		switch {
		case step.Topic != nil:
			trace, err = h.topicStep(ctx, *step.Topic)
		case step.Membership != nil:
			trace, err = h.membershipStep(ctx, *step.Membership)
		case step.ChatMember != nil:
			trace, err = h.chatMemberStep(ctx, *step.ChatMember)
		default:
			return fmt.Errorf("step %d: no event", i+1)
		}
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		trace.Step = i + 1
		result.Trace = append(result.Trace, trace)

		if step.Expect != nil {
			if err := checkStep(trace, *step.Expect); err != nil {
				result.AddError(err.Error())
			}
		}

		h.logger.Info("step completed",
			"step", trace.Step,
			"kind", trace.Kind,
			"key", trace.Key,
			"outcome", trace.Outcome,
		)
	}
	return nil
}

func (h *Harness) topicStep(ctx context.Context, s TopicStep) (TraceEvent, error) {
	var seq int64
	if s.Sequence != nil {
		seq = *s.Sequence
	} else {
		seq = h.seq.Next()
	}
	ev := ir.TopicUpdate{
		ChatID:    s.ChatID,
		TopicID:   s.TopicID,
		Sequence:  seq,
		Closed:    s.Closed,
		Name:      s.Name,
		IconColor: s.IconColor,
		IconEmoji: s.IconEmoji,
	}.Sequenced()

	trace := TraceEvent{Kind: "topic", Key: ev.Key.String(), Sequence: &seq}
	res, err := h.engine.Apply(ctx, engine.TopicEvent(ev, ""))
	if err != nil {
		return rejected(trace, err)
	}
	h.topicEvents = append(h.topicEvents, ev)

	trace.Outcome = OutcomeUnchanged
	if !res.Changes.Empty() {
		trace.Outcome = OutcomeChanged
		for _, f := range res.Changes.Fields() {
			trace.Changed = append(trace.Changed, string(f))
		}
	}
	trace.Duplicate = res.Duplicate
	return trace, nil
}

func (h *Harness) membershipStep(ctx context.Context, s MembershipStep) (TraceEvent, error) {
	key := ir.ResidencyKey{SubjectID: s.SubjectID, GroupID: s.GroupID}
	at := ir.ToMillis(s.At.Time)
	trace := TraceEvent{Kind: "membership", Key: key.String(), AtMillis: &at}

	kind, err := ir.ParseMembershipKind(s.Change)
	if err != nil {
		trace.Outcome = OutcomeMalformed
		return trace, nil
	}
	ev := ir.MembershipEvent{SubjectID: s.SubjectID, GroupID: s.GroupID, At: s.At.Time, Kind: kind}
	return h.applyMembership(ctx, trace, ev)
}

func (h *Harness) chatMemberStep(ctx context.Context, s ChatMemberStep) (TraceEvent, error) {
	key := ir.ResidencyKey{SubjectID: s.SubjectID, GroupID: s.GroupID}
	at := ir.ToMillis(s.At.Time)
	trace := TraceEvent{Kind: "chat_member", Key: key.String(), AtMillis: &at}

	ev, ok := h.filter.Translate(ingest.ChatMemberUpdate{
		SubjectID:  s.SubjectID,
		GroupID:    s.GroupID,
		At:         s.At.Time,
		OldPresent: s.OldPresent,
		NewPresent: s.NewPresent,
		IsBot:      s.IsBot,
	})
	if !ok {
		trace.Outcome = OutcomeFiltered
		return trace, nil
	}
	return h.applyMembership(ctx, trace, ev)
}

func (h *Harness) applyMembership(ctx context.Context, trace TraceEvent, ev ir.MembershipEvent) (TraceEvent, error) {
	res, err := h.engine.Apply(ctx, engine.MembershipEvent(ev, ""))
	if err != nil {
		return rejected(trace, err)
	}
	trace.Outcome = res.Outcome.String()
	trace.Duplicate = res.Duplicate
	return trace, nil
}

// rejected records an engine error in the trace. Errors the engine does not
// classify abort the run.
func rejected(trace TraceEvent, err error) (TraceEvent, error) {
	switch {
	case engine.IsMalformed(err):
		trace.Outcome = OutcomeMalformed
	case engine.IsPersistence(err):
		trace.Outcome = OutcomePersistence
	default:
		return trace, err
	}
	return trace, nil
}

func checkStep(trace TraceEvent, want StepExpect) error {
	var problems []string
	if trace.Outcome != want.Outcome {
		problems = append(problems, fmt.Sprintf("outcome %s, got %s", want.Outcome, trace.Outcome))
	}
	if want.Changed != nil && !slices.Equal(trace.Changed, want.Changed) {
		problems = append(problems, fmt.Sprintf("changed %v, got %v", want.Changed, trace.Changed))
	}
	if trace.Duplicate != want.Duplicate {
		problems = append(problems, fmt.Sprintf("duplicate=%t, got %t", want.Duplicate, trace.Duplicate))
	}
	if len(problems) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     fmt.Sprintf("step %d (%s %s)", trace.Step, trace.Kind, trace.Key),
		Expected: fmt.Sprintf("%v", problems),
		Actual:   trace.Outcome,
	}
}

// snapshot renders every stored topic and interval history into result.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	topics, err := h.store.AllTopics(ctx)
	if err != nil {
		return err
	}
	for _, t := range topics {
		result.Topics[t.Key.String()] = engine.DescribeTopic(t)
	}

	keys, err := h.store.ResidencyKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		history, err := h.store.ReadIntervals(ctx, key)
		if err != nil {
			return err
		}
		result.Residency[key.String()] = engine.DescribeIntervals(history)
	}
	return nil
}
