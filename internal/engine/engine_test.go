package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/ir"
)

func TestReconcileTopic_ScenarioA(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	cs, err := e.ReconcileTopic(ctx, topicEvent(5, map[ir.Field]ir.Value{ir.FieldClosed: ir.Bool(true)}))
	require.NoError(t, err)
	assert.Equal(t, []ir.Field{ir.FieldClosed}, cs.Fields())

	cs, err = e.ReconcileTopic(ctx, topicEvent(3, map[ir.Field]ir.Value{ir.FieldName: ir.String("General")}))
	require.NoError(t, err)
	assert.Equal(t, []ir.Field{ir.FieldName}, cs.Fields())

	cs, err = e.ReconcileTopic(ctx, topicEvent(10, map[ir.Field]ir.Value{ir.FieldClosed: ir.Bool(false)}))
	require.NoError(t, err)
	assert.Equal(t, []ir.Field{ir.FieldClosed}, cs.Fields())

	top, found, err := e.Store().ReadTopic(ctx, testTopic)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, *top.Closed)
	assert.Equal(t, int64(10), top.ClosedWatermark)
	assert.Equal(t, "General", *top.Name)
	assert.Equal(t, int64(3), top.NameWatermark)
}

func TestReconcileTopic_StaleEventReturnsEmptyChangeSet(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	_, err := e.ReconcileTopic(ctx, topicEvent(10, map[ir.Field]ir.Value{ir.FieldName: ir.String("new")}))
	require.NoError(t, err)

	cs, err := e.ReconcileTopic(ctx, topicEvent(4, map[ir.Field]ir.Value{ir.FieldName: ir.String("old")}))
	require.NoError(t, err)
	assert.True(t, cs.Empty())
	assert.Equal(t, testTopic, cs.Key)

	top, _, err := e.Store().ReadTopic(ctx, testTopic)
	require.NoError(t, err)
	assert.Equal(t, "new", *top.Name)
}

func TestReconcileTopic_ScenarioDIconColor(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	_, err := e.ReconcileTopic(ctx, topicEvent(1, map[ir.Field]ir.Value{ir.FieldIconColor: ir.Int(3)}))
	require.NoError(t, err)
	cs, err := e.ReconcileTopic(ctx, topicEvent(0, map[ir.Field]ir.Value{ir.FieldIconColor: ir.Int(7)}))
	require.NoError(t, err)
	assert.True(t, cs.Has(ir.FieldIconColor))

	top, _, err := e.Store().ReadTopic(ctx, testTopic)
	require.NoError(t, err)
	assert.Equal(t, int32(7), *top.IconColor)
}

func TestReconcileTopic_ExactRedeliveryIsSkipped(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()
	ev := topicEvent(2, map[ir.Field]ir.Value{ir.FieldName: ir.String("x"), ir.FieldIconColor: ir.Int(1)})

	first, err := e.Apply(ctx, TopicEvent(ev, ""))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Len(t, first.Changes.Changes, 2)

	second, err := e.Apply(ctx, TopicEvent(ev, ""))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.True(t, second.Changes.Empty())

	n, err := e.Store().JournalLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReconcileTopic_Malformed(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ev   ir.SequencedEvent
	}{
		{"zero chat", ir.SequencedEvent{Key: ir.TopicKey{TopicID: 1}, Sequence: 1}},
		{"negative sequence", topicEvent(-3, nil)},
		{"unknown field", topicEvent(1, map[ir.Field]ir.Value{"pinned": ir.Bool(true)})},
		{"wrong kind", topicEvent(1, map[ir.Field]ir.Value{ir.FieldName: ir.Int(1)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ReconcileTopic(ctx, tt.ev)
			require.Error(t, err)
			assert.True(t, IsMalformed(err), "got %v", err)
			assert.False(t, IsPersistence(err))
			_, ok := ir.AsValidationError(err)
			assert.True(t, ok, "validation error should be in the chain")
		})
	}

	n, err := e.Store().JournalLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "malformed events never reach the store")
}

func TestReconcileTopic_EmptyEventIsValidNoop(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	cs, err := e.ReconcileTopic(ctx, topicEvent(1, nil))
	require.NoError(t, err)
	assert.True(t, cs.Empty())

	n, err := e.Store().JournalLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReconcileTopic_PersistenceFailure(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	_, err := e.ReconcileTopic(ctx, topicEvent(1, map[ir.Field]ir.Value{ir.FieldName: ir.String("kept")}))
	require.NoError(t, err)

	failInserts(t, e.Store(), "event_journal")

	_, err = e.ReconcileTopic(ctx, topicEvent(2, map[ir.Field]ir.Value{ir.FieldName: ir.String("lost")}))
	require.Error(t, err)
	assert.True(t, IsPersistence(err), "got %v", err)
	assert.Contains(t, err.Error(), testTopic.String())

	top, _, err := e.Store().ReadTopic(ctx, testTopic)
	require.NoError(t, err)
	assert.Equal(t, "kept", *top.Name)
	assert.Equal(t, int64(1), top.NameWatermark)
}

func TestApplyMembership_ScenarioB(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	steps := []struct {
		ev   ir.MembershipEvent
		want ir.Outcome
	}{
		{join(10), ir.Opened},
		{join(20), ir.AlreadyOpen},
		{leave(30), ir.Closed},
		{leave(40), ir.NoOpenInterval},
	}
	for _, step := range steps {
		got, err := e.ApplyMembership(ctx, step.ev)
		require.NoError(t, err)
		assert.Equal(t, step.want, got, "%s at %v", step.ev.Kind, step.ev.At)
	}

	h, err := e.Store().ReadIntervals(ctx, testPair)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, ir.FromMillis(10), h[0].Begin)
	assert.Equal(t, ir.FromMillis(30), *h[0].End)
}

func TestApplyMembership_ScenarioC(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	got, err := e.ApplyMembership(ctx, leave(5))
	require.NoError(t, err)
	assert.Equal(t, ir.NoOpenInterval, got)

	h, err := e.Store().ReadIntervals(ctx, testPair)
	require.NoError(t, err)
	assert.Empty(t, h)

	got, err = e.ApplyMembership(ctx, join(15))
	require.NoError(t, err)
	assert.Equal(t, ir.Opened, got)
}

func TestApplyMembership_ExactRedelivery(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	_, err := e.ApplyMembership(ctx, join(10))
	require.NoError(t, err)
	_, err = e.ApplyMembership(ctx, leave(5))
	require.NoError(t, err)

	res, err := e.Apply(ctx, MembershipEvent(join(10), ""))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, ir.AlreadyOpen, res.Outcome)

	h, err := e.Store().ReadIntervals(ctx, testPair)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.False(t, h[0].Open())
}

func TestApplyMembership_Malformed(t *testing.T) {
	e := createTestEngine(t)

	_, err := e.ApplyMembership(context.Background(), ir.MembershipEvent{SubjectID: 1, GroupID: 2, Kind: ir.Joined})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestApplyMembership_PersistenceFailure(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	failInserts(t, e.Store(), "residency_intervals")

	_, err := e.ApplyMembership(ctx, join(10))
	require.Error(t, err)
	assert.True(t, IsPersistence(err))

	n, err := e.Store().JournalLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApply_RejectsBrokenEnvelope(t *testing.T) {
	e := createTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, Event{Type: EventTypeTopic})
	assert.True(t, IsMalformed(err))

	_, err = e.Apply(ctx, Event{Type: EventTypeMembership})
	assert.True(t, IsMalformed(err))

	_, err = e.Apply(ctx, Event{Type: 99})
	assert.True(t, IsMalformed(err))
}

func TestApply_StampsBatchAndReceiptTime(t *testing.T) {
	e := createTestEngine(t, WithBatchGenerator(NewFixedGenerator("generated")))
	ctx := context.Background()

	_, err := e.Apply(ctx, TopicEvent(topicEvent(1, nil), "explicit"))
	require.NoError(t, err)
	_, err = e.Apply(ctx, TopicEvent(topicEvent(2, nil), ""))
	require.NoError(t, err)

	entries, err := e.Store().ReadJournal(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "explicit", entries[0].Batch)
	assert.Equal(t, "generated", entries[1].Batch)
	assert.Equal(t, testNow, entries[0].ReceivedAt)
	assert.Equal(t, testTopic.String(), entries[0].EntityKey)
}
