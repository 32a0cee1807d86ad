package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/engine"
	"github.com/roach88/converge/internal/ir"
	"github.com/roach88/converge/internal/store"
)

func createTestEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return engine.New(s, opts...)
}

func TestSubscriber_HandleMsg(t *testing.T) {
	e := createTestEngine(t, engine.WithBatchGenerator(engine.NewFixedGenerator("msg-1")))
	sub := NewSubscriber(e, SubscriberConfig{Subject: "converge.events", Filter: Filter{Residential: []int64{-100123}}})

	sub.HandleMsg(&nats.Msg{
		Subject: "converge.events",
		Data: []byte(`{"kind":"topic_update","chat_id":-100123,"topic_id":7,"sequence":5,"closed":true}
{"kind":"topic_update","chat_id":-100123,"topic_id":7,"sequence":3,"name":"General"}
{"kind":"nonsense"}
{"kind":"chat_member","subject_id":1001,"group_id":-100123,"at":"2026-01-02T15:04:05Z","old_present":false,"new_present":true}
{"kind":"chat_member","subject_id":1001,"group_id":-999,"at":"2026-01-02T15:04:05Z","old_present":false,"new_present":true}
`),
	})

	received, rejected, dropped := sub.Stats()
	assert.Equal(t, int64(3), received)
	assert.Equal(t, int64(1), rejected)
	assert.Zero(t, dropped)
	assert.Equal(t, 3, e.Pending())

	e.Stop()
	require.NoError(t, e.Run(context.Background(), 2))

	ctx := context.Background()
	top, found, err := e.Store().ReadTopic(ctx, ir.TopicKey{ChatID: -100123, TopicID: 7})
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, *top.Closed)
	assert.Equal(t, "General", *top.Name)

	open, err := e.Store().OpenIntervals(ctx, 1001)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(-100123), open[0].GroupID)

	entries, err := e.Store().ReadJournal(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		assert.Equal(t, "msg-1", entry.Batch, "one message is one batch")
	}
}

func TestSubscriber_HandleMsgAfterStop(t *testing.T) {
	e := createTestEngine(t)
	sub := NewSubscriber(e, SubscriberConfig{Subject: "converge.events"})
	e.Stop()

	sub.HandleMsg(&nats.Msg{Data: []byte(`{"kind":"topic_update","chat_id":1,"topic_id":1,"sequence":1}`)})

	_, _, dropped := sub.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestSubscriber_DrainBeforeStart(t *testing.T) {
	sub := NewSubscriber(createTestEngine(t), SubscriberConfig{Subject: "x"})
	assert.NoError(t, sub.Drain())
}
