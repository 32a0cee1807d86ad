package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/clock"
	"github.com/roach88/converge/internal/ir"
	"github.com/roach88/converge/internal/store"
)

var (
	testNow   = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	testTopic = ir.TopicKey{ChatID: -100123, TopicID: 7}
	testPair  = ir.ResidencyKey{SubjectID: 1001, GroupID: -100123}
)

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(clock.Fake(testNow))}, opts...)
	return New(createTestStore(t), opts...)
}

func topicEvent(seq int64, fields map[ir.Field]ir.Value) ir.SequencedEvent {
	return ir.SequencedEvent{Key: testTopic, Fields: fields, Sequence: seq}
}

func join(ms int64) ir.MembershipEvent {
	return ir.MembershipEvent{SubjectID: testPair.SubjectID, GroupID: testPair.GroupID, At: ir.FromMillis(ms), Kind: ir.Joined}
}

func leave(ms int64) ir.MembershipEvent {
	return ir.MembershipEvent{SubjectID: testPair.SubjectID, GroupID: testPair.GroupID, At: ir.FromMillis(ms), Kind: ir.Left}
}

// failInserts installs a trigger that aborts every insert into table.
func failInserts(t *testing.T, s *store.Store, table string) {
	t.Helper()
	_, err := s.DB().Exec(`CREATE TRIGGER fail_` + table + ` BEFORE INSERT ON ` + table + `
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	require.NoError(t, err)
}
