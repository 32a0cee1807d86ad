package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/ir"
)

func TestSequencer_NextIncrementsMonotonically(t *testing.T) {
	s := NewSequencer()
	assert.Equal(t, int64(0), s.Current())

	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(2), s.Current())

	s.Reset()
	assert.Equal(t, int64(1), s.Next())
}

func TestSequencer_ConcurrentUnique(t *testing.T) {
	s := NewSequencer()
	const n = 200

	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := s.Next()
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.Equal(t, int64(n), s.Current())
}

func TestFixedBatchGenerator(t *testing.T) {
	g := NewFixedBatchGenerator("b-1")
	assert.Equal(t, "b-1", g.Generate())
	assert.Equal(t, "b-1", g.Generate())

	assert.Equal(t, "test-batch-default", NewFixedBatchGenerator("").Generate())
}

func TestTopicBuilder(t *testing.T) {
	seq := NewSequencer()
	b := Topic(-100, 7).NextSeq(seq).Closed(true).Name("General")

	ev := b.Event()
	require.NoError(t, ev.Validate())
	assert.Equal(t, ir.TopicKey{ChatID: -100, TopicID: 7}, ev.Key)
	assert.Equal(t, int64(1), ev.Sequence)
	assert.Equal(t, ir.Bool(true), ev.Get(ir.FieldClosed))
	assert.Equal(t, ir.String("General"), ev.Get(ir.FieldName))
	assert.Nil(t, ev.Get(ir.FieldIconColor))

	b.IconColor(3)
	assert.Nil(t, ev.Get(ir.FieldIconColor), "built events do not alias the builder")
}

func TestMembershipBuilders(t *testing.T) {
	j := Join(1, 2, 10)
	l := Leave(1, 2, 30)

	require.NoError(t, j.Validate())
	assert.Equal(t, ir.Joined, j.Kind)
	assert.Equal(t, ir.Left, l.Kind)
	assert.Equal(t, int64(30), ir.ToMillis(l.At))
}

func TestShuffled(t *testing.T) {
	in := []int{1, 2, 3, 4, 5, 6, 7, 8}

	a := Shuffled(in, 42)
	b := Shuffled(in, 42)
	assert.Equal(t, a, b, "same seed, same permutation")
	assert.ElementsMatch(t, in, a)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, in, "input untouched")
}
