package testutil

import (
	"math/rand/v2"

	"github.com/roach88/converge/internal/ir"
)

// TopicEvent builds an ir.SequencedEvent fluently:
//
//	ev := testutil.Topic(-100, 7).Seq(5).Closed(true).Event()
type TopicEvent struct {
	ev ir.SequencedEvent
}

// Topic starts a builder for the given topic with sequence 0 and no fields.
func Topic(chatID int64, topicID int32) *TopicEvent {
	return &TopicEvent{ev: ir.SequencedEvent{
		Key:    ir.TopicKey{ChatID: chatID, TopicID: topicID},
		Fields: map[ir.Field]ir.Value{},
	}}
}

func (b *TopicEvent) Seq(n int64) *TopicEvent {
	b.ev.Sequence = n
	return b
}

// NextSeq draws the sequence from s.
func (b *TopicEvent) NextSeq(s *Sequencer) *TopicEvent {
	return b.Seq(s.Next())
}

func (b *TopicEvent) Closed(v bool) *TopicEvent     { return b.set(ir.FieldClosed, ir.Bool(v)) }
func (b *TopicEvent) Name(v string) *TopicEvent     { return b.set(ir.FieldName, ir.String(v)) }
func (b *TopicEvent) IconColor(v int32) *TopicEvent { return b.set(ir.FieldIconColor, ir.Int(v)) }
func (b *TopicEvent) IconEmoji(v string) *TopicEvent {
	return b.set(ir.FieldIconEmoji, ir.String(v))
}

func (b *TopicEvent) set(f ir.Field, v ir.Value) *TopicEvent {
	b.ev.Fields[f] = v
	return b
}

// Event returns a copy of the built event; the builder stays reusable.
func (b *TopicEvent) Event() ir.SequencedEvent {
	out := b.ev
	out.Fields = make(map[ir.Field]ir.Value, len(b.ev.Fields))
	for f, v := range b.ev.Fields {
		out.Fields[f] = v
	}
	return out
}

// Join returns a join of subject into group at the given Unix milliseconds.
func Join(subjectID, groupID, atMillis int64) ir.MembershipEvent {
	return membership(subjectID, groupID, atMillis, ir.Joined)
}

// Leave returns a leave of subject from group at the given Unix milliseconds.
func Leave(subjectID, groupID, atMillis int64) ir.MembershipEvent {
	return membership(subjectID, groupID, atMillis, ir.Left)
}

func membership(subjectID, groupID, atMillis int64, kind ir.MembershipKind) ir.MembershipEvent {
	return ir.MembershipEvent{
		SubjectID: subjectID,
		GroupID:   groupID,
		At:        ir.FromMillis(atMillis),
		Kind:      kind,
	}
}

// Shuffled returns a seeded permutation of events. The input is not modified.
func Shuffled[T any](events []T, seed uint64) []T {
	out := append([]T(nil), events...)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
