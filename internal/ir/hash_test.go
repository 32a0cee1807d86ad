package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() SequencedEvent {
	return SequencedEvent{
		Key:      TopicKey{ChatID: -100123, TopicID: 7},
		Fields:   map[Field]Value{FieldName: String("General"), FieldClosed: Bool(true)},
		Sequence: 42,
	}
}

func TestTopicEventIDDeterminism(t *testing.T) {
	id1, err := TopicEventID(sampleEvent())
	require.NoError(t, err)
	id2, err := TopicEventID(sampleEvent())
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "TopicEventID must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestTopicEventIDChangesWithInput(t *testing.T) {
	base := MustTopicEventID(sampleEvent())

	otherSeq := sampleEvent()
	otherSeq.Sequence = 43

	otherValue := sampleEvent()
	otherValue.Fields[FieldName] = String("Offtopic")

	otherKey := sampleEvent()
	otherKey.Key.TopicID = 8

	assert.NotEqual(t, base, MustTopicEventID(otherSeq))
	assert.NotEqual(t, base, MustTopicEventID(otherValue))
	assert.NotEqual(t, base, MustTopicEventID(otherKey))
}

func TestTopicEventIDIgnoresAbsentFields(t *testing.T) {
	withNil := sampleEvent()
	withNil.Fields[FieldIconEmoji] = nil

	assert.Equal(t, MustTopicEventID(sampleEvent()), MustTopicEventID(withNil))
}

func TestTopicEventIDMatchesManualHash(t *testing.T) {
	ev := SequencedEvent{Key: TopicKey{ChatID: 1, TopicID: 2}, Sequence: 3}

	canonical, err := MarshalCanonical(TopicEventDocument(ev))
	require.NoError(t, err)
	assert.Equal(t, `{"chat_id":1,"fields":{},"sequence":3,"topic_id":2}`, string(canonical))

	h := sha256.New()
	h.Write([]byte(DomainTopicEvent))
	h.Write([]byte{0x00})
	h.Write(canonical)

	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), MustTopicEventID(ev))
}

func TestMembershipEventIDMillisecondPrecision(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	ev := MembershipEvent{SubjectID: 1, GroupID: -5, At: at, Kind: Joined}

	id1, err := MembershipEventID(ev)
	require.NoError(t, err)

	ev.At = at.Add(500 * time.Microsecond)
	id2, err := MembershipEventID(ev)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "sub-millisecond differences are not representable")

	ev.Kind = Left
	id3, err := MembershipEventID(ev)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{}`)
	assert.NotEqual(t,
		hashWithDomain(DomainTopicEvent, data),
		hashWithDomain(DomainMembershipEvent, data))
}
