package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/ir"
)

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"zeta": 1, "alpha": "a", "mid": true}

	first, err := Marshal(value)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(value)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": 1}})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))

	m, ok := out.(map[string]any)
	require.True(t, ok, "got %T", out)
	_, ok = m["outer"].(map[string]any)
	assert.True(t, ok)
}

func TestTopicEventRoundTripKeepsAbsence(t *testing.T) {
	ev := ir.SequencedEvent{
		Key:      ir.TopicKey{ChatID: -100, TopicID: 4},
		Fields:   map[ir.Field]ir.Value{ir.FieldName: ir.String("General"), ir.FieldIconColor: ir.Int(-1)},
		Sequence: 12,
	}

	data, err := EncodeTopicEvent(ev)
	require.NoError(t, err)
	got, err := DecodeTopicEvent(data)
	require.NoError(t, err)

	assert.Equal(t, ev.Key, got.Key)
	assert.Equal(t, ev.Sequence, got.Sequence)
	assert.Equal(t, ev.Fields, got.Fields)
	assert.Nil(t, got.Get(ir.FieldClosed))
	assert.Equal(t, ir.MustTopicEventID(ev), ir.MustTopicEventID(got))
}

func TestMembershipEventRoundTrip(t *testing.T) {
	ev := ir.MembershipEvent{SubjectID: 7, GroupID: -3, At: time.UnixMilli(1_700_000_000_123).UTC(), Kind: ir.Left}

	data, err := EncodeMembershipEvent(ev)
	require.NoError(t, err)
	got, err := DecodeMembershipEvent(data)
	require.NoError(t, err)

	assert.Equal(t, ev, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeTopicEvent([]byte{0xff, 0x00})
	assert.Error(t, err)

	data, err := Marshal(MembershipPayload{SubjectID: 1, GroupID: 1, Change: "kicked"})
	require.NoError(t, err)
	_, err = DecodeMembershipEvent(data)
	assert.Error(t, err)
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(MembershipPayload{SubjectID: 1, GroupID: 2, AtMillis: 3, Change: "joined"})
	require.NoError(t, err)

	diag, err := Diagnose(data)
	require.NoError(t, err)
	assert.Contains(t, diag, `"joined"`)
}
