package ir

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencedEventValidate(t *testing.T) {
	key := TopicKey{ChatID: -100, TopicID: 1}

	tests := []struct {
		name string
		ev   SequencedEvent
		code string
	}{
		{"valid", SequencedEvent{Key: key, Fields: map[Field]Value{FieldName: String("a")}, Sequence: 0}, ""},
		{"no fields", SequencedEvent{Key: key, Sequence: 3}, ""},
		{"nil value", SequencedEvent{Key: key, Fields: map[Field]Value{FieldClosed: nil}}, ""},
		{"zero chat", SequencedEvent{Key: TopicKey{TopicID: 1}}, ErrInvalidChatID},
		{"negative topic", SequencedEvent{Key: TopicKey{ChatID: 1, TopicID: -1}}, ErrInvalidTopicID},
		{"negative sequence", SequencedEvent{Key: key, Sequence: -1}, ErrInvalidSequence},
		{"unknown field", SequencedEvent{Key: key, Fields: map[Field]Value{"pinned": Bool(true)}}, ErrUnknownField},
		{"wrong kind", SequencedEvent{Key: key, Fields: map[Field]Value{FieldClosed: String("yes")}}, ErrFieldKind},
		{"color overflow", SequencedEvent{Key: key, Fields: map[Field]Value{FieldIconColor: Int(math.MaxInt32 + 1)}}, ErrFieldRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			ve, ok := AsValidationError(err)
			require.True(t, ok, "expected ValidationError, got %v", err)
			assert.Equal(t, tt.code, ve.Code)
		})
	}
}

func TestMembershipEventValidate(t *testing.T) {
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ev   MembershipEvent
		code string
	}{
		{"valid", MembershipEvent{SubjectID: 1, GroupID: -2, At: at, Kind: Joined}, ""},
		{"zero subject", MembershipEvent{GroupID: -2, At: at, Kind: Joined}, ErrInvalidSubjectID},
		{"zero group", MembershipEvent{SubjectID: 1, At: at, Kind: Left}, ErrInvalidGroupID},
		{"missing time", MembershipEvent{SubjectID: 1, GroupID: 2, Kind: Left}, ErrInvalidTime},
		{"before epoch", MembershipEvent{SubjectID: 1, GroupID: 2, At: MinTime.Add(-time.Second), Kind: Left}, ErrInvalidTime},
		{"unknown kind", MembershipEvent{SubjectID: 1, GroupID: 2, At: at}, ErrInvalidKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			ve, ok := AsValidationError(err)
			require.True(t, ok, "expected ValidationError, got %v", err)
			assert.Equal(t, tt.code, ve.Code)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := SequencedEvent{Key: TopicKey{ChatID: 1}, Sequence: -5}.Validate()
	require.Error(t, err)
	assert.Equal(t, "[E110] sequence: must be >= 0, got -5", err.Error())
}
