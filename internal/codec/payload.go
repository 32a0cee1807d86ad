package codec

import (
	"fmt"

	"github.com/roach88/converge/internal/ir"
)

// TopicPayload is the journaled form of a topic event. Pointer fields are
// omitted when the event is silent on them.
type TopicPayload struct {
	ChatID    int64   `cbor:"1,keyasint"`
	TopicID   int32   `cbor:"2,keyasint"`
	Sequence  int64   `cbor:"3,keyasint"`
	Closed    *bool   `cbor:"4,keyasint,omitempty"`
	Name      *string `cbor:"5,keyasint,omitempty"`
	IconColor *int32  `cbor:"6,keyasint,omitempty"`
	IconEmoji *string `cbor:"7,keyasint,omitempty"`
}

// MembershipPayload is the journaled form of a membership event.
type MembershipPayload struct {
	SubjectID int64  `cbor:"1,keyasint"`
	GroupID   int64  `cbor:"2,keyasint"`
	AtMillis  int64  `cbor:"3,keyasint"`
	Change    string `cbor:"4,keyasint"`
}

// EncodeTopicEvent encodes a validated topic event.
func EncodeTopicEvent(ev ir.SequencedEvent) ([]byte, error) {
	p := TopicPayload{ChatID: ev.Key.ChatID, TopicID: ev.Key.TopicID, Sequence: ev.Sequence}
	if v, ok := ev.Get(ir.FieldClosed).(ir.Bool); ok {
		b := bool(v)
		p.Closed = &b
	}
	if v, ok := ev.Get(ir.FieldName).(ir.String); ok {
		s := string(v)
		p.Name = &s
	}
	if v, ok := ev.Get(ir.FieldIconColor).(ir.Int); ok {
		c := int32(v)
		p.IconColor = &c
	}
	if v, ok := ev.Get(ir.FieldIconEmoji).(ir.String); ok {
		s := string(v)
		p.IconEmoji = &s
	}
	return Marshal(p)
}

// DecodeTopicEvent is the inverse of EncodeTopicEvent.
func DecodeTopicEvent(data []byte) (ir.SequencedEvent, error) {
	var p TopicPayload
	if err := Unmarshal(data, &p); err != nil {
		return ir.SequencedEvent{}, fmt.Errorf("decode topic payload: %w", err)
	}
	u := ir.TopicUpdate{
		ChatID:    p.ChatID,
		TopicID:   p.TopicID,
		Sequence:  p.Sequence,
		Closed:    p.Closed,
		Name:      p.Name,
		IconColor: p.IconColor,
		IconEmoji: p.IconEmoji,
	}
	return u.Sequenced(), nil
}

// EncodeMembershipEvent encodes a validated membership event.
func EncodeMembershipEvent(ev ir.MembershipEvent) ([]byte, error) {
	return Marshal(MembershipPayload{
		SubjectID: ev.SubjectID,
		GroupID:   ev.GroupID,
		AtMillis:  ir.ToMillis(ev.At),
		Change:    ev.Kind.String(),
	})
}

// DecodeMembershipEvent is the inverse of EncodeMembershipEvent.
func DecodeMembershipEvent(data []byte) (ir.MembershipEvent, error) {
	var p MembershipPayload
	if err := Unmarshal(data, &p); err != nil {
		return ir.MembershipEvent{}, fmt.Errorf("decode membership payload: %w", err)
	}
	kind, err := ir.ParseMembershipKind(p.Change)
	if err != nil {
		return ir.MembershipEvent{}, fmt.Errorf("decode membership payload: %w", err)
	}
	return ir.MembershipEvent{
		SubjectID: p.SubjectID,
		GroupID:   p.GroupID,
		At:        ir.FromMillis(p.AtMillis),
		Kind:      kind,
	}, nil
}
