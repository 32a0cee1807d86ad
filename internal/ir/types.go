package ir

import (
	"fmt"
	"slices"
	"time"
)

// NoWatermark is the watermark of a field that no event has ever set.
// Every valid sequence (>= 0) exceeds it.
const NoWatermark int64 = -1

// TopicKey identifies a forum topic within a chat.
type TopicKey struct {
	ChatID  int64 `json:"chat_id"`
	TopicID int32 `json:"topic_id"`
}

func (k TopicKey) String() string {
	return fmt.Sprintf("topic:%d:%d", k.ChatID, k.TopicID)
}

// ResidencyKey identifies the membership of one subject in one group.
type ResidencyKey struct {
	SubjectID int64 `json:"subject_id"`
	GroupID   int64 `json:"group_id"`
}

func (k ResidencyKey) String() string {
	return fmt.Sprintf("residency:%d:%d", k.SubjectID, k.GroupID)
}

// Field names a tracked topic field.
type Field string

const (
	FieldClosed    Field = "closed"
	FieldName      Field = "name"
	FieldIconColor Field = "icon_color"
	FieldIconEmoji Field = "icon_emoji"
)

// TopicFields lists the tracked topic fields in their canonical order.
var TopicFields = []Field{FieldClosed, FieldName, FieldIconColor, FieldIconEmoji}

// Kind returns the value kind the field accepts.
func (f Field) Kind() (ValueKind, bool) {
	switch f {
	case FieldClosed:
		return KindBool, true
	case FieldName, FieldIconEmoji:
		return KindString, true
	case FieldIconColor:
		return KindInt, true
	}
	return "", false
}

// Watermarked reports whether the field is guarded by a sequence watermark.
// icon_color is overwritten by every event that carries it.
func (f Field) Watermarked() bool {
	return f != FieldIconColor
}

// SequencedEvent is one partial fact about a topic: the fields it carries and
// the platform-assigned sequence that produced it. A field missing from Fields
// (or mapped to nil) carries no opinion.
type SequencedEvent struct {
	Key      TopicKey        `json:"key"`
	Fields   map[Field]Value `json:"fields"`
	Sequence int64           `json:"sequence"`
}

// Get returns the value carried for f, or nil if the event is silent on it.
func (e SequencedEvent) Get(f Field) Value {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[f]
}

// TopicUpdate is the typed shape producers hand to the engine.
type TopicUpdate struct {
	ChatID    int64   `json:"chat_id"`
	TopicID   int32   `json:"topic_id"`
	Sequence  int64   `json:"sequence"`
	Closed    *bool   `json:"closed,omitempty"`
	Name      *string `json:"name,omitempty"`
	IconColor *int32  `json:"icon_color,omitempty"`
	IconEmoji *string `json:"icon_emoji,omitempty"`
}

func (u TopicUpdate) Key() TopicKey {
	return TopicKey{ChatID: u.ChatID, TopicID: u.TopicID}
}

// Sequenced converts the update into a SequencedEvent carrying only the
// fields that are present.
func (u TopicUpdate) Sequenced() SequencedEvent {
	fields := make(map[Field]Value, 4)
	if u.Closed != nil {
		fields[FieldClosed] = Bool(*u.Closed)
	}
	if u.Name != nil {
		fields[FieldName] = String(*u.Name)
	}
	if u.IconColor != nil {
		fields[FieldIconColor] = Int(*u.IconColor)
	}
	if u.IconEmoji != nil {
		fields[FieldIconEmoji] = String(*u.IconEmoji)
	}
	return SequencedEvent{Key: u.Key(), Fields: fields, Sequence: u.Sequence}
}

// Topic is the reconciled state of one forum topic. Nil pointers are absent
// fields. Each watermark is the sequence of the event whose value is stored,
// or NoWatermark.
type Topic struct {
	Key       TopicKey `json:"key"`
	Closed    *bool    `json:"closed,omitempty"`
	Name      *string  `json:"name,omitempty"`
	IconColor *int32   `json:"icon_color,omitempty"`
	IconEmoji *string  `json:"icon_emoji,omitempty"`

	ClosedWatermark    int64 `json:"closed_watermark"`
	NameWatermark      int64 `json:"name_watermark"`
	IconEmojiWatermark int64 `json:"icon_emoji_watermark"`
}

// NewTopic returns the lazily-created state of a topic no event has touched.
func NewTopic(key TopicKey) Topic {
	return Topic{
		Key:                key,
		ClosedWatermark:    NoWatermark,
		NameWatermark:      NoWatermark,
		IconEmojiWatermark: NoWatermark,
	}
}

// Value returns the stored value of f as a Value (nil when absent).
func (t Topic) Value(f Field) Value {
	switch f {
	case FieldClosed:
		if t.Closed != nil {
			return Bool(*t.Closed)
		}
	case FieldName:
		if t.Name != nil {
			return String(*t.Name)
		}
	case FieldIconColor:
		if t.IconColor != nil {
			return Int(*t.IconColor)
		}
	case FieldIconEmoji:
		if t.IconEmoji != nil {
			return String(*t.IconEmoji)
		}
	}
	return nil
}

// Watermark returns the watermark of f. icon_color has none and reports
// NoWatermark.
func (t Topic) Watermark(f Field) int64 {
	switch f {
	case FieldClosed:
		return t.ClosedWatermark
	case FieldName:
		return t.NameWatermark
	case FieldIconEmoji:
		return t.IconEmojiWatermark
	}
	return NoWatermark
}

// Clone returns a deep copy so callers cannot alias stored pointers.
func (t Topic) Clone() Topic {
	c := t
	c.Closed = clonePtr(t.Closed)
	c.Name = clonePtr(t.Name)
	c.IconColor = clonePtr(t.IconColor)
	c.IconEmoji = clonePtr(t.IconEmoji)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FieldChange records one field whose stored value changed.
type FieldChange struct {
	Field    Field `json:"field"`
	Old      Value `json:"-"`
	New      Value `json:"-"`
	Sequence int64 `json:"sequence"`
}

// ChangeSet is the net effect of reconciling one event: the fields whose
// stored value actually changed, in canonical field order. A change that only
// advances a watermark is not listed.
type ChangeSet struct {
	Key     TopicKey      `json:"key"`
	Changes []FieldChange `json:"changes"`
}

func (c ChangeSet) Empty() bool { return len(c.Changes) == 0 }

func (c ChangeSet) Has(f Field) bool {
	_, ok := c.Get(f)
	return ok
}

func (c ChangeSet) Get(f Field) (FieldChange, bool) {
	i := slices.IndexFunc(c.Changes, func(fc FieldChange) bool { return fc.Field == f })
	if i < 0 {
		return FieldChange{}, false
	}
	return c.Changes[i], true
}

// Fields returns the names of the changed fields.
func (c ChangeSet) Fields() []Field {
	out := make([]Field, len(c.Changes))
	for i, fc := range c.Changes {
		out[i] = fc.Field
	}
	return out
}

// MembershipKind is the direction of a membership transition.
type MembershipKind int

const (
	Joined MembershipKind = iota + 1
	Left
)

func (k MembershipKind) String() string {
	switch k {
	case Joined:
		return "joined"
	case Left:
		return "left"
	}
	return fmt.Sprintf("MembershipKind(%d)", int(k))
}

// ParseMembershipKind parses "joined" or "left".
func ParseMembershipKind(s string) (MembershipKind, error) {
	switch s {
	case "joined":
		return Joined, nil
	case "left":
		return Left, nil
	}
	return 0, fmt.Errorf("unknown membership change %q", s)
}

// MembershipEvent reports that a subject joined or left a group at an
// authoritative time. At is the event's own timestamp, never arrival time.
type MembershipEvent struct {
	SubjectID int64          `json:"subject_id"`
	GroupID   int64          `json:"group_id"`
	At        time.Time      `json:"at"`
	Kind      MembershipKind `json:"kind"`
}

func (e MembershipEvent) Key() ResidencyKey {
	return ResidencyKey{SubjectID: e.SubjectID, GroupID: e.GroupID}
}

// Interval is a half-open residency range [Begin, End). A nil End means the
// subject is currently a member.
type Interval struct {
	ID        int64      `json:"id"`
	SubjectID int64      `json:"subject_id"`
	GroupID   int64      `json:"group_id"`
	Begin     time.Time  `json:"begin"`
	End       *time.Time `json:"end,omitempty"`
}

func (iv Interval) Open() bool { return iv.End == nil }

// Contains reports whether t falls within [Begin, End).
func (iv Interval) Contains(t time.Time) bool {
	if t.Before(iv.Begin) {
		return false
	}
	return iv.End == nil || t.Before(*iv.End)
}

// Outcome is the result of applying a membership event.
type Outcome int

const (
	// Opened means a new open interval was created.
	Opened Outcome = iota + 1
	// AlreadyOpen means a join found an open interval; nothing changed.
	AlreadyOpen
	// Superseded means a join predates history already summarized by closed
	// intervals; nothing changed.
	Superseded
	// Closed means a leave closed the open interval.
	Closed
	// NoOpenInterval means a leave found nothing to close; nothing changed.
	NoOpenInterval
)

func (o Outcome) String() string {
	switch o {
	case Opened:
		return "opened"
	case AlreadyOpen:
		return "already_open"
	case Superseded:
		return "superseded"
	case Closed:
		return "closed"
	case NoOpenInterval:
		return "no_open_interval"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	for o := Opened; o <= NoOpenInterval; o++ {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// Changed reports whether the outcome mutated stored intervals.
// AlreadyOpen, Superseded and NoOpenInterval are duplicate transitions.
func (o Outcome) Changed() bool {
	return o == Opened || o == Closed
}
