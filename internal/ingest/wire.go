package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/roach88/converge/internal/engine"
	"github.com/roach88/converge/internal/ir"
)

// Record kinds.
const (
	KindTopicUpdate = "topic_update"
	KindMembership  = "membership"
	KindChatMember  = "chat_member"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 1 << 20

type envelope struct {
	Kind string `json:"kind"`
}

type topicRecord struct {
	Kind string `json:"kind"`
	ir.TopicUpdate
}

type membershipRecord struct {
	Kind      string    `json:"kind"`
	SubjectID int64     `json:"subject_id"`
	GroupID   int64     `json:"group_id"`
	At        time.Time `json:"at"`
	Change    string    `json:"change"`
}

type chatMemberRecord struct {
	Kind string `json:"kind"`
	ChatMemberUpdate
}

// Decode parses one record. ok is false when the record is valid but
// translates to nothing (a filtered chat member update). Every decoding
// failure is a malformed-event error.
func Decode(line []byte, f Filter) (ev engine.Event, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return engine.Event{}, false, engine.NewMalformedError("", fmt.Errorf("parse record: %w", err))
	}

	switch env.Kind {
	case KindTopicUpdate:
		var rec topicRecord
		if err := strictUnmarshal(line, &rec); err != nil {
			return engine.Event{}, false, engine.NewMalformedError("", err)
		}
		return engine.TopicEvent(rec.Sequenced(), ""), true, nil

	case KindMembership:
		var rec membershipRecord
		if err := strictUnmarshal(line, &rec); err != nil {
			return engine.Event{}, false, engine.NewMalformedError("", err)
		}
		kind, err := ir.ParseMembershipKind(rec.Change)
		if err != nil {
			key := ir.ResidencyKey{SubjectID: rec.SubjectID, GroupID: rec.GroupID}
			return engine.Event{}, false, engine.NewMalformedError(key.String(), err)
		}
		return engine.MembershipEvent(ir.MembershipEvent{
			SubjectID: rec.SubjectID,
			GroupID:   rec.GroupID,
			At:        rec.At,
			Kind:      kind,
		}, ""), true, nil

	case KindChatMember:
		var rec chatMemberRecord
		if err := strictUnmarshal(line, &rec); err != nil {
			return engine.Event{}, false, engine.NewMalformedError("", err)
		}
		mev, ok := f.Translate(rec.ChatMemberUpdate)
		if !ok {
			return engine.Event{}, false, nil
		}
		return engine.MembershipEvent(mev, ""), true, nil

	case "":
		return engine.Event{}, false, engine.NewMalformedError("", fmt.Errorf("record has no kind"))
	default:
		return engine.Event{}, false, engine.NewMalformedError("", fmt.Errorf("unknown record kind %q", env.Kind))
	}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse record: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("parse record: trailing data after object")
	}
	return nil
}

// Encode renders an engine event as one JSONL record without the trailing
// newline.
func Encode(ev engine.Event) ([]byte, error) {
	switch {
	case ev.Type == engine.EventTypeTopic && ev.Topic != nil:
		rec := topicRecord{Kind: KindTopicUpdate, TopicUpdate: ir.TopicUpdate{
			ChatID:   ev.Topic.Key.ChatID,
			TopicID:  ev.Topic.Key.TopicID,
			Sequence: ev.Topic.Sequence,
		}}
		for f, v := range ev.Topic.Fields {
			if err := setField(&rec.TopicUpdate, f, v); err != nil {
				return nil, err
			}
		}
		return json.Marshal(rec)

	case ev.Type == engine.EventTypeMembership && ev.Membership != nil:
		m := ev.Membership
		return json.Marshal(membershipRecord{
			Kind:      KindMembership,
			SubjectID: m.SubjectID,
			GroupID:   m.GroupID,
			At:        m.At.UTC(),
			Change:    m.Kind.String(),
		})
	}
	return nil, fmt.Errorf("cannot encode %s event without data", ev.Type)
}

func setField(u *ir.TopicUpdate, f ir.Field, v ir.Value) error {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case ir.Bool:
		if f == ir.FieldClosed {
			b := bool(val)
			u.Closed = &b
			return nil
		}
	case ir.String:
		s := string(val)
		switch f {
		case ir.FieldName:
			u.Name = &s
			return nil
		case ir.FieldIconEmoji:
			u.IconEmoji = &s
			return nil
		}
	case ir.Int:
		if f == ir.FieldIconColor {
			n := int32(val)
			u.IconColor = &n
			return nil
		}
	}
	return fmt.Errorf("cannot encode field %s=%s", f, ir.FormatValue(v))
}

// LineError locates a decoding failure in a stream.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ReadAll decodes every record in r and calls fn for each event. Blank lines
// and lines starting with '#' are skipped. Filtered chat member updates do
// not reach fn.
//
// A malformed record is passed to onError as a *LineError; when onError is
// nil or returns an error, reading stops.
func ReadAll(r io.Reader, f Filter, fn func(line int, ev engine.Event) error, onError func(error) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		ev, ok, err := Decode(line, f)
		if err != nil {
			lerr := &LineError{Line: lineNo, Err: err}
			if onError == nil {
				return lerr
			}
			if err := onError(lerr); err != nil {
				return err
			}
			continue
		}
		if !ok {
			continue
		}
		if err := fn(lineNo, ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	return nil
}
