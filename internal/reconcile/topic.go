package reconcile

import (
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/converge/internal/ir"
	"github.com/roach88/converge/internal/merge"
)

// TopicResult is the outcome of applying one event to a topic.
type TopicResult struct {
	Topic   ir.Topic
	Changes ir.ChangeSet
	// Stale lists fields the event carried but lost to a newer watermark.
	Stale []ir.Field
}

// ApplyTopic merges ev into cur. closed, name and icon_emoji are guarded by
// their watermarks; icon_color is overwritten whenever present. The event
// must already be valid and addressed to cur.Key.
func ApplyTopic(cur ir.Topic, ev ir.SequencedEvent) TopicResult {
	next := cur.Clone()
	res := TopicResult{Changes: ir.ChangeSet{Key: cur.Key}}

	record := func(f ir.Field, r merge.Result, changed bool) {
		switch r {
		case merge.Stale:
			res.Stale = append(res.Stale, f)
		case merge.Applied:
			if changed {
				res.Changes.Changes = append(res.Changes.Changes, ir.FieldChange{
					Field:    f,
					Old:      cur.Value(f),
					New:      next.Value(f),
					Sequence: ev.Sequence,
				})
			}
		}
	}

	closed, r := merge.Watermarked(
		merge.Slot[bool]{Value: cur.Closed, Watermark: cur.ClosedWatermark},
		boolField(ev, ir.FieldClosed), ev.Sequence)
	next.Closed, next.ClosedWatermark = closed.Value, closed.Watermark
	record(ir.FieldClosed, r, merge.Changed(cur.Closed, next.Closed))

	name, r := merge.Watermarked(
		merge.Slot[string]{Value: cur.Name, Watermark: cur.NameWatermark},
		stringField(ev, ir.FieldName), ev.Sequence)
	next.Name, next.NameWatermark = name.Value, name.Watermark
	record(ir.FieldName, r, merge.Changed(cur.Name, next.Name))

	next.IconColor, r = merge.Overwrite(cur.IconColor, colorField(ev))
	record(ir.FieldIconColor, r, merge.Changed(cur.IconColor, next.IconColor))

	emoji, r := merge.Watermarked(
		merge.Slot[string]{Value: cur.IconEmoji, Watermark: cur.IconEmojiWatermark},
		stringField(ev, ir.FieldIconEmoji), ev.Sequence)
	next.IconEmoji, next.IconEmojiWatermark = emoji.Value, emoji.Watermark
	record(ir.FieldIconEmoji, r, merge.Changed(cur.IconEmoji, next.IconEmoji))

	res.Topic = next
	return res
}

// FoldTopic builds a topic from scratch by applying events in order.
func FoldTopic(key ir.TopicKey, events []ir.SequencedEvent) ir.Topic {
	t := ir.NewTopic(key)
	for _, ev := range events {
		t = ApplyTopic(t, ev).Topic
	}
	return t
}

func boolField(ev ir.SequencedEvent, f ir.Field) *bool {
	if v, ok := ev.Get(f).(ir.Bool); ok {
		b := bool(v)
		return &b
	}
	return nil
}

// stringField returns the NFC form so that visually identical names sent by
// different clients compare equal.
func stringField(ev ir.SequencedEvent, f ir.Field) *string {
	if v, ok := ev.Get(f).(ir.String); ok {
		s := norm.NFC.String(string(v))
		return &s
	}
	return nil
}

func colorField(ev ir.SequencedEvent) *int32 {
	if v, ok := ev.Get(ir.FieldIconColor).(ir.Int); ok {
		c := int32(v)
		return &c
	}
	return nil
}
