package reconcile

import (
	"time"

	"github.com/roach88/converge/internal/ir"
)

// Transition is the effect of one membership event on a pair's history.
// Interval is the opened or closed interval when Outcome.Changed().
type Transition struct {
	Outcome  ir.Outcome
	Interval ir.Interval
}

// OpenInterval returns the open interval in history, if any.
func OpenInterval(history []ir.Interval) (ir.Interval, bool) {
	for _, iv := range history {
		if iv.Open() {
			return iv, true
		}
	}
	return ir.Interval{}, false
}

// latestEnd returns the greatest end among closed intervals.
func latestEnd(history []ir.Interval) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, iv := range history {
		if iv.End != nil && (!found || iv.End.After(latest)) {
			latest, found = *iv.End, true
		}
	}
	return latest, found
}

// Join applies a join at the given time to history for key.
func Join(key ir.ResidencyKey, history []ir.Interval, at time.Time) Transition {
	at = ir.Truncate(at)
	if _, ok := OpenInterval(history); ok {
		return Transition{Outcome: ir.AlreadyOpen}
	}
	if end, ok := latestEnd(history); ok && at.Before(end) {
		return Transition{Outcome: ir.Superseded}
	}
	return Transition{
		Outcome: ir.Opened,
		Interval: ir.Interval{
			SubjectID: key.SubjectID,
			GroupID:   key.GroupID,
			Begin:     at,
		},
	}
}

// Leave applies a leave at the given time to history. A leave earlier than
// the open interval's begin closes it at begin.
func Leave(history []ir.Interval, at time.Time) Transition {
	open, ok := OpenInterval(history)
	if !ok {
		return Transition{Outcome: ir.NoOpenInterval}
	}
	end := ir.Truncate(at)
	if end.Before(open.Begin) {
		end = open.Begin
	}
	open.End = &end
	return Transition{Outcome: ir.Closed, Interval: open}
}

// ApplyMembership dispatches ev to Join or Leave.
func ApplyMembership(history []ir.Interval, ev ir.MembershipEvent) Transition {
	if ev.Kind == ir.Joined {
		return Join(ev.Key(), history, ev.At)
	}
	return Leave(history, ev.At)
}

// Commit returns history with t applied. Opened intervals are appended;
// closed ones replace the open interval.
func Commit(history []ir.Interval, t Transition) []ir.Interval {
	out := make([]ir.Interval, 0, len(history)+1)
	switch t.Outcome {
	case ir.Opened:
		out = append(out, history...)
		out = append(out, t.Interval)
	case ir.Closed:
		for _, iv := range history {
			if iv.Open() {
				iv = t.Interval
			}
			out = append(out, iv)
		}
	default:
		out = append(out, history...)
	}
	return out
}

// FoldResidency rebuilds a pair's intervals by applying events in order.
// The policy is order-sensitive, so replay must use the order in which
// events were originally accepted.
func FoldResidency(events []ir.MembershipEvent) []ir.Interval {
	var history []ir.Interval
	for _, ev := range events {
		history = Commit(history, ApplyMembership(history, ev))
	}
	return history
}
