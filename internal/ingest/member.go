package ingest

import (
	"slices"
	"time"

	"github.com/roach88/converge/internal/ir"
)

// ChatMemberUpdate is a raw platform notification that a member's status in
// a group changed. Presence covers every status in which the member belongs
// to the group (member, admin, owner, restricted-but-present).
type ChatMemberUpdate struct {
	SubjectID  int64     `json:"subject_id"`
	GroupID    int64     `json:"group_id"`
	At         time.Time `json:"at"`
	OldPresent bool      `json:"old_present"`
	NewPresent bool      `json:"new_present"`
	IsBot      bool      `json:"is_bot,omitempty"`
}

// Filter decides which member updates matter.
type Filter struct {
	// Residential limits translation to these groups. Empty admits all.
	Residential []int64
}

// Admits reports whether updates for group are tracked.
func (f Filter) Admits(group int64) bool {
	return len(f.Residential) == 0 || slices.Contains(f.Residential, group)
}

// Translate turns a presence flip into a membership event. Bots, groups the
// filter rejects, and updates that keep presence unchanged (promotions,
// demotions) yield ok=false.
func (f Filter) Translate(u ChatMemberUpdate) (ev ir.MembershipEvent, ok bool) {
	if u.IsBot || !f.Admits(u.GroupID) {
		return ir.MembershipEvent{}, false
	}

	var kind ir.MembershipKind
	switch {
	case !u.OldPresent && u.NewPresent:
		kind = ir.Joined
	case u.OldPresent && !u.NewPresent:
		kind = ir.Left
	default:
		return ir.MembershipEvent{}, false
	}

	return ir.MembershipEvent{
		SubjectID: u.SubjectID,
		GroupID:   u.GroupID,
		At:        u.At,
		Kind:      kind,
	}, true
}
