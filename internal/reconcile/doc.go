// Package reconcile applies events to entity state.
//
// ApplyTopic merges a topic event field by field through package merge and
// reports the net ChangeSet. Join and Leave turn membership transitions into
// non-overlapping residency intervals. Both are pure: the store loads state,
// calls them inside its per-key section, and persists the result.
//
// Interval policy for out-of-order history:
//   - join while an interval is open: AlreadyOpen
//   - join earlier than the latest recorded end: Superseded
//   - leave with an open interval: close at max(at, begin)
//   - leave without an open interval: NoOpenInterval
package reconcile
