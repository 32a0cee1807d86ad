// Package merge implements last-writer-wins merging of a single optional
// field.
//
// Functions here are pure: they take the stored value and watermark plus the
// incoming value and sequence, and return the new stored state. They never
// touch a database, so convergence and anti-regression can be tested on plain
// values.
package merge

import "github.com/roach88/converge/internal/ir"

// Result describes what a merge did with the incoming value.
type Result int

const (
	// Absent: the event carried no opinion about the field.
	Absent Result = iota
	// Applied: the incoming value was committed.
	Applied
	// Stale: the incoming sequence did not exceed the watermark.
	Stale
)

func (r Result) String() string {
	switch r {
	case Absent:
		return "absent"
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Slot is the stored state of one watermarked field.
type Slot[T comparable] struct {
	Value     *T
	Watermark int64
}

// Empty returns a slot no event has set.
func Empty[T comparable]() Slot[T] {
	return Slot[T]{Watermark: ir.NoWatermark}
}

// Watermarked merges incoming into cur. A present value wins only when seq is
// strictly greater than the watermark; ties and older sequences are stale.
// On Applied the watermark becomes seq even if the value is unchanged.
func Watermarked[T comparable](cur Slot[T], incoming *T, seq int64) (Slot[T], Result) {
	if incoming == nil {
		return cur, Absent
	}
	if seq <= cur.Watermark {
		return cur, Stale
	}
	v := *incoming
	return Slot[T]{Value: &v, Watermark: seq}, Applied
}

// Overwrite replaces cur with incoming whenever incoming is present,
// regardless of ordering. Used for fields that carry no watermark.
func Overwrite[T comparable](cur *T, incoming *T) (*T, Result) {
	if incoming == nil {
		return cur, Absent
	}
	v := *incoming
	return &v, Applied
}

// Changed reports whether two optional values differ.
func Changed[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a != b
	}
	return *a != *b
}
