package ir

import "time"

// Representable range for membership timestamps. Storage is in Unix
// milliseconds.
var (
	MinTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, 12, 31, 23, 59, 59, 999_000_000, time.UTC)
)

// ToMillis converts t to Unix milliseconds.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Truncate drops sub-millisecond precision and converts to UTC, matching what
// a store round-trip would return.
func Truncate(t time.Time) time.Time {
	return t.Truncate(time.Millisecond).UTC()
}
