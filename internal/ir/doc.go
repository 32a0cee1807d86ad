// Package ir provides the canonical types shared by every converge package.
//
// This package contains type definitions, validation and content-addressed
// identity only. All other internal packages import ir; ir imports nothing
// internal.
//
// Key design constraints:
//   - Sequences are platform-assigned and only comparable within one entity
//     key; they are never compared across keys.
//   - Field values are a sealed set (String, Int, Bool). A nil Value means
//     "absent": the event carries no opinion about the field.
//   - Timestamps are stored and hashed at millisecond precision in UTC.
//   - All JSON tags use snake_case
package ir
