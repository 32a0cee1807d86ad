// Package store provides SQLite-backed persistence for reconciled entities.
//
// The store holds:
//   - Topics: one row per (chat, topic) with field values and watermarks
//   - Residency intervals: one row per interval, end NULL while open
//   - Event journal: every accepted event in acceptance order
//
// # Per-key serialization
//
// WithTopic and WithResidency run a read-modify-write on one entity key.
// Calls for the same key never interleave; calls for different keys may run
// in parallel. The mutation and its journal entry commit in one transaction,
// so a failed call leaves stored state exactly as it was.
//
// # Reads
//
// Read methods use a separate query-only connection pool. They see the last
// committed state and never wait on the per-key sections.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
