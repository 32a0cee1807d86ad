// Package harness runs YAML reconciliation scenarios against a real engine.
//
// # Scenario Format
//
//	name: out_of_order_topic
//	description: "Later sequences win regardless of arrival order"
//	batch: test-batch-a
//	residential_groups: [-100123]
//	steps:
//	  - topic: { chat_id: -100123, topic_id: 7, sequence: 5, closed: true }
//	    expect: { outcome: changed, changed: [closed] }
//	  - membership: { subject_id: 1001, group_id: -100123, at: 10, change: joined }
//	    expect: { outcome: opened }
//	  - chat_member: { subject_id: 1001, group_id: -100123, at: 30, old_present: true, new_present: false }
//	    expect: { outcome: closed }
//	assertions:
//	  - type: topic_state
//	    chat_id: -100123
//	    topic_id: 7
//	    expect: { closed: true, closed_watermark: 5, name: null }
//	  - type: intervals
//	    subject_id: 1001
//	    group_id: -100123
//	    expect: "[10,30)"
//
// Timestamps are Unix milliseconds or RFC 3339 strings. A topic step without
// a sequence takes the next value of a per-scenario sequencer starting at 1.
//
// # Assertion Types
//
//   - topic_state: stored topic fields and watermarks (null means absent)
//   - intervals: rendered interval history, e.g. "[10,30) [40,inf)"
//   - is_open: membership of a pair at an instant
//   - trace_count: number of steps with an outcome ("duplicate" counts redeliveries)
//   - final_state: one row of a SQLite table, subset match
//   - converges: replays the accepted topic steps in N shuffled orders
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory database with a fixed clock and
// a fixed batch token, so its snapshot (trace plus final state) is stable
// and compared against testdata/golden/<name>.golden.
package harness
