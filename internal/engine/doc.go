// Package engine routes incoming events through the reconcilers and into the
// store.
//
// ARCHITECTURE:
//
// Synchronous path:
// ReconcileTopic and ApplyMembership validate an event, then hand a pure
// reconciler to the store's per-key section. The caller gets the ChangeSet
// or Outcome, or a typed *Error.
//
// Asynchronous path:
// Producers that cannot wait call Enqueue. Run drains the queue with a pool
// of workers. Failures are logged and processing continues.
//
// Event Processing Flow:
//  1. Validate (MalformedEvent on failure, no store access)
//  2. Compute content-addressed ID and CBOR payload for the journal
//  3. store.WithTopic / store.WithResidency runs the reconciler under the key's
//     exclusive section and commits state + journal entry atomically
//  4. Log: stale fields and duplicate transitions at Debug, changes at Info
//
// Nothing here is fatal to the process: every failure is scoped to one event.
//
// ORDERING:
// Workers may process events for the same key concurrently. The store
// serializes them and the sequence numbers decide which value wins, so the
// result does not depend on which worker ran first.
package engine
