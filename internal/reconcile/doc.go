// Package reconcile keeps the in-memory view of wins consistent with the
// durable store while inserts are in flight.
//
// ARCHITECTURE:
//
// Optimistic append:
// Append validates the title, builds a Pending entry with a temp id and
// prepends it to the view before any I/O. The caller sees the new row at
// the head of View() as soon as Append returns.
//
// Persistence:
// Each append's insert runs in its own goroutine. Its result never touches
// the view directly; it is enqueued as a completion.
//
// Single-Writer Completion Loop:
// Run() dequeues completions one at a time in FIFO order and patches the
// matching entry in place:
//   - success: the Pending entry is replaced by the durable record
//   - failure: the Pending entry stays, flagged StateFailed with its error
//
// A completion only ever replaces the entry with its own temp id, so the
// order in which inserts finish never changes display order. Display order
// is the order in which Append acquired the view lock.
//
// Per-entry state machine (see win.PersistState):
//
//	Optimistic -> Submitted -> Reconciled | Failed
//
// Failed appends are not retried.
package reconcile
