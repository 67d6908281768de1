// Package ledger records every remote resource the harness creates so that
// cleanup can find it again.
//
// The ledger is an in-memory SQLite database owned by one run:
//   - resources: append-only, one row per created issue, pull request,
//     branch or milestone, ordered by seq
//   - cleanup_outcomes: one row per cleanup attempt, keyed by resource seq
//
// # Invariants
//
// A resource is recorded in the same call that created it remotely, before
// any further remote call. Recording the same (kind, id) twice is a no-op
// and returns the original row, so a reused branch is never tracked twice.
//
// A resource with a successful outcome (closed, deleted, already_gone) is
// settled; Pending never returns it again. This is what makes cleanup
// idempotent.
//
// All ordering uses seq, never timestamps.
package ledger
