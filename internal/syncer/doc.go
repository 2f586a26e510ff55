// Package syncer drains the pending queue to the backend.
//
// A Coordinator moves between Idle and Syncing. Overlapping requests are
// coalesced with singleflight: a ForceSync that arrives mid-pass waits for
// and returns the in-flight pass's Report instead of starting another.
//
// The coordinator never holds the ledger's lock across network I/O. It reads
// a snapshot of the queue, delivers outside the lock, then reports each outcome
// back through the Ledger.
//
// Ordering: entries are delivered in queue order. An entry that fails or is
// skipped blocks later entries touching the same entity for the rest of the
// pass, so an Update is never delivered ahead of the Create it depends on.
package syncer
