// Package engine implements the kitchensync action log and its caller API.
//
// An Engine owns the managed entity collection, the bounded undo/redo
// History and the pending queue. RecordAction, Undo and Redo apply a typed
// effect, update history, enqueue a sync record and persist before they
// return. Delivery to the backend is delegated to a syncer.Coordinator the
// engine constructs, which reaches back through the Ledger methods.
//
// CONCURRENCY:
//
// All History/queue/entity mutation happens under one mutex. Sync I/O never
// holds it: the coordinator reads a queue snapshot, delivers unlocked, then
// reports each result through MarkSynced or MarkFailed.
//
// ORDERING:
//
// Actions carry a wall-clock CreatedAt that never decreases within a session
// and a logical Seq from Clock that breaks ties. The pending queue is FIFO
// by (CreatedAt, Seq).
package engine
