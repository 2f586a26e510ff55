// Package harness runs YAML sync scenarios against a real engine.
//
// Each scenario gets a fresh engine wired to an in-memory store, the
// in-memory backend, a manual network monitor, a fake clock starting at
// testutil.Epoch and sequential action ids ("act-001", ...). Every step
// appends one TraceEvent; the trace plus the final state is the golden
// snapshot.
//
// # Scenario Format
//
//	name: offline_then_online
//	description: "Actions recorded offline are delivered in order"
//	config:
//	  max_retries: 3
//	steps:
//	  - op: record
//	    kind: create
//	    id: "1"
//	  - op: offline
//	  - op: record
//	    kind: status_change
//	    id: "1"
//	    status: PREPARING
//	  - op: online
//	  - op: sync
//	assertions:
//	  - type: pending_count
//	    count: 0
//	  - type: synced_order
//	    actions: [act-001, act-002]
//
// # Steps
//
//   - record: kind create|update|status_change|delete|batch_delete|select_item
//   - undo, redo
//   - offline, online
//   - sync, force_sync, retry, clear_errors, reconcile
//   - backend_fail (count: n, 0 for always), backend_recover
//   - remote_update: id, status, after (offset from now)
//   - advance: duration
//
// A step may set expect_error to the engine error code it must fail with.
//
// # Assertion Types
//
//   - pending_count, synced_order, entity_status, entity_absent
//   - can_undo, can_redo
//   - sync_errors (count, optional reason)
//   - deliveries (action, count): backend attempts for one action id
package harness
