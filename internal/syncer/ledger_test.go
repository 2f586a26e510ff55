package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/kitchensync/internal/ir"
	"github.com/roach88/kitchensync/internal/queue"
	"github.com/roach88/kitchensync/internal/testutil"
)

// fakeLedger is the smallest Ledger the coordinator can run against.
type fakeLedger struct {
	mu          sync.Mutex
	q           *queue.Queue
	clock       *testutil.FakeClock
	entities    map[string]ir.Entity
	pendingHook func()
}

func newFakeLedger(policy queue.RetryPolicy, clock *testutil.FakeClock) *fakeLedger {
	return &fakeLedger{
		q:        queue.New(policy),
		clock:    clock,
		entities: make(map[string]ir.Entity),
	}
}

func (l *fakeLedger) Pending() []ir.Action {
	if l.pendingHook != nil {
		l.pendingHook()
	}
	return l.q.ListPending()
}

func (l *fakeLedger) MarkSynced(_ context.Context, id string) error {
	l.q.MarkSynced(id)
	return nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, id string, cause error) (ir.Action, error) {
	a, _ := l.q.MarkFailed(id, cause.Error(), l.clock.Now())
	return a, nil
}

func (l *fakeLedger) Entity(id string) (ir.Entity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entities[id]
	return e, ok
}

func (l *fakeLedger) AcceptRemote(_ context.Context, remote ir.Entity) ([]string, error) {
	l.mu.Lock()
	l.entities[remote.ID] = remote
	l.mu.Unlock()

	ids := l.q.Touching(remote.ID)
	for _, id := range ids {
		l.q.MarkSuperseded(id, "remote won", l.clock.Now())
	}
	return ids, nil
}

var seq int64

// record puts an action in the ledger's local state and queue without an
// engine, the way RecordAction would.
func (l *fakeLedger) record(id string, created time.Time, fwd ir.Effect) ir.Action {
	return l.enqueue(id, kindOf(fwd), created, fwd, ir.InverseOf(fwd))
}

// undo queues the record Engine.Undo would write for orig.
func (l *fakeLedger) undo(id string, created time.Time, orig ir.Action) ir.Action {
	return l.enqueue(id, ir.KindUndo, created, orig.Inverse, orig.Forward)
}

func (l *fakeLedger) enqueue(id string, kind ir.Kind, created time.Time, fwd, inv ir.Effect) ir.Action {
	seq++
	a := ir.Action{
		ID:         id,
		Kind:       kind,
		CreatedAt:  created,
		Seq:        seq,
		Forward:    fwd,
		Inverse:    inv,
		Descriptor: ir.DescriptorFor("order_items", fwd),
	}
	a.Descriptor.ActionID = id

	l.mu.Lock()
	switch v := fwd.(type) {
	case ir.CreateEffect:
		l.entities[v.Entity.ID] = v.Entity
	case ir.UpdateEffect:
		l.entities[v.After.ID] = v.After
	case ir.StatusChangeEffect:
		e := l.entities[v.ID]
		e.ID, e.Status, e.UpdatedAt = v.ID, v.To, v.ToUpdatedAt
		l.entities[v.ID] = e
	}
	l.mu.Unlock()

	l.q.Enqueue(a)
	return a
}

func kindOf(e ir.Effect) ir.Kind {
	switch e.(type) {
	case ir.CreateEffect:
		return ir.KindCreate
	case ir.UpdateEffect:
		return ir.KindUpdate
	case ir.DeleteEffect:
		return ir.KindDelete
	case ir.StatusChangeEffect:
		return ir.KindStatusChange
	}
	return ""
}
