package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/kitchensync/internal/backend"
	"github.com/roach88/kitchensync/internal/engine"
	"github.com/roach88/kitchensync/internal/ir"
	"github.com/roach88/kitchensync/internal/network"
	"github.com/roach88/kitchensync/internal/queue"
	"github.com/roach88/kitchensync/internal/store"
	"github.com/roach88/kitchensync/internal/syncer"
	"github.com/roach88/kitchensync/internal/testutil"
)

// DefaultResource is the descriptor resource used when a scenario sets none.
const DefaultResource = "order_items"

// runner holds the wiring for one scenario execution.
type runner struct {
	engine   *engine.Engine
	clock    *testutil.FakeClock
	backend  *backend.Memory
	monitor  *network.Manual
	resource string
}

// Run executes a scenario against a fresh engine and returns the trace,
// the final state and any assertion failures.
//
// Run only returns an error when the scenario cannot be executed at all.
// Unexpected step errors and failed assertions are reported in Result.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	r, err := newRunner(s.Config)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i, st := range s.Steps {
		ev, err := r.step(ctx, st)
		ev.Step = i
		ev.Op = st.Op
		ev.Pending = len(r.engine.ListPendingActions())
		ev.Cursor = r.engine.Cursor()

		code := errorCode(err)
		ev.Error = code
		switch {
		case st.ExpectError != "" && code != st.ExpectError:
			result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got %q", i, st.Op, st.ExpectError, code))
		case st.ExpectError == "" && err != nil:
			result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, st.Op, err))
		}
		result.Trace = append(result.Trace, ev)
	}

	result.Final = r.final()
	for _, a := range s.Assertions {
		if err := r.check(a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func newRunner(cfg Config) (*runner, error) {
	policy := queue.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if cfg.BaseDelay != "" {
		d, err := time.ParseDuration(cfg.BaseDelay)
		if err != nil {
			return nil, fmt.Errorf("config base_delay: %w", err)
		}
		policy.BaseDelay = d
	}
	if cfg.MaxDelay != "" {
		d, err := time.ParseDuration(cfg.MaxDelay)
		if err != nil {
			return nil, fmt.Errorf("config max_delay: %w", err)
		}
		policy.MaxDelay = d
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := &runner{
		clock:    testutil.NewFakeClock(time.Time{}),
		backend:  backend.NewMemory(),
		resource: cfg.Resource,
	}
	if r.resource == "" {
		r.resource = DefaultResource
	}
	r.monitor = network.NewManual(true, network.WithNow(r.clock.Now), network.WithLogger(logger))

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(r.clock),
		engine.WithIDGenerator(testutil.NewSequentialIDs("act")),
		engine.WithSession("scenario"),
		engine.WithRetryPolicy(policy),
	}
	if cfg.MaxHistory > 0 {
		opts = append(opts, engine.WithMaxHistory(cfg.MaxHistory))
	}
	r.engine = engine.New(store.NewMemory(), r.backend, r.monitor, opts...)
	return r, nil
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	return err.Error()
}

func (r *runner) step(ctx context.Context, st Step) (TraceEvent, error) {
	var ev TraceEvent

	switch st.Op {
	case opRecord:
		a, err := r.record(ctx, st)
		if err != nil {
			return ev, err
		}
		ev.ActionID = a.ID
		ev.Kind = string(a.Kind)

	case opUndo, opRedo:
		undo := r.engine.Undo
		if st.Op == opRedo {
			undo = r.engine.Redo
		}
		rec, ok, err := undo(ctx)
		if err != nil {
			return ev, err
		}
		if !ok {
			ev.NoOp = true
			return ev, nil
		}
		ev.ActionID = rec.ID
		ev.Kind = string(rec.Kind)
		ev.Ref = rec.Ref

	case opOffline:
		r.monitor.GoOffline()
	case opOnline:
		r.monitor.GoOnline()

	case opSync, opForceSync, opRetry:
		pass := r.engine.Sync
		switch st.Op {
		case opForceSync:
			pass = r.engine.ForceSync
		case opRetry:
			pass = r.engine.RetrySync
		}
		rep, err := pass(ctx)
		if err != nil {
			return ev, err
		}
		ev.Report = outcome(rep)

	case opClearErrors:
		dropped, err := r.engine.ClearErrors(ctx)
		if err != nil {
			return ev, err
		}
		ev.Cleared = actionIDs(dropped)

	case opReconcile:
		rep, err := r.engine.Reconcile(ctx)
		if err != nil {
			return ev, err
		}
		ev.Conflicts = len(rep.Conflicts)
		ev.Skipped = rep.Skipped
		for _, c := range rep.Conflicts {
			ev.Superseded = append(ev.Superseded, c.Superseded...)
		}

	case opBackendFail:
		if st.Count == 0 {
			r.backend.FailAlways()
		} else {
			r.backend.FailNext(st.Count)
		}
	case opBackendRecover:
		r.backend.Recover()

	case opRemoteUpdate:
		return ev, r.remoteUpdate(ctx, st)

	case opAdvance:
		d, err := time.ParseDuration(st.Duration)
		if err != nil {
			return ev, err
		}
		r.clock.Advance(d)

	default:
		return ev, fmt.Errorf("unknown op %q", st.Op)
	}
	return ev, nil
}

func outcome(rep syncer.Report) *SyncOutcome {
	return &SyncOutcome{
		Succeeded: rep.Succeeded,
		Failed:    rep.Failed,
		Deferred:  rep.Deferred,
		Offline:   rep.Offline,
	}
}

func actionIDs(actions []ir.Action) []string {
	ids := make([]string, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	return ids
}

// current returns the local entity, or a NEW placeholder so that effects on
// a missing entity reach the engine and fail there.
func (r *runner) current(id string) ir.Entity {
	if e, ok := r.engine.Entity(id); ok {
		return e
	}
	return ir.Entity{ID: id, Status: ir.StatusNew}
}

func (r *runner) record(ctx context.Context, st Step) (ir.Action, error) {
	fields, err := ir.ObjectFromMap(st.Fields)
	if err != nil {
		return ir.Action{}, fmt.Errorf("fields: %w", err)
	}
	now := r.clock.Now()

	var (
		kind    ir.Kind
		forward ir.Effect
		desc    = true
		label   string
	)
	switch st.Kind {
	case "create":
		status := ir.Status(st.Status)
		if status == "" {
			status = ir.StatusNew
		}
		kind = ir.KindCreate
		forward = ir.CreateEffect{Entity: ir.Entity{ID: st.ID, Status: status, UpdatedAt: now, Fields: fields}}
		label = "create " + st.ID

	case "update":
		before := r.current(st.ID)
		after := before.Clone()
		if st.Status != "" {
			after.Status = ir.Status(st.Status)
		}
		if after.Fields == nil {
			after.Fields = ir.Object{}
		}
		maps.Copy(after.Fields, fields)
		after.UpdatedAt = now
		kind = ir.KindUpdate
		forward = ir.UpdateEffect{Before: before, After: after}
		label = "update " + st.ID

	case "status_change":
		cur, ok := r.engine.Entity(st.ID)
		if !ok {
			// ValidatePair rejects the empty from status.
			cur = ir.Entity{ID: st.ID}
		}
		kind = ir.KindStatusChange
		forward = ir.StatusChangeEffect{
			ID:            st.ID,
			From:          cur.Status,
			To:            ir.Status(st.Status),
			FromUpdatedAt: cur.UpdatedAt,
			ToUpdatedAt:   now,
		}
		label = st.ID + " -> " + st.Status

	case "delete":
		kind = ir.KindDelete
		forward = ir.DeleteEffect{Entity: r.current(st.ID)}
		label = "delete " + st.ID

	case "batch_delete":
		ents := make([]ir.Entity, len(st.IDs))
		for i, id := range st.IDs {
			ents[i] = r.current(id)
		}
		kind = ir.KindBatchDelete
		forward = ir.BatchDeleteEffect{Entities: ents}
		label = fmt.Sprintf("delete %d items", len(ents))

	case "select_item":
		kind = ir.KindSelectItem
		forward = ir.SelectEffect{From: r.engine.Selection(), To: st.ID}
		desc = false
		label = "select " + st.ID

	default:
		return ir.Action{}, fmt.Errorf("unknown kind %q", st.Kind)
	}

	var d *ir.Descriptor
	if desc {
		d = ir.DescriptorFor(r.resource, forward)
	}
	return r.engine.RecordAction(ctx, kind, forward, ir.InverseOf(forward), d, label)
}

// remoteUpdate simulates another station editing an entity. The remote copy
// starts from the backend's version, falling back to the local one.
func (r *runner) remoteUpdate(ctx context.Context, st Step) error {
	ent, err := r.backend.FetchSnapshot(ctx, st.ID)
	if errors.Is(err, backend.ErrNotFound) {
		ent, _ = r.engine.Entity(st.ID)
		err = nil
	}
	if err != nil {
		return err
	}
	ent.ID = st.ID
	if st.Status != "" {
		ent.Status = ir.Status(st.Status)
	}
	if ent.Status == "" {
		ent.Status = ir.StatusNew
	}

	var offset time.Duration
	if st.After != "" {
		offset, err = time.ParseDuration(st.After)
		if err != nil {
			return err
		}
	}
	ent.UpdatedAt = r.clock.Now().Add(offset).UTC()
	r.backend.Put(ent)
	return nil
}

func (r *runner) final() FinalState {
	st := r.engine.GetSyncStatus()
	f := FinalState{
		Entities:  r.engine.Entities(),
		Pending:   actionIDs(r.engine.ListPendingActions()),
		Synced:    r.engine.SyncedActions(),
		Applied:   r.backend.Applied(),
		Selection: r.engine.Selection(),
	}
	for _, e := range st.Errors {
		f.Errors = append(f.Errors, e.ActionID)
	}
	return f
}

func (r *runner) check(a Assertion) error {
	switch a.Type {
	case AssertPendingCount:
		got := len(r.engine.ListPendingActions())
		if got != *a.Count {
			return &AssertionError{Type: a.Type, Expected: *a.Count, Actual: got}
		}

	case AssertSyncedOrder:
		got := r.engine.SyncedActions()
		if !slices.Equal(got, a.Actions) {
			return &AssertionError{Type: a.Type, Expected: a.Actions, Actual: got}
		}

	case AssertEntityStatus:
		e, ok := r.engine.Entity(a.ID)
		if !ok {
			return &AssertionError{Type: a.Type, Expected: a.Status, Actual: "absent", Subject: a.ID}
		}
		if string(e.Status) != a.Status {
			return &AssertionError{Type: a.Type, Expected: a.Status, Actual: string(e.Status), Subject: a.ID}
		}

	case AssertEntityAbsent:
		if e, ok := r.engine.Entity(a.ID); ok {
			return &AssertionError{Type: a.Type, Expected: "absent", Actual: string(e.Status), Subject: a.ID}
		}

	case AssertCanUndo:
		if got := r.engine.CanUndo(); got != *a.Value {
			return &AssertionError{Type: a.Type, Expected: *a.Value, Actual: got}
		}

	case AssertCanRedo:
		if got := r.engine.CanRedo(); got != *a.Value {
			return &AssertionError{Type: a.Type, Expected: *a.Value, Actual: got}
		}

	case AssertSyncErrors:
		errs := r.engine.GetSyncStatus().Errors
		if a.Reason != "" {
			errs = slices.DeleteFunc(errs, func(e engine.SyncError) bool {
				return string(e.Reason) != a.Reason
			})
		}
		if len(errs) != *a.Count {
			return &AssertionError{Type: a.Type, Expected: *a.Count, Actual: len(errs), Subject: a.Reason}
		}

	case AssertDeliveries:
		if got := r.backend.Attempts(a.Action); got != *a.Count {
			return &AssertionError{Type: a.Type, Expected: *a.Count, Actual: got, Subject: a.Action}
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
