package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kitchensync/internal/ir"
	"github.com/roach88/kitchensync/internal/queue"
	"github.com/roach88/kitchensync/internal/store"
	"github.com/roach88/kitchensync/internal/testutil"
)

func TestRecordAction_CursorAtEnd(t *testing.T) {
	h := newTestEngine(t)

	for i, id := range []string{"1", "2", "3"} {
		h.create(t, id)
		assert.Equal(t, i, h.Cursor())
		assert.Equal(t, len(h.History())-1, h.Cursor())
	}
	assert.True(t, h.CanUndo())
	assert.False(t, h.CanRedo())
}

func TestRecordAction_StampsAndEnqueues(t *testing.T) {
	h := newTestEngine(t)

	a := h.create(t, "1")
	assert.Equal(t, "act-001", a.ID)
	assert.Equal(t, ir.KindCreate, a.Kind)
	assert.Equal(t, testutil.Epoch, a.CreatedAt)
	assert.Equal(t, int64(1), a.Seq)
	require.NotNil(t, a.Descriptor)
	assert.Equal(t, "act-001", a.Descriptor.ActionID)
	assert.Equal(t, []string{"1"}, a.Descriptor.EntityIDs)

	assert.Equal(t, []string{"act-001"}, pendingIDs(h.ListPendingActions()))
	assert.Equal(t, 1, h.store.Saves(), "every mutation persists")
}

func TestRecordAction_InvalidEffectIsAtomic(t *testing.T) {
	h := newTestEngine(t)
	h.create(t, "1")
	saves := h.store.Saves()

	ghost := ticket("ghost", ir.StatusNew, testutil.Epoch)
	fwd := ir.DeleteEffect{Entity: ghost}
	_, err := h.RecordAction(context.Background(), ir.KindDelete, fwd, ir.InverseOf(fwd), ir.DescriptorFor(resource, fwd), "")
	require.Error(t, err)
	assert.True(t, IsInvalidEffect(err))

	assert.Len(t, h.History(), 1)
	assert.Len(t, h.ListPendingActions(), 1)
	assert.Len(t, h.Entities(), 1)
	assert.Equal(t, saves, h.store.Saves())
}

func TestRecordAction_RejectsBadInput(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()
	ent := ticket("1", ir.StatusNew, testutil.Epoch)
	fwd := ir.CreateEffect{Entity: ent}

	_, err := h.RecordAction(ctx, ir.KindUndo, fwd, ir.InverseOf(fwd), nil, "")
	assert.True(t, IsInvalidEffect(err), "undo is not recordable")

	_, err = h.RecordAction(ctx, ir.KindUpdate, fwd, ir.InverseOf(fwd), nil, "")
	assert.True(t, IsInvalidEffect(err), "kind/effect mismatch")

	_, err = h.RecordAction(ctx, ir.KindCreate, fwd, ir.InverseOf(fwd), &ir.Descriptor{Op: ir.OpInsert}, "")
	assert.True(t, IsInvalidEffect(err), "descriptor without resource")

	assert.Empty(t, h.History())
}

func TestRecordAction_PersistFailureRollsBack(t *testing.T) {
	h := newTestEngine(t)
	h.create(t, "1")

	h.store.FailSaves(1)
	ent := ticket("2", ir.StatusNew, testutil.Epoch)
	fwd := ir.CreateEffect{Entity: ent}
	_, err := h.RecordAction(context.Background(), ir.KindCreate, fwd, ir.InverseOf(fwd), ir.DescriptorFor(resource, fwd), "")
	require.Error(t, err)
	assert.True(t, IsPersistFailed(err))
	assert.ErrorIs(t, err, store.ErrInjected)

	assert.Len(t, h.History(), 1)
	assert.Equal(t, 0, h.Cursor())
	assert.Len(t, h.ListPendingActions(), 1)
	_, ok := h.Entity("2")
	assert.False(t, ok)
}

func TestRecordAction_LocalOnlySelection(t *testing.T) {
	h := newTestEngine(t)
	h.create(t, "1")

	fwd := ir.SelectEffect{From: "", To: "1"}
	a, err := h.RecordAction(context.Background(), ir.KindSelectItem, fwd, ir.InverseOf(fwd), nil, "select 1")
	require.NoError(t, err)
	assert.True(t, a.LocalOnly())
	assert.Equal(t, "1", h.Selection())
	assert.Len(t, h.History(), 2)
	assert.Len(t, h.ListPendingActions(), 1, "selection is never delivered")

	rec, ok, err := h.Undo(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.LocalOnly())
	assert.Equal(t, "", h.Selection())
	assert.Len(t, h.ListPendingActions(), 1)
}

func TestUndo_NoOp(t *testing.T) {
	h := newTestEngine(t)

	a, ok, err := h.Undo(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, a.ID)

	_, ok, err = h.Redo(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.Saves())
}

func TestUndo_EnqueuesInvertedRecord(t *testing.T) {
	h := newTestEngine(t)
	h.create(t, "1")
	change := h.setStatus(t, "1", ir.StatusPreparing)

	rec, ok, err := h.Undo(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, ir.KindUndo, rec.Kind)
	assert.Equal(t, change.ID, rec.Ref)
	assert.Equal(t, change.Inverse, rec.Forward)
	require.NotNil(t, rec.Descriptor)
	assert.Equal(t, rec.ID, rec.Descriptor.ActionID)
	assert.Equal(t, resource, rec.Descriptor.Resource)
	assert.Equal(t, ir.String(ir.StatusNew), rec.Descriptor.Payload["status"])

	got, _ := h.Entity("1")
	assert.Equal(t, ir.StatusNew, got.Status)
	assert.Equal(t, 0, h.Cursor())
	assert.True(t, h.CanRedo())
	assert.Len(t, h.History(), 2, "undo records are not history entries")
	assert.Equal(t, []string{"act-001", "act-002", "act-003"}, pendingIDs(h.ListPendingActions()))
}

func TestUndoRedo_RoundTripEveryKind(t *testing.T) {
	t0 := testutil.Epoch
	burger := ticket("1", ir.StatusNew, t0)
	fries := ticket("2", ir.StatusNew, t0)
	shake := ticket("3", ir.StatusNew, t0)
	edited := burger.Clone()
	edited.Fields["name"] = ir.String("double burger")
	edited.UpdatedAt = t0.Add(time.Minute)

	tests := []struct {
		kind ir.Kind
		fwd  ir.Effect
	}{
		{ir.KindCreate, ir.CreateEffect{Entity: shake}},
		{ir.KindUpdate, ir.UpdateEffect{Before: burger, After: edited}},
		{ir.KindDelete, ir.DeleteEffect{Entity: fries}},
		{ir.KindBatchDelete, ir.BatchDeleteEffect{Entities: []ir.Entity{burger, fries}}},
		{ir.KindStatusChange, ir.StatusChangeEffect{ID: "1", From: ir.StatusNew, To: ir.StatusReady, FromUpdatedAt: t0, ToUpdatedAt: t0.Add(time.Minute)}},
		{ir.KindSelectItem, ir.SelectEffect{From: "1", To: "2"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			h := newTestEngine(t)
			ctx := context.Background()
			for _, e := range []ir.Entity{burger, fries} {
				fwd := ir.CreateEffect{Entity: e}
				_, err := h.RecordAction(ctx, ir.KindCreate, fwd, ir.InverseOf(fwd), ir.DescriptorFor(resource, fwd), "")
				require.NoError(t, err)
			}
			sel := ir.SelectEffect{From: "", To: "1"}
			_, err := h.RecordAction(ctx, ir.KindSelectItem, sel, ir.InverseOf(sel), nil, "")
			require.NoError(t, err)

			before, beforeSel := h.Entities(), h.Selection()

			_, err = h.RecordAction(ctx, tt.kind, tt.fwd, ir.InverseOf(tt.fwd), ir.DescriptorFor(resource, tt.fwd), "")
			require.NoError(t, err)
			after, afterSel := h.Entities(), h.Selection()

			_, ok, err := h.Undo(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, before, h.Entities())
			assert.Equal(t, beforeSel, h.Selection())

			_, ok, err = h.Redo(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, after, h.Entities())
			assert.Equal(t, afterSel, h.Selection())
		})
	}
}

func TestRecordAfterUndo_DiscardsRedo(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()
	h.create(t, "1")
	h.create(t, "2")
	h.create(t, "3")

	for i := 0; i < 2; i++ {
		_, _, err := h.Undo(ctx)
		require.NoError(t, err)
	}
	require.True(t, h.CanRedo())

	h.create(t, "4")
	assert.False(t, h.CanRedo())
	assert.Equal(t, len(h.History())-1, h.Cursor())
	assert.Len(t, h.History(), 2)
}

func TestHistoryBound(t *testing.T) {
	h := newTestEngine(t, WithMaxHistory(3))
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		h.create(t, id)
		assert.LessOrEqual(t, len(h.History()), 3)
		assert.Equal(t, len(h.History())-1, h.Cursor())
	}

	ctx := context.Background()
	undone := 0
	for h.CanUndo() {
		_, ok, err := h.Undo(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		undone++
	}
	assert.Equal(t, 3, undone)
	assert.Len(t, h.Entities(), 2, "evicted creates cannot be undone")
}

func TestCreatedAt_NonDecreasing(t *testing.T) {
	h := newTestEngine(t)
	first := h.create(t, "1")

	h.clock.Set(testutil.Epoch.Add(-time.Hour))
	second := h.create(t, "2")

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, []string{first.ID, second.ID}, pendingIDs(h.ListPendingActions()))
}

func TestGetSyncStatus(t *testing.T) {
	h := newTestEngine(t, WithRetryPolicy(queue.RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 1}))
	ctx := context.Background()
	h.create(t, "1")
	h.create(t, "2")

	st := h.GetSyncStatus()
	assert.True(t, st.Online)
	assert.False(t, st.Syncing)
	assert.Equal(t, 2, st.PendingCount)
	assert.Empty(t, st.Errors)

	h.backend.FailNext(1)
	_, err := h.Sync(ctx)
	require.NoError(t, err)

	st = h.GetSyncStatus()
	assert.Equal(t, 1, st.PendingCount)
	assert.Equal(t, 1, st.SyncedCount)
	assert.Equal(t, h.clock.Now(), st.LastSyncAt)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, "act-001", st.Errors[0].ActionID)
	assert.Equal(t, ErrCodeMaxRetriesExceeded, st.Errors[0].Code)
	assert.Equal(t, 1, st.Errors[0].RetryCount)
}

func TestScenario_OfflineThenAutoSync(t *testing.T) {
	h := newTestEngine(t)

	create := h.create(t, "1")
	h.monitor.GoOffline()
	update := h.setStatus(t, "1", ir.StatusPreparing)

	rep, err := h.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Offline)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.AutoSync(ctx, time.Hour) }()

	require.Eventually(t, func() bool { return h.monitor.Subscribers() == 1 }, time.Second, time.Millisecond)
	h.monitor.GoOnline()

	require.Eventually(t, func() bool { return h.GetSyncStatus().PendingCount == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{create.ID, update.ID}, h.SyncedActions())
	assert.Equal(t, []string{create.ID, update.ID}, h.backend.Applied())

	cancel()
	<-done
}

func TestScenario_ConflictSupersedesLoser(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	h.create(t, "1")
	_, err := h.Sync(ctx)
	require.NoError(t, err)

	change := h.setStatus(t, "1", ir.StatusPreparing)

	// The expo station cancels the ticket after our local change.
	remote := ticket("1", ir.StatusCancelled, h.clock.Now().Add(time.Minute))
	h.backend.Put(remote)

	local, ok := h.Entity("1")
	require.True(t, ok)

	rep, err := h.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Conflicts, 1)
	assert.Equal(t, []string{change.ID}, rep.Conflicts[0].Superseded)
	assert.NotEqual(t, local.UpdatedAt, remote.UpdatedAt)

	got, _ := h.Entity("1")
	assert.Equal(t, ir.StatusCancelled, got.Status)

	st := h.GetSyncStatus()
	require.Len(t, st.Errors, 1)
	assert.Equal(t, ir.ReasonSuperseded, st.Errors[0].Reason)
	assert.Equal(t, ErrCodeSuperseded, st.Errors[0].Code)

	// RetrySync leaves superseded actions alone.
	_, err = h.RetrySync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, h.backend.Attempts(change.ID))
	assert.Len(t, h.GetSyncStatus().Errors, 1)
}

func TestScenario_UndoAfterSync(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, h *harness) ir.Action
	}{
		{"status change", func(t *testing.T, h *harness) ir.Action {
			return h.setStatus(t, "1", ir.StatusPreparing)
		}},
		{"update", func(t *testing.T, h *harness) ir.Action {
			cur, _ := h.Entity("1")
			h.clock.Advance(time.Minute)
			next := cur.Clone()
			next.Status = ir.StatusPreparing
			next.Fields["name"] = ir.String("ticket 1, no onions")
			next.UpdatedAt = h.clock.Now()
			fwd := ir.UpdateEffect{Before: cur, After: next}
			a, err := h.RecordAction(context.Background(), ir.KindUpdate, fwd, ir.InverseOf(fwd), ir.DescriptorFor(resource, fwd), "no onions")
			require.NoError(t, err)
			return a
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestEngine(t)
			ctx := context.Background()

			h.create(t, "1")
			tt.change(t, h)
			_, err := h.Sync(ctx)
			require.NoError(t, err)

			undo, ok, err := h.Undo(ctx)
			require.NoError(t, err)
			require.True(t, ok)

			rep, err := h.Reconcile(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, rep.Checked)
			assert.Empty(t, rep.Conflicts)
			assert.Empty(t, h.GetSyncStatus().Errors)

			got, _ := h.Entity("1")
			assert.Equal(t, ir.StatusNew, got.Status)

			// AutoSync reconciles first, then delivers the undo record.
			h.clock.Advance(time.Minute)
			autoCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() { _ = h.AutoSync(autoCtx, time.Hour) }()

			require.Eventually(t, func() bool { return h.GetSyncStatus().PendingCount == 0 }, time.Second, 5*time.Millisecond)
			assert.Contains(t, h.SyncedActions(), undo.ID)
			remote, err := h.backend.FetchSnapshot(ctx, "1")
			require.NoError(t, err)
			assert.Equal(t, ir.StatusNew, remote.Status)
			assert.Equal(t, ir.String("ticket 1"), remote.Fields["name"])
		})
	}
}

func TestAcceptRemote_PersistFailureRollsBack(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()
	h.create(t, "1")
	change := h.setStatus(t, "1", ir.StatusPreparing)

	h.store.FailSaves(1)
	ids, err := h.AcceptRemote(ctx, ticket("1", ir.StatusCancelled, h.clock.Now().Add(time.Minute)))
	require.Error(t, err)
	assert.True(t, IsPersistFailed(err))
	assert.ErrorIs(t, err, store.ErrInjected)
	assert.Empty(t, ids)

	got, _ := h.Entity("1")
	assert.Equal(t, ir.StatusPreparing, got.Status)
	assert.Empty(t, h.GetSyncStatus().Errors)
	a, ok := h.queue.Get(change.ID)
	require.True(t, ok)
	assert.Equal(t, ir.SyncPending, a.Sync.Status)
}

func TestDiscardUndo_UnblocksStuckInverse(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()
	created := h.create(t, "1")

	gone, _ := h.Entity("1")
	fwd := ir.DeleteEffect{Entity: gone}
	deleted, err := h.RecordAction(ctx, ir.KindDelete, fwd, ir.InverseOf(fwd), ir.DescriptorFor(resource, fwd), "delete 1")
	require.NoError(t, err)

	// A remote copy brings the ticket back, so the delete can no longer be
	// reversed by recreating it.
	_, err = h.AcceptRemote(ctx, ticket("1", ir.StatusReady, h.clock.Now().Add(time.Minute)))
	require.NoError(t, err)

	_, _, err = h.Undo(ctx)
	require.Error(t, err)
	assert.True(t, IsInvalidEffect(err))
	assert.True(t, h.CanUndo())
	assert.Equal(t, 1, h.Cursor())

	dropped, ok, err := h.DiscardUndo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, deleted.ID, dropped.ID)
	assert.Equal(t, 0, h.Cursor())
	assert.False(t, h.CanRedo())
	got, _ := h.Entity("1")
	assert.Equal(t, ir.StatusReady, got.Status, "discarding applies nothing")

	rec, ok, err := h.Undo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, rec.Ref)

	_, ok, err = h.DiscardUndo(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScenario_MaxRetries(t *testing.T) {
	h := newTestEngine(t, WithRetryPolicy(queue.RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 3}))
	ctx := context.Background()
	a := h.create(t, "1")
	h.backend.FailAlways()

	for i := 0; i < 10; i++ {
		_, err := h.Sync(ctx)
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
	}
	assert.Equal(t, 3, h.backend.Attempts(a.ID))

	st := h.GetSyncStatus()
	require.Len(t, st.Errors, 1)
	assert.Equal(t, ir.ReasonMaxRetriesExceeded, st.Errors[0].Reason)

	h.backend.Recover()
	rep, err := h.RetrySync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, rep.Succeeded)
	assert.Empty(t, h.GetSyncStatus().Errors)
}

func TestClearErrors(t *testing.T) {
	h := newTestEngine(t, WithRetryPolicy(queue.RetryPolicy{BaseDelay: time.Second, MaxRetries: 1}))
	ctx := context.Background()
	a := h.create(t, "1")
	b := h.create(t, "2")

	h.backend.FailNext(1)
	_, err := h.Sync(ctx)
	require.NoError(t, err)

	dropped, err := h.ClearErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, pendingIDs(dropped))
	assert.Empty(t, h.ListPendingActions())
	assert.Equal(t, []string{b.ID}, h.SyncedActions())

	dropped, err = h.ClearErrors(ctx)
	require.NoError(t, err)
	assert.Empty(t, dropped)
}

func TestIdempotentRedelivery(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()
	a := h.create(t, "1")

	_, err := h.Sync(ctx)
	require.NoError(t, err)

	// Simulate a lost ack: the same action is queued again.
	h.queue.Restore([]ir.Action{a}, nil)
	_, err = h.ForceSync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, h.backend.Attempts(a.ID))
	assert.Equal(t, []string{a.ID}, h.backend.Applied())
}

func TestRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kitchen.db")

	st, err := store.Open(path, "station-1")
	require.NoError(t, err)
	clock := testutil.NewFakeClock(time.Time{})

	h := newTestEngine(t)
	e1 := New(st, h.backend, h.monitor, WithClock(clock), WithSession("station-1"), WithIDGenerator(testutil.NewSequentialIDs("a")))
	for _, id := range []string{"1", "2"} {
		fwd := ir.CreateEffect{Entity: ticket(id, ir.StatusNew, clock.Now())}
		_, err := e1.RecordAction(ctx, ir.KindCreate, fwd, ir.InverseOf(fwd), ir.DescriptorFor(resource, fwd), "")
		require.NoError(t, err)
	}
	_, _, err = e1.Undo(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st2, err := store.Open(path, "station-1")
	require.NoError(t, err)
	defer st2.Close()

	e2 := New(st2, h.backend, h.monitor, WithClock(clock), WithSession("station-1"), WithIDGenerator(testutil.NewSequentialIDs("b")))
	require.NoError(t, e2.Restore(ctx))

	assert.Equal(t, e1.History(), e2.History())
	assert.Equal(t, 0, e2.Cursor())
	assert.True(t, e2.CanRedo())
	assert.Equal(t, e1.Entities(), e2.Entities())
	assert.Equal(t, pendingIDs(e1.ListPendingActions()), pendingIDs(e2.ListPendingActions()))

	next, ok, err := e2.Redo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), next.Seq, "clock resumes after the saved seq")
}

func TestRestore_DiscardsStale(t *testing.T) {
	ctx := context.Background()
	h := newTestEngine(t, WithMaxAge(time.Hour))
	h.create(t, "1")

	h.clock.Advance(2 * time.Hour)
	fresh := New(h.store, h.backend, h.monitor, WithClock(h.clock), WithSession("station-1"), WithMaxAge(time.Hour))
	require.NoError(t, fresh.Restore(ctx))

	assert.Empty(t, fresh.History())
	assert.Empty(t, fresh.ListPendingActions())
}

func TestRestore_AbsentAndCorrupt(t *testing.T) {
	ctx := context.Background()
	h := newTestEngine(t)
	require.NoError(t, h.Restore(ctx))
	assert.Empty(t, h.History())

	h.store.Set([]byte(`{"schema_version": 1, "checksum": "nope"`))
	require.NoError(t, h.Restore(ctx))
	assert.Empty(t, h.History())
}

func TestRestore_OtherSession(t *testing.T) {
	ctx := context.Background()
	h := newTestEngine(t)
	h.create(t, "1")

	other := New(h.store, h.backend, h.monitor, WithClock(h.clock), WithSession("station-2"))
	require.NoError(t, other.Restore(ctx))
	assert.Empty(t, other.History())
}

func TestStartAutosave(t *testing.T) {
	h := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Error(t, h.StartAutosave(ctx, "not a schedule"))
	require.NoError(t, h.StartAutosave(ctx, "@every 1s"))

	require.Eventually(t, func() bool { return h.store.Saves() > 0 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, h.Close(ctx))
}
