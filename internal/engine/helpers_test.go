package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kitchensync/internal/backend"
	"github.com/roach88/kitchensync/internal/ir"
	"github.com/roach88/kitchensync/internal/network"
	"github.com/roach88/kitchensync/internal/store"
	"github.com/roach88/kitchensync/internal/testutil"
)

const resource = "order_items"

type harness struct {
	*Engine
	clock   *testutil.FakeClock
	store   *store.Memory
	backend *backend.Memory
	monitor *network.Manual
}

func newTestEngine(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:   testutil.NewFakeClock(time.Time{}),
		store:   store.NewMemory(),
		backend: backend.NewMemory(),
	}
	h.monitor = network.NewManual(true, network.WithNow(h.clock.Now))
	opts = append([]Option{
		WithClock(h.clock),
		WithIDGenerator(testutil.NewSequentialIDs("act")),
		WithSession("station-1"),
	}, opts...)
	h.Engine = New(h.store, h.backend, h.monitor, opts...)
	return h
}

func ticket(id string, status ir.Status, at time.Time) ir.Entity {
	return ir.Entity{
		ID:        id,
		Status:    status,
		UpdatedAt: at,
		Fields:    ir.Object{"name": ir.String("ticket " + id)},
	}
}

// create records a Create of a NEW ticket at the current fake time.
func (h *harness) create(t *testing.T, id string) ir.Action {
	t.Helper()
	ent := ticket(id, ir.StatusNew, h.clock.Now())
	fwd := ir.CreateEffect{Entity: ent}
	a, err := h.RecordAction(context.Background(), ir.KindCreate, fwd, ir.InverseOf(fwd), ir.DescriptorFor(resource, fwd), "create "+id)
	require.NoError(t, err)
	return a
}

// setStatus records a StatusChange of id to status, one minute later.
func (h *harness) setStatus(t *testing.T, id string, to ir.Status) ir.Action {
	t.Helper()
	cur, ok := h.Entity(id)
	require.True(t, ok, "entity %s", id)
	h.clock.Advance(time.Minute)

	fwd := ir.StatusChangeEffect{
		ID:            id,
		From:          cur.Status,
		To:            to,
		FromUpdatedAt: cur.UpdatedAt,
		ToUpdatedAt:   h.clock.Now(),
	}
	a, err := h.RecordAction(context.Background(), ir.KindStatusChange, fwd, ir.InverseOf(fwd), ir.DescriptorFor(resource, fwd), string(to))
	require.NoError(t, err)
	return a
}

func pendingIDs(actions []ir.Action) []string {
	ids := make([]string, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	return ids
}
