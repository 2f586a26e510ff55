package backend

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/kitchensync/internal/ir"
)

// Memory is an in-process backend. It applies descriptors to an entity map,
// dedupes by action id, and can inject failures for tests and scenarios.
//
// Thread-safety: All methods are safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	entities   map[string]ir.Entity
	applied    map[string]bool
	order      []string
	attempts   map[string]int
	deliveries int
	failNext   int
	failAlways bool
}

var _ Adapter = (*Memory)(nil)

// NewMemory creates an empty backend.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[string]ir.Entity),
		applied:  make(map[string]bool),
		attempts: make(map[string]int),
	}
}

// Deliver implements Adapter.
func (m *Memory) Deliver(ctx context.Context, d ir.Descriptor) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deliveries++
	m.attempts[d.ActionID]++

	if d.ActionID == "" {
		return Ack{}, &DeliveryError{Message: "descriptor has no action id"}
	}
	if m.failAlways || m.failNext > 0 {
		if m.failNext > 0 {
			m.failNext--
		}
		return Ack{}, &DeliveryError{ActionID: d.ActionID, Err: ErrUnavailable}
	}
	if m.applied[d.ActionID] {
		return Ack{ActionID: d.ActionID, Duplicate: true}, nil
	}

	if err := m.applyLocked(d); err != nil {
		return Ack{}, &DeliveryError{ActionID: d.ActionID, Err: err}
	}
	m.applied[d.ActionID] = true
	m.order = append(m.order, d.ActionID)
	return Ack{ActionID: d.ActionID}, nil
}

func (m *Memory) applyLocked(d ir.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	entities, err := ir.EntitiesFromPayload(d.Payload)
	if err != nil {
		return err
	}

	switch d.Op {
	case ir.OpInsert, ir.OpBatchUpdate:
		for _, e := range entities {
			m.entities[e.ID] = e
		}
		return nil

	case ir.OpUpdate:
		if len(entities) > 0 {
			for _, e := range entities {
				m.entities[e.ID] = e
			}
			return nil
		}
		return m.patchLocked(d)

	case ir.OpDelete:
		for _, id := range ir.FilterIDs(d.Filter) {
			delete(m.entities, id)
		}
		return nil
	}
	return fmt.Errorf("unsupported op %q", d.Op)
}

// patchLocked applies a status patch to the entities named by the filter.
func (m *Memory) patchLocked(d ir.Descriptor) error {
	ids := ir.FilterIDs(d.Filter)
	if len(ids) == 0 {
		if id, ok := d.Payload["id"].(ir.String); ok {
			ids = []string{string(id)}
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("update without entities or filter")
	}

	for _, id := range ids {
		e, ok := m.entities[id]
		if !ok {
			return fmt.Errorf("update %s: %w", id, ErrNotFound)
		}
		if status, ok := d.Payload["status"].(ir.String); ok {
			e.Status = ir.Status(status)
		}
		if ts, ok := d.Payload["updated_at"].(ir.String); ok {
			at, err := ir.ParseTimestamp(string(ts))
			if err != nil {
				return err
			}
			e.UpdatedAt = at
		}
		m.entities[id] = e
	}
	return nil
}

// FetchSnapshot implements Adapter.
func (m *Memory) FetchSnapshot(ctx context.Context, entityID string) (ir.Entity, error) {
	if err := ctx.Err(); err != nil {
		return ir.Entity{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[entityID]
	if !ok {
		return ir.Entity{}, ErrNotFound
	}
	return e.Clone(), nil
}

// Put stores an entity directly, simulating an edit made elsewhere.
func (m *Memory) Put(e ir.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e.Clone()
}

// Entities returns every stored entity ordered by id.
func (m *Memory) Entities() []ir.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ir.Entity, 0, len(m.entities))
	for _, id := range slices.Sorted(maps.Keys(m.entities)) {
		out = append(out, m.entities[id].Clone())
	}
	return out
}

// FailNext makes the next n deliveries fail with ErrUnavailable.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// FailAlways makes every delivery fail until Recover.
func (m *Memory) FailAlways() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAlways = true
}

// Recover clears injected failures.
func (m *Memory) Recover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAlways = false
	m.failNext = 0
}

// Applied returns action ids in the order they were first applied.
func (m *Memory) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// Attempts returns how many times actionID was delivered, failures included.
func (m *Memory) Attempts(actionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[actionID]
}

// Deliveries returns the total number of Deliver calls.
func (m *Memory) Deliveries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveries
}

// String summarizes the backend for debugging.
func (m *Memory) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return fmt.Sprintf("memory backend: %d entities, %d applied", len(m.entities), len(m.order))
}
