package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidEffect marks an effect that cannot be recorded or applied.
var ErrInvalidEffect = errors.New("invalid effect")

// Effect is a sealed set of entity mutations. Each recordable Kind has one
// forward variant; RestoreEffect exists only as the inverse of a batch delete.
type Effect interface {
	effectType() string

	// EntityIDs lists the entities the effect touches. Empty for selection.
	EntityIDs() []string
}

// CreateEffect inserts a new entity.
type CreateEffect struct {
	Entity Entity `json:"entity"`
}

// UpdateEffect replaces an entity wholesale.
type UpdateEffect struct {
	Before Entity `json:"before"`
	After  Entity `json:"after"`
}

// DeleteEffect removes an entity.
type DeleteEffect struct {
	Entity Entity `json:"entity"`
}

// BatchDeleteEffect removes several entities at once.
type BatchDeleteEffect struct {
	Entities []Entity `json:"entities"`
}

// RestoreEffect reinserts entities removed by a batch delete.
type RestoreEffect struct {
	Entities []Entity `json:"entities"`
}

// StatusChangeEffect moves an entity between statuses.
type StatusChangeEffect struct {
	ID            string    `json:"id"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	FromUpdatedAt time.Time `json:"from_updated_at"`
	ToUpdatedAt   time.Time `json:"to_updated_at"`
}

// SelectEffect changes the selected item. Selection is local UI state.
type SelectEffect struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (CreateEffect) effectType() string       { return "create" }
func (UpdateEffect) effectType() string       { return "update" }
func (DeleteEffect) effectType() string       { return "delete" }
func (BatchDeleteEffect) effectType() string  { return "batch_delete" }
func (RestoreEffect) effectType() string      { return "restore" }
func (StatusChangeEffect) effectType() string { return "status_change" }
func (SelectEffect) effectType() string       { return "select" }

func (e CreateEffect) EntityIDs() []string       { return []string{e.Entity.ID} }
func (e UpdateEffect) EntityIDs() []string       { return []string{e.After.ID} }
func (e DeleteEffect) EntityIDs() []string       { return []string{e.Entity.ID} }
func (e BatchDeleteEffect) EntityIDs() []string  { return entityIDs(e.Entities) }
func (e RestoreEffect) EntityIDs() []string      { return entityIDs(e.Entities) }
func (e StatusChangeEffect) EntityIDs() []string { return []string{e.ID} }
func (SelectEffect) EntityIDs() []string         { return nil }

func entityIDs(entities []Entity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}

// InverseOf builds the effect that reverses e. It is a convenience for
// callers assembling RecordAction arguments; the engine itself only ever
// applies the inverse it was given.
func InverseOf(e Effect) Effect {
	switch v := e.(type) {
	case CreateEffect:
		return DeleteEffect{Entity: v.Entity.Clone()}
	case DeleteEffect:
		return CreateEffect{Entity: v.Entity.Clone()}
	case UpdateEffect:
		return UpdateEffect{Before: v.After.Clone(), After: v.Before.Clone()}
	case BatchDeleteEffect:
		return RestoreEffect{Entities: cloneEntities(v.Entities)}
	case RestoreEffect:
		return BatchDeleteEffect{Entities: cloneEntities(v.Entities)}
	case StatusChangeEffect:
		return StatusChangeEffect{
			ID:            v.ID,
			From:          v.To,
			To:            v.From,
			FromUpdatedAt: v.ToUpdatedAt,
			ToUpdatedAt:   v.FromUpdatedAt,
		}
	case SelectEffect:
		return SelectEffect{From: v.To, To: v.From}
	}
	return nil
}

// WrittenAt returns the UpdatedAt that applying e leaves on entity id. ok is
// false when e removes or does not touch id, or writes no timestamp.
func WrittenAt(e Effect, id string) (t time.Time, ok bool) {
	switch v := e.(type) {
	case CreateEffect:
		if v.Entity.ID == id {
			t = v.Entity.UpdatedAt
		}
	case UpdateEffect:
		if v.After.ID == id {
			t = v.After.UpdatedAt
		}
	case RestoreEffect:
		for _, ent := range v.Entities {
			if ent.ID == id {
				t = ent.UpdatedAt
				break
			}
		}
	case StatusChangeEffect:
		if v.ID == id {
			t = v.ToUpdatedAt
		}
	}
	return t, !t.IsZero()
}

func cloneEntities(in []Entity) []Entity {
	out := make([]Entity, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

// ValidatePair checks that forward is the variant for kind and that inverse
// reverses it. Errors wrap ErrInvalidEffect.
func ValidatePair(kind Kind, forward, inverse Effect) error {
	if forward == nil || inverse == nil {
		return fmt.Errorf("%w: %s requires both forward and inverse effects", ErrInvalidEffect, kind)
	}

	switch kind {
	case KindCreate:
		f, ok1 := forward.(CreateEffect)
		i, ok2 := inverse.(DeleteEffect)
		if !ok1 || !ok2 {
			return pairMismatch(kind, forward, inverse)
		}
		if err := f.Entity.Validate(); err != nil {
			return err
		}
		return sameIDs(kind, f.Entity.ID, i.Entity.ID)

	case KindUpdate:
		f, ok1 := forward.(UpdateEffect)
		i, ok2 := inverse.(UpdateEffect)
		if !ok1 || !ok2 {
			return pairMismatch(kind, forward, inverse)
		}
		if err := f.After.Validate(); err != nil {
			return err
		}
		return sameIDs(kind, f.Before.ID, f.After.ID, i.Before.ID, i.After.ID)

	case KindDelete:
		f, ok1 := forward.(DeleteEffect)
		i, ok2 := inverse.(CreateEffect)
		if !ok1 || !ok2 {
			return pairMismatch(kind, forward, inverse)
		}
		if err := i.Entity.Validate(); err != nil {
			return err
		}
		return sameIDs(kind, f.Entity.ID, i.Entity.ID)

	case KindBatchDelete:
		f, ok1 := forward.(BatchDeleteEffect)
		i, ok2 := inverse.(RestoreEffect)
		if !ok1 || !ok2 {
			return pairMismatch(kind, forward, inverse)
		}
		if len(f.Entities) == 0 {
			return fmt.Errorf("%w: batch delete has no entities", ErrInvalidEffect)
		}
		fids, iids := f.EntityIDs(), i.EntityIDs()
		slices.Sort(fids)
		slices.Sort(iids)
		if !slices.Equal(fids, iids) {
			return fmt.Errorf("%w: batch delete and restore cover different entities", ErrInvalidEffect)
		}
		if len(slices.Compact(fids)) != len(f.Entities) {
			return fmt.Errorf("%w: batch delete lists an entity twice", ErrInvalidEffect)
		}
		for _, e := range i.Entities {
			if err := e.Validate(); err != nil {
				return err
			}
		}
		return nil

	case KindStatusChange:
		f, ok1 := forward.(StatusChangeEffect)
		i, ok2 := inverse.(StatusChangeEffect)
		if !ok1 || !ok2 {
			return pairMismatch(kind, forward, inverse)
		}
		if f.To == "" || f.From == "" {
			return fmt.Errorf("%w: status change needs from and to", ErrInvalidEffect)
		}
		if i.From != f.To || i.To != f.From {
			return fmt.Errorf("%w: inverse status change does not reverse %s -> %s", ErrInvalidEffect, f.From, f.To)
		}
		return sameIDs(kind, f.ID, i.ID)

	case KindSelectItem:
		f, ok1 := forward.(SelectEffect)
		i, ok2 := inverse.(SelectEffect)
		if !ok1 || !ok2 {
			return pairMismatch(kind, forward, inverse)
		}
		if i.From != f.To || i.To != f.From {
			return fmt.Errorf("%w: inverse selection does not reverse %q -> %q", ErrInvalidEffect, f.From, f.To)
		}
		return nil
	}

	return fmt.Errorf("%w: kind %q cannot be recorded", ErrInvalidEffect, kind)
}

func pairMismatch(kind Kind, forward, inverse Effect) error {
	return fmt.Errorf("%w: %s cannot use forward %s with inverse %s",
		ErrInvalidEffect, kind, forward.effectType(), inverse.effectType())
}

func sameIDs(kind Kind, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: %s effect has an empty entity id", ErrInvalidEffect, kind)
		}
		if id != ids[0] {
			return fmt.Errorf("%w: %s effects disagree on entity id (%s vs %s)", ErrInvalidEffect, kind, ids[0], id)
		}
	}
	return nil
}

type effectEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalEffect encodes an effect inside a typed envelope.
func MarshalEffect(e Effect) ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s effect: %w", e.effectType(), err)
	}
	return json.Marshal(effectEnvelope{Type: e.effectType(), Data: data})
}

// UnmarshalEffect decodes an envelope written by MarshalEffect.
func UnmarshalEffect(data []byte) (Effect, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var env effectEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal effect envelope: %w", err)
	}

	var (
		e   Effect
		err error
	)
	switch env.Type {
	case "create":
		e, err = decodeEffect[CreateEffect](env.Data)
	case "update":
		e, err = decodeEffect[UpdateEffect](env.Data)
	case "delete":
		e, err = decodeEffect[DeleteEffect](env.Data)
	case "batch_delete":
		e, err = decodeEffect[BatchDeleteEffect](env.Data)
	case "restore":
		e, err = decodeEffect[RestoreEffect](env.Data)
	case "status_change":
		e, err = decodeEffect[StatusChangeEffect](env.Data)
	case "select":
		e, err = decodeEffect[SelectEffect](env.Data)
	default:
		return nil, fmt.Errorf("unknown effect type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s effect: %w", env.Type, err)
	}
	return e, nil
}

func decodeEffect[T Effect](data []byte) (Effect, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
