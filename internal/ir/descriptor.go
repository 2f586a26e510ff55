package ir

import (
	"fmt"
	"slices"
	"time"
)

// Op is the backend operation a descriptor asks for.
type Op string

const (
	OpInsert      Op = "insert"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpBatchUpdate Op = "batch_update"
)

// Descriptor tells the backend adapter what to do with an action. The
// action log never looks inside it; the engine only stamps ActionID.
//
// Payload conventions understood by the bundled backends:
//   - "entities": array of entity objects to upsert
//   - "id", "status", "updated_at": a status patch of a single entity
//
// Filter conventions: "id" for a single entity, "ids" for several.
type Descriptor struct {
	ActionID  string   `json:"action_id"`
	Resource  string   `json:"resource"`
	Op        Op       `json:"op"`
	Payload   Object   `json:"payload,omitempty"`
	Filter    Object   `json:"filter,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// Clone returns a deep copy. Clone of nil is nil.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	out := *d
	out.Payload = d.Payload.Clone()
	out.Filter = d.Filter.Clone()
	out.EntityIDs = slices.Clone(d.EntityIDs)
	return &out
}

// Validate checks the fields every delivery needs.
func (d *Descriptor) Validate() error {
	if d.Resource == "" {
		return fmt.Errorf("descriptor: resource is empty")
	}
	switch d.Op {
	case OpInsert, OpUpdate, OpDelete, OpBatchUpdate:
	default:
		return fmt.Errorf("descriptor: unknown op %q", d.Op)
	}
	return nil
}

// DescriptorFor derives the descriptor that ships effect e to resource.
// Selection changes have no backend counterpart and yield nil.
func DescriptorFor(resource string, e Effect) *Descriptor {
	d := &Descriptor{Resource: resource}

	switch v := e.(type) {
	case CreateEffect:
		d.Op = OpInsert
		d.Payload = Object{"entities": Array{v.Entity.Object()}}
	case UpdateEffect:
		d.Op = OpUpdate
		d.Payload = Object{"entities": Array{v.After.Object()}}
		d.Filter = Object{"id": String(v.After.ID)}
	case DeleteEffect:
		d.Op = OpDelete
		d.Filter = Object{"ids": idArray(v.EntityIDs())}
	case BatchDeleteEffect:
		d.Op = OpDelete
		d.Filter = Object{"ids": idArray(v.EntityIDs())}
	case RestoreEffect:
		d.Op = OpBatchUpdate
		arr := make(Array, len(v.Entities))
		for i, ent := range v.Entities {
			arr[i] = ent.Object()
		}
		d.Payload = Object{"entities": arr}
	case StatusChangeEffect:
		d.Op = OpUpdate
		d.Payload = Object{
			"id":     String(v.ID),
			"status": String(v.To),
		}
		if !v.ToUpdatedAt.IsZero() {
			d.Payload["updated_at"] = String(formatTime(v.ToUpdatedAt))
		}
		d.Filter = Object{"id": String(v.ID)}
	default:
		return nil
	}

	d.EntityIDs = e.EntityIDs()
	return d
}

// InvertDescriptor builds the descriptor for an undo record: same resource
// as the original, operation derived from the inverse effect.
func InvertDescriptor(orig *Descriptor, inverse Effect, actionID string) *Descriptor {
	if orig == nil {
		return nil
	}
	d := DescriptorFor(orig.Resource, inverse)
	if d == nil {
		return nil
	}
	d.ActionID = actionID
	return d
}

// RestampDescriptor copies orig for a redo record under a new action id.
func RestampDescriptor(orig *Descriptor, actionID string) *Descriptor {
	d := orig.Clone()
	if d != nil {
		d.ActionID = actionID
	}
	return d
}

// EntitiesFromPayload decodes the "entities" payload convention.
func EntitiesFromPayload(payload Object) ([]Entity, error) {
	raw, ok := payload["entities"]
	if !ok {
		return nil, nil
	}
	arr, ok := raw.(Array)
	if !ok {
		return nil, fmt.Errorf("payload entities: expected array, got %T", raw)
	}
	out := make([]Entity, 0, len(arr))
	for i, v := range arr {
		obj, ok := v.(Object)
		if !ok {
			return nil, fmt.Errorf("payload entities[%d]: expected object, got %T", i, v)
		}
		e, err := EntityFromObject(obj)
		if err != nil {
			return nil, fmt.Errorf("payload entities[%d]: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// FilterIDs decodes the "id" and "ids" filter conventions.
func FilterIDs(filter Object) []string {
	var ids []string
	if id, ok := filter["id"].(String); ok {
		ids = append(ids, string(id))
	}
	if arr, ok := filter["ids"].(Array); ok {
		for _, v := range arr {
			if id, ok := v.(String); ok {
				ids = append(ids, string(id))
			}
		}
	}
	return ids
}

// ParseTimestamp parses an RFC 3339 payload timestamp into UTC.
func ParseTimestamp(s string) (time.Time, error) {
	return parseTime(s)
}

func idArray(ids []string) Array {
	arr := make(Array, len(ids))
	for i, id := range ids {
		arr[i] = String(id)
	}
	return arr
}
