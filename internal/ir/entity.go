package ir

import (
	"fmt"
	"time"
)

// Status is the kitchen workflow state of an order item.
type Status string

// Well-known statuses. Any non-empty status is accepted.
const (
	StatusNew       Status = "NEW"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusServed    Status = "SERVED"
	StatusCancelled Status = "CANCELLED"
)

// Entity is a managed domain object: an order or order item the kitchen
// display lets a user mutate.
type Entity struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Fields    Object    `json:"fields,omitempty"`
}

// Clone returns a copy that shares no mutable state with e.
func (e Entity) Clone() Entity {
	e.Fields = e.Fields.Clone()
	return e
}

// Validate checks the fields every entity must carry.
func (e Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: entity id is empty", ErrInvalidEffect)
	}
	if e.Status == "" {
		return fmt.Errorf("%w: entity %s has no status", ErrInvalidEffect, e.ID)
	}
	return nil
}

// Object renders the entity as a value tree for descriptor payloads and
// checksums. Timestamps are RFC 3339 strings in UTC.
func (e Entity) Object() Object {
	obj := Object{
		"id":     String(e.ID),
		"status": String(e.Status),
	}
	if !e.UpdatedAt.IsZero() {
		obj["updated_at"] = String(formatTime(e.UpdatedAt))
	}
	if len(e.Fields) > 0 {
		obj["fields"] = e.Fields.Clone()
	}
	return obj
}

// EntityFromObject is the inverse of Entity.Object.
func EntityFromObject(obj Object) (Entity, error) {
	var e Entity

	id, ok := obj["id"].(String)
	if !ok || id == "" {
		return e, fmt.Errorf("entity object: missing id")
	}
	e.ID = string(id)

	status, ok := obj["status"].(String)
	if !ok {
		return e, fmt.Errorf("entity object %s: missing status", e.ID)
	}
	e.Status = Status(status)

	if ts, ok := obj["updated_at"].(String); ok {
		t, err := parseTime(string(ts))
		if err != nil {
			return e, fmt.Errorf("entity object %s: %w", e.ID, err)
		}
		e.UpdatedAt = t
	}

	if fields, ok := obj["fields"].(Object); ok {
		e.Fields = fields.Clone()
	}
	return e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
