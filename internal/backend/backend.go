// Package backend defines the contract between the sync coordinator and
// the system of record, plus an in-memory backend, an HTTP client for it,
// and a chi server that exposes the in-memory backend over HTTP.
//
// Every implementation must be idempotent by action id: delivering the same
// descriptor twice applies it once.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/kitchensync/internal/ir"
)

var (
	// ErrNotFound is returned by FetchSnapshot for unknown entities.
	ErrNotFound = errors.New("backend: entity not found")

	// ErrUnavailable marks a transient backend outage.
	ErrUnavailable = errors.New("backend: unavailable")
)

// Ack confirms a delivery.
type Ack struct {
	ActionID string `json:"action_id"`

	// Duplicate is set when the action id had already been applied.
	Duplicate bool `json:"duplicate"`
}

// Adapter is the backend contract consumed by the sync coordinator.
type Adapter interface {
	// Deliver applies a descriptor. Replaying an applied action id is a no-op.
	Deliver(ctx context.Context, d ir.Descriptor) (Ack, error)

	// FetchSnapshot returns the backend's copy of an entity or ErrNotFound.
	FetchSnapshot(ctx context.Context, entityID string) (ir.Entity, error)
}

// DeliveryError describes a failed delivery.
type DeliveryError struct {
	ActionID   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("deliver %s: backend returned %d: %s", e.ActionID, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("deliver %s: %v", e.ActionID, e.Err)
	}
	return fmt.Sprintf("deliver %s: %s", e.ActionID, e.Message)
}

// Unwrap returns the underlying error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}
