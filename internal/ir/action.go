package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies what an action did.
type Kind string

const (
	KindCreate       Kind = "create"
	KindUpdate       Kind = "update"
	KindDelete       Kind = "delete"
	KindBatchDelete  Kind = "batch_delete"
	KindStatusChange Kind = "status_change"
	KindSelectItem   Kind = "select_item"
	KindUndo         Kind = "undo"
	KindRedo         Kind = "redo"
)

// Recordable reports whether callers may pass k to RecordAction.
// Undo and redo records are synthesized by the engine.
func (k Kind) Recordable() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete, KindBatchDelete, KindStatusChange, KindSelectItem:
		return true
	}
	return false
}

// SyncStatus is the delivery state of an action.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// FailureReason says why a failed action is failed.
type FailureReason string

const (
	ReasonDelivery           FailureReason = "delivery"
	ReasonMaxRetriesExceeded FailureReason = "max_retries_exceeded"
	ReasonSuperseded         FailureReason = "superseded"
)

// SyncState is the retry bookkeeping carried by every pending action.
type SyncState struct {
	Status        SyncStatus    `json:"status"`
	RetryCount    int           `json:"retry_count,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	Reason        FailureReason `json:"reason,omitempty"`
	FailedAt      time.Time     `json:"failed_at,omitzero"`
	NextAttemptAt time.Time     `json:"next_attempt_at,omitzero"`
}

// Terminal reports whether the action needs an explicit RetrySync or
// ClearErrors before it is delivered again.
func (s SyncState) Terminal() bool {
	return s.Status == SyncFailed &&
		(s.Reason == ReasonMaxRetriesExceeded || s.Reason == ReasonSuperseded)
}

// Action is an immutable record of one state transition. SyncState is the
// only part that changes after creation, and only inside the pending queue.
type Action struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"kind"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Seq         int64       `json:"seq"`
	Forward     Effect      `json:"-"`
	Inverse     Effect      `json:"-"`
	Descriptor  *Descriptor `json:"descriptor,omitempty"`

	// Ref is the id of the history action an undo or redo record replays.
	Ref string `json:"ref,omitempty"`

	Sync SyncState `json:"sync"`
}

// LocalOnly reports whether the action has no backend counterpart.
func (a Action) LocalOnly() bool {
	return a.Descriptor == nil
}

// EntityIDs lists the entities the action touches.
func (a Action) EntityIDs() []string {
	if a.Descriptor != nil && len(a.Descriptor.EntityIDs) > 0 {
		return a.Descriptor.EntityIDs
	}
	if a.Forward != nil {
		return a.Forward.EntityIDs()
	}
	return nil
}

// Clone returns a copy whose descriptor can be modified independently.
// Effects are values and are shared.
func (a Action) Clone() Action {
	a.Descriptor = a.Descriptor.Clone()
	return a
}

type actionJSON struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Seq         int64           `json:"seq"`
	Forward     json.RawMessage `json:"forward"`
	Inverse     json.RawMessage `json:"inverse"`
	Descriptor  *Descriptor     `json:"descriptor,omitempty"`
	Ref         string          `json:"ref,omitempty"`
	Sync        SyncState       `json:"sync"`
}

// MarshalJSON implements json.Marshaler, wrapping effects in typed envelopes.
func (a Action) MarshalJSON() ([]byte, error) {
	fwd, err := MarshalEffect(a.Forward)
	if err != nil {
		return nil, fmt.Errorf("action %s forward: %w", a.ID, err)
	}
	inv, err := MarshalEffect(a.Inverse)
	if err != nil {
		return nil, fmt.Errorf("action %s inverse: %w", a.ID, err)
	}
	return json.Marshal(actionJSON{
		ID:          a.ID,
		Kind:        a.Kind,
		Description: a.Description,
		CreatedAt:   a.CreatedAt,
		Seq:         a.Seq,
		Forward:     fwd,
		Inverse:     inv,
		Descriptor:  a.Descriptor,
		Ref:         a.Ref,
		Sync:        a.Sync,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw actionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fwd, err := UnmarshalEffect(raw.Forward)
	if err != nil {
		return fmt.Errorf("action %s forward: %w", raw.ID, err)
	}
	inv, err := UnmarshalEffect(raw.Inverse)
	if err != nil {
		return fmt.Errorf("action %s inverse: %w", raw.ID, err)
	}
	*a = Action{
		ID:          raw.ID,
		Kind:        raw.Kind,
		Description: raw.Description,
		CreatedAt:   raw.CreatedAt,
		Seq:         raw.Seq,
		Forward:     fwd,
		Inverse:     inv,
		Descriptor:  raw.Descriptor,
		Ref:         raw.Ref,
		Sync:        raw.Sync,
	}
	return nil
}
