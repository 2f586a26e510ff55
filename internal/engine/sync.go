package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/kitchensync/internal/ir"
	"github.com/roach88/kitchensync/internal/syncer"
)

var _ syncer.Ledger = (*Engine)(nil)

// SyncError is one failed pending action as surfaced to callers.
type SyncError struct {
	ActionID    string           `json:"action_id"`
	Kind        ir.Kind          `json:"kind"`
	Description string           `json:"description,omitempty"`
	Code        ErrorCode        `json:"code"`
	Reason      ir.FailureReason `json:"reason"`
	LastError   string           `json:"last_error"`
	RetryCount  int              `json:"retry_count"`
	FailedAt    time.Time        `json:"failed_at"`
	EntityIDs   []string         `json:"entity_ids,omitempty"`
}

// SyncStatus is the polling view for UI badges.
type SyncStatus struct {
	Online  bool `json:"online"`
	Syncing bool `json:"syncing"`

	// PendingCount counts every unconfirmed action, failed ones included.
	PendingCount int         `json:"pending_count"`
	SyncedCount  int         `json:"synced_count"`
	LastSyncAt   time.Time   `json:"last_sync_at,omitzero"`
	Errors       []SyncError `json:"errors"`
}

// GetSyncStatus reports connectivity, queue depth and failures.
func (e *Engine) GetSyncStatus() SyncStatus {
	pending := e.queue.ListPending()
	st := SyncStatus{
		Online:       e.monitor.Online(),
		Syncing:      e.coord.Syncing(),
		PendingCount: len(pending),
		SyncedCount:  len(e.queue.Synced()),
		LastSyncAt:   e.coord.LastSyncAt(),
		Errors:       []SyncError{},
	}
	for _, a := range pending {
		if a.Sync.Status != ir.SyncFailed {
			continue
		}
		st.Errors = append(st.Errors, SyncError{
			ActionID:    a.ID,
			Kind:        a.Kind,
			Description: a.Description,
			Code:        CodeForReason(a.Sync.Reason),
			Reason:      a.Sync.Reason,
			LastError:   a.Sync.LastError,
			RetryCount:  a.Sync.RetryCount,
			FailedAt:    a.Sync.FailedAt,
			EntityIDs:   a.EntityIDs(),
		})
	}
	return st
}

// Sync runs a sync pass, skipping entries still in backoff.
func (e *Engine) Sync(ctx context.Context) (syncer.Report, error) {
	return e.coord.Sync(ctx)
}

// ForceSync runs a sync pass ignoring backoff delays.
func (e *Engine) ForceSync(ctx context.Context) (syncer.Report, error) {
	return e.coord.ForceSync(ctx)
}

// RetrySync resets delivery and max-retries failures to pending, then
// forces a sync. Superseded actions are left for ClearErrors.
func (e *Engine) RetrySync(ctx context.Context) (syncer.Report, error) {
	e.mu.Lock()
	ids := e.queue.ResetFailed()
	if len(ids) > 0 {
		e.logger.Info("retrying failed actions", "count", len(ids), "action_ids", ids)
		if err := e.persistLocked(ctx); err != nil {
			e.logger.Warn("failed to persist retry reset", "error", err)
		}
	}
	e.mu.Unlock()

	return e.coord.ForceSync(ctx)
}

// ClearErrors drops every failed action without retrying it. The dropped
// changes are never delivered; that data loss is the point of the call.
func (e *Engine) ClearErrors(ctx context.Context) ([]ir.Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.captureLocked()
	dropped := e.queue.ClearFailed()
	if len(dropped) == 0 {
		return nil, nil
	}

	if err := e.persistLocked(ctx); err != nil {
		e.rollbackLocked(prev)
		return nil, persistFailed("", err)
	}

	ids := make([]string, len(dropped))
	for i, a := range dropped {
		ids[i] = a.ID
	}
	e.logger.Warn("cleared failed actions without delivery", "count", len(ids), "action_ids", ids)
	return dropped, nil
}

// AutoSync runs the coordinator's timer loop until ctx is cancelled.
func (e *Engine) AutoSync(ctx context.Context, interval time.Duration) error {
	return e.coord.AutoSync(ctx, interval)
}

// Reconcile runs one conflict pass.
func (e *Engine) Reconcile(ctx context.Context) (syncer.ReconcileReport, error) {
	return e.coord.Reconcile(ctx)
}

// Pending implements syncer.Ledger.
func (e *Engine) Pending() []ir.Action {
	return e.queue.ListPending()
}

// MarkSynced implements syncer.Ledger.
func (e *Engine) MarkSynced(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.queue.MarkSynced(id) {
		return nil
	}
	return e.persistLocked(ctx)
}

// MarkFailed implements syncer.Ledger.
func (e *Engine) MarkFailed(ctx context.Context, id string, cause error) (ir.Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.queue.MarkFailed(id, cause.Error(), e.wall.Now().UTC().Round(0))
	if !ok {
		return ir.Action{}, nil
	}
	return a, e.persistLocked(ctx)
}

// Entity returns the local copy of an entity.
func (e *Engine) Entity(id string) (ir.Entity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.state.entities[id]
	if !ok {
		return ir.Entity{}, false
	}
	return ent.Clone(), true
}

// AcceptRemote implements syncer.Ledger. The remote entity replaces the
// local one wholesale and every pending action touching it is superseded.
// If the result cannot be saved nothing changes and no id is returned.
func (e *Engine) AcceptRemote(ctx context.Context, remote ir.Entity) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.captureLocked()
	next := e.state.clone()
	next.entities[remote.ID] = remote.Clone()
	e.state = next

	now := e.wall.Now().UTC().Round(0)
	reason := fmt.Sprintf("superseded by remote %s updated at %s", remote.ID, remote.UpdatedAt.Format(time.RFC3339))
	ids := e.queue.Touching(remote.ID)
	for _, id := range ids {
		e.queue.MarkSuperseded(id, reason, now)
	}

	if err := e.persistLocked(ctx); err != nil {
		e.rollbackLocked(prev)
		return nil, persistFailed("", err)
	}
	return ids, nil
}
