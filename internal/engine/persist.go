package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/roach88/kitchensync/internal/ir"
	"github.com/roach88/kitchensync/internal/store"
)

// encodeLocked serializes the current state.
func (e *Engine) encodeLocked() ([]byte, error) {
	return store.Encode(store.State{
		Session:   e.session,
		History:   e.history.Entries(),
		Cursor:    e.history.Cursor(),
		Pending:   e.queue.ListPending(),
		Synced:    e.queue.Synced(),
		Entities:  e.state.sorted(),
		Selection: e.state.selection,
		Seq:       e.clock.Current(),
		SavedAt:   e.wall.Now().UTC().Round(0),
	})
}

// persistLocked saves state and refreshes the queue gauges.
func (e *Engine) persistLocked(ctx context.Context) error {
	e.publishLocked()
	if e.store == nil {
		return nil
	}

	data, err := e.encodeLocked()
	if err != nil {
		return err
	}
	if err := e.store.Save(ctx, data); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (e *Engine) publishLocked() {
	if e.metrics == nil {
		return
	}
	pending := e.queue.ListPending()
	failed := 0
	for _, a := range pending {
		if a.Sync.Status == ir.SyncFailed {
			failed++
		}
	}
	e.metrics.SetQueue(len(pending), failed)
}

// Save writes the current state.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persistLocked(ctx)
}

// Restore loads saved state. Absent, stale, incompatible and corrupt state
// are logged and the engine stays empty; only storage I/O errors are
// returned.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	data, err := e.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Info("no saved state", "session", e.session)
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := store.Decode(data, e.wall.Now(), e.maxAge)
	switch {
	case errors.Is(err, store.ErrStale):
		e.logger.Info("discarding stale saved state",
			"code", ErrCodeStaleState, "session", e.session, "saved_at", s.SavedAt, "max_age", e.maxAge)
		return nil
	case errors.Is(err, store.ErrIncompatible), errors.Is(err, store.ErrCorrupt):
		e.logger.Warn("discarding unreadable saved state",
			"code", ErrCodeStaleState, "session", e.session, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("restore: %w", err)
	}

	if s.Session != e.session {
		e.logger.Warn("discarding saved state for another session",
			"code", ErrCodeStaleState, "session", e.session, "saved_session", s.Session)
		return nil
	}

	e.history.Restore(s.History, s.Cursor)
	e.queue.Restore(s.Pending, s.Synced)
	e.state = newEntitySet()
	for _, ent := range s.Entities {
		e.state.entities[ent.ID] = ent
	}
	e.state.selection = s.Selection
	e.clock = NewClockAt(s.Seq)

	for _, a := range s.History {
		e.lastStamp = later(e.lastStamp, a.CreatedAt)
	}
	for _, a := range s.Pending {
		e.lastStamp = later(e.lastStamp, a.CreatedAt)
	}
	e.publishLocked()

	e.logger.Info("restored saved state",
		"session", e.session,
		"history", e.history.Len(),
		"cursor", e.history.Cursor(),
		"pending", e.queue.Len(),
		"saved_at", s.SavedAt)
	return nil
}

// StartAutosave saves on a cron schedule such as "@every 30s" until ctx is
// cancelled or Close is called. Mutations already save synchronously; this
// is a safety net.
func (e *Engine) StartAutosave(ctx context.Context, spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := e.Save(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("autosave failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("autosave schedule %q: %w", spec, err)
	}

	e.mu.Lock()
	if e.cron != nil {
		e.cron.Stop()
	}
	e.cron = c
	e.mu.Unlock()

	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	e.logger.Debug("autosave scheduled", "spec", spec)
	return nil
}

// Close stops autosave and writes a final save. It does not close the
// store adapter.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	return e.Save(ctx)
}
