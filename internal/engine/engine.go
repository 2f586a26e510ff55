package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/kitchensync/internal/backend"
	"github.com/roach88/kitchensync/internal/ir"
	"github.com/roach88/kitchensync/internal/metrics"
	"github.com/roach88/kitchensync/internal/network"
	"github.com/roach88/kitchensync/internal/queue"
	"github.com/roach88/kitchensync/internal/store"
	"github.com/roach88/kitchensync/internal/syncer"
)

// DefaultSession names the session when none is configured.
const DefaultSession = "default"

// Engine is the action log and caller-facing sync API.
//
// Thread-safety: All exported methods are safe for concurrent use.
// Mutations are serialized by mu; sync I/O runs in the coordinator without it.
type Engine struct {
	mu sync.Mutex

	session   string
	history   *History
	queue     *queue.Queue
	state     *entitySet
	clock     *Clock
	lastStamp time.Time

	store   store.Adapter
	backend backend.Adapter
	monitor network.Monitor
	coord   *syncer.Coordinator

	wall    WallClock
	ids     IDGenerator
	logger  *slog.Logger
	metrics *metrics.Collector
	maxAge  time.Duration

	// Deferred construction inputs.
	maxHistory int
	policy     queue.RetryPolicy
	maxSynced  int
	syncOpts   []syncer.Option
	tracer     trace.Tracer

	cron *cron.Cron
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the wall clock used for createdAt and backoff.
func WithClock(c WallClock) Option {
	return func(e *Engine) {
		if c != nil {
			e.wall = c
		}
	}
}

// WithIDGenerator sets the action id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithMaxHistory bounds the undo history. Default: DefaultMaxHistory.
func WithMaxHistory(n int) Option {
	return func(e *Engine) { e.maxHistory = n }
}

// WithRetryPolicy sets backoff and retry limits.
func WithRetryPolicy(p queue.RetryPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMaxSynced bounds the remembered synced ids.
func WithMaxSynced(n int) Option {
	return func(e *Engine) { e.maxSynced = n }
}

// WithMaxAge discards saved state older than d on Restore. Zero keeps any age.
func WithMaxAge(d time.Duration) Option {
	return func(e *Engine) { e.maxAge = d }
}

// WithSession names the session recorded in saved state.
func WithSession(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.session = id
		}
	}
}

// WithMetrics publishes queue gauges and passes the collector to the
// coordinator.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer passes a tracer to the coordinator.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithSyncOptions passes extra options to the coordinator.
func WithSyncOptions(opts ...syncer.Option) Option {
	return func(e *Engine) { e.syncOpts = append(e.syncOpts, opts...) }
}

// New creates an engine with empty state. Call Restore to load saved state.
func New(st store.Adapter, be backend.Adapter, mon network.Monitor, opts ...Option) *Engine {
	e := &Engine{
		session: DefaultSession,
		state:   newEntitySet(),
		clock:   NewClock(),
		store:   st,
		backend: be,
		monitor: mon,
		wall:    systemClock{},
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
		policy:  queue.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.history = NewHistory(e.maxHistory)
	var qopts []queue.Option
	if e.maxSynced > 0 {
		qopts = append(qopts, queue.WithMaxSynced(e.maxSynced))
	}
	e.queue = queue.New(e.policy, qopts...)

	copts := []syncer.Option{
		syncer.WithLogger(e.logger),
		syncer.WithNow(e.wall.Now),
		syncer.WithMetrics(e.metrics),
	}
	if e.tracer != nil {
		copts = append(copts, syncer.WithTracer(e.tracer))
	}
	e.coord = syncer.New(e, be, mon, append(copts, e.syncOpts...)...)
	return e
}

// Session returns the session id.
func (e *Engine) Session() string {
	return e.session
}

// snapshot is everything a failed persist must roll back.
type snapshot struct {
	entries   []ir.Action
	cursor    int
	pending   []ir.Action
	synced    []string
	state     *entitySet
	lastStamp time.Time
}

func (e *Engine) captureLocked() snapshot {
	return snapshot{
		entries:   e.history.Entries(),
		cursor:    e.history.Cursor(),
		pending:   e.queue.ListPending(),
		synced:    e.queue.Synced(),
		state:     e.state,
		lastStamp: e.lastStamp,
	}
}

func (e *Engine) rollbackLocked(s snapshot) {
	e.history.Restore(s.entries, s.cursor)
	e.queue.Restore(s.pending, s.synced)
	e.state = s.state
	e.lastStamp = s.lastStamp
}

// newActionLocked stamps id, createdAt and seq.
func (e *Engine) newActionLocked(kind ir.Kind, description string) ir.Action {
	e.lastStamp = stamp(e.wall, e.lastStamp)
	return ir.Action{
		ID:          e.ids.Generate(),
		Kind:        kind,
		Description: description,
		CreatedAt:   e.lastStamp,
		Seq:         e.clock.Next(),
		Sync:        ir.SyncState{Status: ir.SyncPending},
	}
}

// RecordAction applies forward to the entity collection, truncates the redo
// tail, appends to history, enqueues the action for delivery and persists.
//
// The only error classes are InvalidEffect (nothing changed) and
// PersistFailed (the change was rolled back). A nil descriptor records a
// local-only action that is never delivered.
func (e *Engine) RecordAction(ctx context.Context, kind ir.Kind, forward, inverse ir.Effect, desc *ir.Descriptor, description string) (ir.Action, error) {
	if !kind.Recordable() {
		return ir.Action{}, invalidEffect("", fmt.Errorf("%w: kind %q cannot be recorded", ir.ErrInvalidEffect, kind))
	}
	if err := ir.ValidatePair(kind, forward, inverse); err != nil {
		return ir.Action{}, invalidEffect("", err)
	}
	if desc != nil {
		if err := desc.Validate(); err != nil {
			return ir.Action{}, invalidEffect("", fmt.Errorf("%w: %v", ir.ErrInvalidEffect, err))
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.state.clone()
	if err := next.apply(forward); err != nil {
		return ir.Action{}, invalidEffect("", err)
	}

	prev := e.captureLocked()
	a := e.newActionLocked(kind, description)
	a.Forward = forward
	a.Inverse = inverse
	if desc != nil {
		a.Descriptor = desc.Clone()
		a.Descriptor.ActionID = a.ID
		if len(a.Descriptor.EntityIDs) == 0 {
			a.Descriptor.EntityIDs = forward.EntityIDs()
		}
	}

	e.state = next
	if evicted, ok := e.history.Record(a); ok {
		e.logger.Debug("history full, evicted oldest action", "action_id", evicted.ID)
	}
	if !a.LocalOnly() {
		e.queue.Enqueue(a)
	}

	if err := e.persistLocked(ctx); err != nil {
		e.rollbackLocked(prev)
		return ir.Action{}, persistFailed(a.ID, err)
	}

	e.logger.Debug("action recorded", "action_id", a.ID, "kind", a.Kind, "seq", a.Seq)
	return a.Clone(), nil
}

// Undo reverses the action at the cursor and enqueues an undo record
// carrying the inverted descriptor. ok is false, with a nil error, when
// there is nothing to undo.
//
// An inverse stops applying once the entity it reverses has been replaced,
// typically by a remote winner in AcceptRemote. Undo then returns
// ErrCodeInvalidEffect and leaves history untouched; DiscardUndo drops the
// entry so older actions become reachable again.
func (e *Engine) Undo(ctx context.Context) (ir.Action, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	orig, ok := e.history.Current()
	if !ok {
		return ir.Action{}, false, nil
	}

	next := e.state.clone()
	if err := next.apply(orig.Inverse); err != nil {
		return ir.Action{}, false, invalidEffect(orig.ID, err)
	}

	prev := e.captureLocked()
	rec := e.newActionLocked(ir.KindUndo, "undo: "+orig.Description)
	rec.Forward = orig.Inverse
	rec.Inverse = orig.Forward
	rec.Ref = orig.ID
	rec.Descriptor = ir.InvertDescriptor(orig.Descriptor, orig.Inverse, rec.ID)

	e.state = next
	e.history.StepBack()
	if !rec.LocalOnly() {
		e.queue.Enqueue(rec)
	}

	if err := e.persistLocked(ctx); err != nil {
		e.rollbackLocked(prev)
		return ir.Action{}, false, persistFailed(rec.ID, err)
	}

	e.logger.Debug("undo", "action_id", rec.ID, "ref", orig.ID, "cursor", e.history.Cursor())
	return rec.Clone(), true, nil
}

// DiscardUndo removes the action at the cursor, and any redo entries
// recorded after it, from history without applying anything or touching the
// queue. ok is false when there is nothing to undo.
func (e *Engine) DiscardUndo(ctx context.Context) (ir.Action, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.captureLocked()
	dropped, ok := e.history.Discard()
	if !ok {
		return ir.Action{}, false, nil
	}

	if err := e.persistLocked(ctx); err != nil {
		e.rollbackLocked(prev)
		return ir.Action{}, false, persistFailed(dropped.ID, err)
	}

	e.logger.Info("discarded undo entry", "action_id", dropped.ID, "cursor", e.history.Cursor())
	return dropped.Clone(), true, nil
}

// Redo reapplies the next action in history and enqueues a redo record.
// ok is false, with a nil error, when there is nothing to redo.
func (e *Engine) Redo(ctx context.Context) (ir.Action, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	orig, ok := e.history.Next()
	if !ok {
		return ir.Action{}, false, nil
	}

	next := e.state.clone()
	if err := next.apply(orig.Forward); err != nil {
		return ir.Action{}, false, invalidEffect(orig.ID, err)
	}

	prev := e.captureLocked()
	rec := e.newActionLocked(ir.KindRedo, "redo: "+orig.Description)
	rec.Forward = orig.Forward
	rec.Inverse = orig.Inverse
	rec.Ref = orig.ID
	rec.Descriptor = ir.RestampDescriptor(orig.Descriptor, rec.ID)

	e.state = next
	e.history.StepForward()
	if !rec.LocalOnly() {
		e.queue.Enqueue(rec)
	}

	if err := e.persistLocked(ctx); err != nil {
		e.rollbackLocked(prev)
		return ir.Action{}, false, persistFailed(rec.ID, err)
	}

	e.logger.Debug("redo", "action_id", rec.ID, "ref", orig.ID, "cursor", e.history.Cursor())
	return rec.Clone(), true, nil
}

// CanUndo reports whether Undo would do anything.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanUndo()
}

// CanRedo reports whether Redo would do anything.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanRedo()
}

// Cursor returns the history cursor.
func (e *Engine) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Cursor()
}

// History returns a copy of the undo log.
func (e *Engine) History() []ir.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Entries()
}

// ListPendingActions returns unconfirmed actions in delivery order,
// failed ones included.
func (e *Engine) ListPendingActions() []ir.Action {
	return e.queue.ListPending()
}

// SyncedActions returns confirmed action ids in confirmation order.
func (e *Engine) SyncedActions() []string {
	return e.queue.Synced()
}

// Entities returns the managed entities ordered by id.
func (e *Engine) Entities() []ir.Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.sorted()
}

// Selection returns the selected entity id, or "".
func (e *Engine) Selection() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.selection
}

// Coordinator exposes the sync coordinator.
func (e *Engine) Coordinator() *syncer.Coordinator {
	return e.coord
}
