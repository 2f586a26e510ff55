package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/roach88/kitchensync/internal/backend"
	"github.com/roach88/kitchensync/internal/conflict"
	"github.com/roach88/kitchensync/internal/ir"
	"github.com/roach88/kitchensync/internal/metrics"
	"github.com/roach88/kitchensync/internal/network"
)

// Ledger is the coordinator's view of the action log. The engine implements
// it; every method takes the engine's lock for the duration of the call only.
type Ledger interface {
	// Pending returns a snapshot of the queue in delivery order.
	Pending() []ir.Action

	// MarkSynced records a confirmed delivery.
	MarkSynced(ctx context.Context, id string) error

	// MarkFailed records a failed delivery and returns the updated entry.
	MarkFailed(ctx context.Context, id string, cause error) (ir.Action, error)

	// Entity returns the local copy of an entity.
	Entity(id string) (ir.Entity, bool)

	// AcceptRemote installs a winning remote entity and supersedes pending
	// entries touching it. It returns the superseded ids.
	AcceptRemote(ctx context.Context, remote ir.Entity) ([]string, error)
}

// Report summarizes one sync pass.
type Report struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`

	// Deferred counts entries left for a later pass: backoff not elapsed,
	// blocked behind a failure on the same entity, terminal, or cut short
	// by cancellation or loss of connectivity.
	Deferred int `json:"deferred"`

	// Offline is set when the pass did not run because the monitor was offline.
	Offline bool `json:"offline,omitempty"`
}

// Conflict is one resolved divergence found by Reconcile.
type Conflict struct {
	EntityID   string        `json:"entity_id"`
	Winner     conflict.Side `json:"winner"`
	Degraded   bool          `json:"degraded,omitempty"`
	Superseded []string      `json:"superseded,omitempty"`
}

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	Checked   int        `json:"checked"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Skipped   bool       `json:"skipped,omitempty"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNow sets the wall clock used for backoff decisions.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRateLimit throttles deliveries to r per second with the given burst.
// A non-positive r disables throttling.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Coordinator) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithMetrics records pass and delivery metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer emits spans for passes and deliveries.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithResolver overrides the conflict resolver.
func WithResolver(r *conflict.Resolver) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.resolver = r
		}
	}
}

// Coordinator delivers pending actions to the backend.
//
// Thread-safety: All methods are safe for concurrent use.
type Coordinator struct {
	ledger   Ledger
	backend  backend.Adapter
	monitor  network.Monitor
	resolver *conflict.Resolver
	logger   *slog.Logger
	now      func() time.Time
	limiter  *rate.Limiter
	metrics  *metrics.Collector
	tracer   trace.Tracer

	group   singleflight.Group
	runMu   sync.Mutex // held for a whole sync or reconcile pass
	syncing atomic.Bool
	waiting atomic.Int32 // callers blocked on a pass, shared or not

	mu         sync.Mutex
	lastSyncAt time.Time
}

// New creates a coordinator.
func New(ledger Ledger, be backend.Adapter, mon network.Monitor, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:  ledger,
		backend: be,
		monitor: mon,
		logger:  slog.Default(),
		now:     time.Now,
		tracer:  noop.NewTracerProvider().Tracer("kitchensync/syncer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolver == nil {
		c.resolver = conflict.NewResolver(c.logger)
	}
	return c
}

// Syncing reports whether a pass is in flight.
func (c *Coordinator) Syncing() bool {
	return c.syncing.Load()
}

// LastSyncAt returns when the last online pass finished. Zero if none has.
func (c *Coordinator) LastSyncAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncAt
}

// Sync delivers every due pending entry. Entries still in backoff are skipped.
func (c *Coordinator) Sync(ctx context.Context) (Report, error) {
	return c.do(ctx, false)
}

// ForceSync is Sync without backoff delays. Entries that exhausted their
// retries or were superseded are still skipped.
func (c *Coordinator) ForceSync(ctx context.Context) (Report, error) {
	return c.do(ctx, true)
}

// do joins or starts the single in-flight pass. If ctx ends first the caller
// returns early; the pass itself keeps running.
func (c *Coordinator) do(ctx context.Context, force bool) (Report, error) {
	ch := c.group.DoChan("sync", func() (any, error) {
		return c.pass(ctx, force)
	})
	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("sync request coalesced into in-flight pass", "force", force)
		}
		if res.Err != nil {
			return Report{}, res.Err
		}
		return res.Val.(Report), nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func (c *Coordinator) pass(ctx context.Context, force bool) (Report, error) {
	if !c.monitor.Online() {
		c.logger.Debug("sync skipped: offline")
		return Report{Offline: true}, nil
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.syncing.Store(true)
	defer c.syncing.Store(false)

	start := c.now()
	entries := c.ledger.Pending()

	ctx, span := c.tracer.Start(ctx, "sync.pass", trace.WithAttributes(
		attribute.Bool("sync.force", force),
		attribute.Int("sync.entries", len(entries)),
	))
	defer span.End()

	var rep Report
	blocked := make(map[string]bool)
	block := func(ids []string) {
		for _, id := range ids {
			blocked[id] = true
		}
	}

	for i, a := range entries {
		if err := ctx.Err(); err != nil {
			c.logger.Info("sync pass cancelled", "remaining", len(entries)-i)
			rep.Deferred += len(entries) - i
			break
		}

		ids := a.EntityIDs()
		if slices.ContainsFunc(ids, func(id string) bool { return blocked[id] }) {
			block(ids)
			rep.Deferred++
			continue
		}
		if a.Sync.Terminal() {
			block(ids)
			rep.Deferred++
			continue
		}
		if !force && a.Sync.NextAttemptAt.After(c.now()) {
			block(ids)
			rep.Deferred++
			c.metrics.ObserveDelivery(metrics.ResultDeferred)
			continue
		}
		if !c.monitor.Online() {
			c.logger.Info("went offline mid-sync", "remaining", len(entries)-i)
			rep.Deferred += len(entries) - i
			break
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				rep.Deferred += len(entries) - i
				break
			}
		}

		if err := c.deliver(ctx, a); err != nil {
			block(ids)
			rep.Failed = append(rep.Failed, a.ID)
			c.metrics.ObserveDelivery(metrics.ResultFailed)

			updated, merr := c.ledger.MarkFailed(context.WithoutCancel(ctx), a.ID, err)
			if merr != nil {
				c.logger.Warn("failed to persist delivery failure", "action_id", a.ID, "error", merr)
			}
			if updated.Sync.Terminal() {
				c.logger.Warn("action exceeded max retries",
					"action_id", a.ID,
					"retry_count", updated.Sync.RetryCount,
					"error", err)
			} else {
				c.logger.Info("delivery failed",
					"action_id", a.ID,
					"retry_count", updated.Sync.RetryCount,
					"next_attempt_at", updated.Sync.NextAttemptAt,
					"error", err)
			}
			continue
		}

		rep.Succeeded = append(rep.Succeeded, a.ID)
		c.metrics.ObserveDelivery(metrics.ResultSynced)
		if err := c.ledger.MarkSynced(context.WithoutCancel(ctx), a.ID); err != nil {
			c.logger.Warn("failed to persist delivery", "action_id", a.ID, "error", err)
		}
	}

	end := c.now()
	c.mu.Lock()
	c.lastSyncAt = end
	c.mu.Unlock()
	c.metrics.ObserveSync(end.Sub(start))

	span.SetAttributes(
		attribute.Int("sync.succeeded", len(rep.Succeeded)),
		attribute.Int("sync.failed", len(rep.Failed)),
	)
	if len(rep.Succeeded)+len(rep.Failed) > 0 {
		c.logger.Info("sync pass complete",
			"succeeded", len(rep.Succeeded),
			"failed", len(rep.Failed),
			"deferred", rep.Deferred)
	}
	return rep, nil
}

// deliver ships one action. The request is detached from ctx cancellation
// so a delivery in flight always completes and its result is recorded.
func (c *Coordinator) deliver(ctx context.Context, a ir.Action) error {
	if a.Descriptor == nil {
		return nil
	}

	ctx, span := c.tracer.Start(context.WithoutCancel(ctx), "sync.deliver", trace.WithAttributes(
		attribute.String("action.id", a.ID),
		attribute.String("action.kind", string(a.Kind)),
		attribute.String("descriptor.resource", a.Descriptor.Resource),
		attribute.String("descriptor.op", string(a.Descriptor.Op)),
	))
	defer span.End()

	ack, err := c.backend.Deliver(ctx, *a.Descriptor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if ack.Duplicate {
		c.logger.Debug("backend already had action", "action_id", a.ID)
	}
	return nil
}

// Reconcile compares local entities with pending changes against the
// backend's copies. It only runs while online and idle; if a sync pass holds
// the coordinator it returns a Skipped report.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	if !c.monitor.Online() {
		return ReconcileReport{Skipped: true}, nil
	}
	if !c.runMu.TryLock() {
		c.logger.Debug("reconcile skipped: sync in progress")
		return ReconcileReport{Skipped: true}, nil
	}
	defer c.runMu.Unlock()

	ctx, span := c.tracer.Start(ctx, "sync.reconcile")
	defer span.End()

	var rep ReconcileReport
	ids, known := c.touchedEntities()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		local, ok := c.ledger.Entity(id)
		if !ok {
			continue
		}

		remote, err := c.backend.FetchSnapshot(ctx, id)
		if errors.Is(err, backend.ErrNotFound) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return rep, fmt.Errorf("fetch snapshot %s: %w", id, err)
		}
		rep.Checked++

		versions := known[id]
		if len(versions) == 0 {
			versions = []time.Time{local.UpdatedAt}
		}
		if !conflict.Diverged(remote, versions...) {
			continue
		}

		res := c.resolver.Resolve(local, remote)
		c.metrics.ObserveConflict(string(res.Side))
		found := Conflict{EntityID: id, Winner: res.Side, Degraded: res.Degraded}

		if res.Side == conflict.Remote {
			superseded, err := c.ledger.AcceptRemote(ctx, res.Winner)
			if err != nil {
				c.logger.Warn("failed to persist remote winner", "entity_id", id, "error", err)
			}
			found.Superseded = superseded
			c.logger.Info("conflict resolved for remote",
				"entity_id", id,
				"local_updated_at", local.UpdatedAt,
				"remote_updated_at", remote.UpdatedAt,
				"superseded", len(superseded))
		} else {
			c.logger.Debug("conflict resolved for local", "entity_id", id)
		}
		rep.Conflicts = append(rep.Conflicts, found)
	}
	return rep, nil
}

// touchedEntities lists, in queue order, the entities referenced by entries
// that may still be delivered, with the versions of each the backend may
// legitimately hold: the one the first such entry started from and every one
// an entry writes. Entries that were delivered but never acknowledged make
// the later versions reachable too.
func (c *Coordinator) touchedEntities() ([]string, map[string][]time.Time) {
	known := make(map[string][]time.Time)
	var ids []string
	for _, a := range c.ledger.Pending() {
		if a.Sync.Terminal() {
			continue
		}
		for _, id := range a.EntityIDs() {
			if _, seen := known[id]; !seen {
				ids = append(ids, id)
				known[id] = nil
				if t, ok := ir.WrittenAt(a.Inverse, id); ok {
					known[id] = append(known[id], t)
				}
			}
			if t, ok := ir.WrittenAt(a.Forward, id); ok {
				known[id] = append(known[id], t)
			}
		}
	}
	return ids, known
}
