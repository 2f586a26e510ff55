package queue

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/roach88/kitchensync/internal/ir"
)

// DefaultMaxSynced bounds the syncedActions set.
const DefaultMaxSynced = 1000

// Queue holds actions recorded locally but not yet confirmed by the backend.
//
// Entries are kept in FIFO order by (CreatedAt, Seq) and each id appears at
// most once: re-adding an id replaces the entry. Confirmed ids move into a
// bounded synced set used only for dedupe.
//
// Thread-safety: Queue is safe for concurrent use. The engine additionally
// serializes compound history+queue updates under its own lock.
type Queue struct {
	mu        sync.Mutex
	entries   []ir.Action
	synced    []string
	syncedSet map[string]struct{}
	maxSynced int
	policy    RetryPolicy
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxSynced bounds how many synced ids are remembered.
func WithMaxSynced(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxSynced = n
		}
	}
}

// New creates an empty queue using policy for MarkFailed.
func New(policy RetryPolicy, opts ...Option) *Queue {
	q := &Queue{
		entries:   make([]ir.Action, 0, 16),
		syncedSet: make(map[string]struct{}),
		maxSynced: DefaultMaxSynced,
		policy:    policy,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Policy returns the retry policy.
func (q *Queue) Policy() RetryPolicy {
	return q.policy
}

// Enqueue adds or replaces an action. An id already confirmed by the
// backend is ignored and Enqueue returns false.
func (q *Queue) Enqueue(a ir.Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, done := q.syncedSet[a.ID]; done {
		return false
	}
	if a.Sync.Status == "" {
		a.Sync.Status = ir.SyncPending
	}

	if i := q.indexLocked(a.ID); i >= 0 {
		q.entries[i] = a
	} else {
		q.entries = append(q.entries, a)
	}
	slices.SortStableFunc(q.entries, compareFIFO)
	return true
}

func compareFIFO(a, b ir.Action) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.entries, func(a ir.Action) bool { return a.ID == id })
}

func (q *Queue) removeLocked(i int) ir.Action {
	a := q.entries[i]
	q.entries = slices.Delete(q.entries, i, i+1)
	return a
}

// Dequeue removes an action without recording it as synced.
func (q *Queue) Dequeue(id string) (ir.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return ir.Action{}, false
	}
	return q.removeLocked(i), true
}

// MarkSynced removes a confirmed action and remembers its id.
func (q *Queue) MarkSynced(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return false
	}
	q.removeLocked(i)
	q.rememberLocked(id)
	return true
}

func (q *Queue) rememberLocked(id string) {
	if _, ok := q.syncedSet[id]; ok {
		return
	}
	q.synced = append(q.synced, id)
	q.syncedSet[id] = struct{}{}
	for len(q.synced) > q.maxSynced {
		delete(q.syncedSet, q.synced[0])
		q.synced[0] = ""
		q.synced = q.synced[1:]
	}
}

// MarkFailed records a failed delivery attempt at now. The retry count is
// incremented and the next attempt is scheduled with backoff. Once the
// policy is exhausted the entry becomes terminal.
func (q *Queue) MarkFailed(id, lastError string, now time.Time) (ir.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return ir.Action{}, false
	}

	a := &q.entries[i]
	prev := a.Sync.RetryCount
	a.Sync = ir.SyncState{
		Status:        ir.SyncFailed,
		RetryCount:    prev + 1,
		LastError:     lastError,
		Reason:        ir.ReasonDelivery,
		FailedAt:      now,
		NextAttemptAt: now.Add(q.policy.Delay(prev)),
	}
	if q.policy.Exhausted(a.Sync.RetryCount) {
		a.Sync.Reason = ir.ReasonMaxRetriesExceeded
		a.Sync.NextAttemptAt = time.Time{}
	}
	return *a, true
}

// MarkSuperseded flags an action as having lost a conflict. It stays in the
// queue as terminal until cleared.
func (q *Queue) MarkSuperseded(id, reason string, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return false
	}
	a := &q.entries[i]
	a.Sync = ir.SyncState{
		Status:     ir.SyncFailed,
		RetryCount: a.Sync.RetryCount,
		LastError:  reason,
		Reason:     ir.ReasonSuperseded,
		FailedAt:   now,
	}
	return true
}

// ResetFailed returns delivery and max-retries failures to pending with a
// zero retry count. Superseded entries are left alone. It returns the ids
// that were reset.
func (q *Queue) ResetFailed() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for i := range q.entries {
		s := q.entries[i].Sync
		if s.Status != ir.SyncFailed || s.Reason == ir.ReasonSuperseded {
			continue
		}
		q.entries[i].Sync = ir.SyncState{Status: ir.SyncPending}
		ids = append(ids, q.entries[i].ID)
	}
	return ids
}

// ClearFailed drops every failed entry and returns the dropped actions.
func (q *Queue) ClearFailed() []ir.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dropped []ir.Action
	q.entries = slices.DeleteFunc(q.entries, func(a ir.Action) bool {
		if a.Sync.Status == ir.SyncFailed {
			dropped = append(dropped, a)
			return true
		}
		return false
	})
	return dropped
}

// ListPending returns a copy of all entries in delivery order.
func (q *Queue) ListPending() []ir.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ir.Action, len(q.entries))
	for i, a := range q.entries {
		out[i] = a.Clone()
	}
	return out
}

// Failed returns the entries whose status is failed, in delivery order.
func (q *Queue) Failed() []ir.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []ir.Action
	for _, a := range q.entries {
		if a.Sync.Status == ir.SyncFailed {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Get returns the entry for id.
func (q *Queue) Get(id string) (ir.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := q.indexLocked(id); i >= 0 {
		return q.entries[i].Clone(), true
	}
	return ir.Action{}, false
}

// Touching returns the ids of non-terminal entries that reference entityID.
func (q *Queue) Touching(entityID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for _, a := range q.entries {
		if a.Sync.Terminal() {
			continue
		}
		if slices.Contains(a.EntityIDs(), entityID) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// Len returns the number of entries, failed ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// IsSynced reports whether the backend has confirmed id.
func (q *Queue) IsSynced(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.syncedSet[id]
	return ok
}

// Synced returns confirmed ids in confirmation order.
func (q *Queue) Synced() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.synced)
}

// Restore replaces the queue contents with persisted state.
func (q *Queue) Restore(pending []ir.Action, synced []string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = q.entries[:0]
	q.synced = nil
	q.syncedSet = make(map[string]struct{}, len(synced))
	for _, id := range synced {
		q.rememberLocked(id)
	}
	for _, a := range pending {
		if _, done := q.syncedSet[a.ID]; done {
			continue
		}
		if i := q.indexLocked(a.ID); i >= 0 {
			q.entries[i] = a
			continue
		}
		q.entries = append(q.entries, a)
	}
	slices.SortStableFunc(q.entries, compareFIFO)
}
