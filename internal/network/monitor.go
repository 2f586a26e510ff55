// Package network reports connectivity transitions to the sync coordinator.
package network

import (
	"log/slog"
	"sync"
	"time"
)

// EventType distinguishes connectivity transitions.
type EventType int

const (
	// BecameOnline is emitted when connectivity returns.
	BecameOnline EventType = iota + 1
	// BecameOffline is emitted when connectivity is lost.
	BecameOffline
)

// String returns the event name used in logs and traces.
func (t EventType) String() string {
	switch t {
	case BecameOnline:
		return "online"
	case BecameOffline:
		return "offline"
	}
	return "unknown"
}

// Event is one connectivity transition.
type Event struct {
	Type EventType
	At   time.Time
}

// Monitor is the network signal source consumed by the sync coordinator.
type Monitor interface {
	// Online reports the current connectivity state.
	Online() bool

	// Subscribe returns a channel of transitions and a cancel func that
	// closes it. Events are only sent on actual state changes.
	Subscribe() (<-chan Event, func())
}

// subscriberBuffer bounds per-subscriber backlog. A subscriber that falls
// further behind misses events but can always read Online().
const subscriberBuffer = 8

// Manual is a Monitor whose state is set explicitly. It backs tests, the
// scenario harness, and Prober.
//
// Thread-safety: All methods are safe for concurrent use.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
	logger *slog.Logger
}

var _ Monitor = (*Manual)(nil)

// ManualOption configures a Manual monitor.
type ManualOption func(*Manual)

// WithNow sets the time source for event timestamps.
func WithNow(now func() time.Time) ManualOption {
	return func(m *Manual) { m.now = now }
}

// WithLogger sets the logger for transition messages.
func WithLogger(logger *slog.Logger) ManualOption {
	return func(m *Manual) { m.logger = logger }
}

// NewManual creates a monitor with the given initial state.
func NewManual(online bool, opts ...ManualOption) *Manual {
	m := &Manual{
		online: online,
		subs:   make(map[int]chan Event),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online implements Monitor.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set changes the connectivity state and notifies subscribers if it changed.
// It reports whether a transition happened.
func (m *Manual) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online

	ev := Event{Type: BecameOffline, At: m.now()}
	if online {
		ev.Type = BecameOnline
	}
	m.logger.Info("network transition", "state", ev.Type.String())

	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("dropping network event for slow subscriber", "subscriber", id)
		}
	}
	return true
}

// GoOnline is shorthand for Set(true).
func (m *Manual) GoOnline() bool { return m.Set(true) }

// GoOffline is shorthand for Set(false).
func (m *Manual) GoOffline() bool { return m.Set(false) }

// Subscribe implements Monitor.
func (m *Manual) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Event, subscriberBuffer)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (m *Manual) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
