package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_EmitsOnlyOnTransitions(t *testing.T) {
	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	m := NewManual(true, WithNow(func() time.Time { return at }))
	events, cancel := m.Subscribe()
	defer cancel()

	assert.False(t, m.GoOnline())
	assert.True(t, m.GoOffline())
	assert.False(t, m.GoOffline())
	assert.True(t, m.GoOnline())

	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: BecameOffline, At: at}, <-events)
	assert.Equal(t, Event{Type: BecameOnline, At: at}, <-events)
	assert.True(t, m.Online())
}

func TestManual_CancelClosesChannel(t *testing.T) {
	m := NewManual(false)
	events, cancel := m.Subscribe()
	assert.Equal(t, 1, m.Subscribers())
	cancel()
	cancel()
	assert.Equal(t, 0, m.Subscribers())

	_, ok := <-events
	assert.False(t, ok)

	// No panic sending after the subscriber left.
	m.GoOnline()
}

func TestManual_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewManual(false)
	_, cancel := m.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer*3; i++ {
		m.Set(i%2 == 0)
	}
	assert.Equal(t, (subscriberBuffer*3-1)%2 == 0, m.Online())
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "online", BecameOnline.String())
	assert.Equal(t, "offline", BecameOffline.String())
	assert.Equal(t, "unknown", EventType(0).String())
}

func TestProber_FollowsHealthEndpoint(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProber(srv.URL, time.Hour)
	events, cancel := p.Subscribe()
	defer cancel()

	ctx := context.Background()
	assert.True(t, p.Probe(ctx))
	assert.True(t, p.Online())

	healthy.Store(false)
	assert.False(t, p.Probe(ctx))
	assert.False(t, p.Online())

	require.Len(t, events, 2)
	assert.Equal(t, BecameOnline, (<-events).Type)
	assert.Equal(t, BecameOffline, (<-events).Type)
}

func TestProber_UnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProber(url, time.Hour)
	assert.False(t, p.Probe(context.Background()))
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := NewProber(srv.URL, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, p.Online, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
