package store

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrInjected is returned by Memory.Save after FailSaves.
var ErrInjected = errors.New("store: injected save failure")

// Memory is an in-process Adapter.
type Memory struct {
	mu        sync.Mutex
	data      []byte
	saves     int
	failSaves int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save keeps a copy of data.
func (m *Memory) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSaves > 0 {
		m.failSaves--
		return ErrInjected
	}
	m.data = slices.Clone(data)
	m.saves++
	return nil
}

// Load returns the last saved blob or ErrNotFound.
func (m *Memory) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return nil, ErrNotFound
	}
	return slices.Clone(m.data), nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// FailSaves makes the next n saves fail with ErrInjected.
func (m *Memory) FailSaves(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves = n
}

// Saves counts successful saves.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Set replaces the stored blob directly.
func (m *Memory) Set(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = slices.Clone(data)
}
