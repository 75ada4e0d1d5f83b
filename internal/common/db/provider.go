package db

import "sync/atomic"

// Provider returns the current database instance.
type Provider interface {
	Current() Database
}

// Manager holds the active pool and lets it be replaced at runtime,
// e.g. after a DSN rotation, without rebuilding repositories.
type Manager struct {
	current atomic.Pointer[Database]
}

// NewManager creates a Manager serving the given database.
func NewManager(database Database) *Manager {
	m := &Manager{}
	m.current.Store(&database)
	return m
}

// Current returns the active database instance.
func (m *Manager) Current() Database {
	if m == nil {
		return nil
	}
	p := m.current.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Swap replaces the current database instance and returns the previous one.
func (m *Manager) Swap(next Database) Database {
	prev := m.current.Swap(&next)
	if prev == nil {
		return nil
	}
	return *prev
}
