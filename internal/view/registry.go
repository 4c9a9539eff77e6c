// ABOUTME: Registry handing out one synchronization manager per identity
// ABOUTME: Managers are created lazily and torn down together

package view

import (
	"log/slog"
	"sync"
)

// Registry owns the managers, one per identity id.
type Registry struct {
	store  WatchStore
	logger *slog.Logger

	mu       sync.Mutex
	managers map[string]*Manager
	closed   bool
}

// NewRegistry creates a Registry. Pass nil logger for default.
func NewRegistry(s WatchStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    s,
		logger:   logger,
		managers: make(map[string]*Manager),
	}
}

// Manager returns the manager for identityID, starting one if needed.
// Returns nil after Close.
func (r *Registry) Manager(identityID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if m, ok := r.managers[identityID]; ok {
		return m
	}
	m := NewManager(r.store, identityID, r.logger)
	r.managers[identityID] = m
	return m
}

// Close tears down every manager. Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	managers := r.managers
	r.managers = nil
	r.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}
