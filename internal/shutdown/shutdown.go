// Package shutdown coordinates graceful teardown of the serve process:
// HTTP servers, the file watcher, and the store are registered as named
// cleanups and stopped in reverse registration order.
package shutdown

import (
	"context"
	"sync"

	"todokeep/internal/utils"
)

// CleanupFunc performs one piece of teardown. The context is cancelled
// when the shutdown deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager coordinates shutdown across components.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

// NewManager creates a shutdown manager.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a named cleanup. Cleanups run in LIFO order so
// components stop before their dependencies.
func (m *Manager) Register(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Trigger initiates shutdown. Safe to call more than once.
func (m *Manager) Trigger() {
	m.once.Do(m.cancel)
}

// Context is cancelled once shutdown has been triggered. Long-running
// operations should derive from it.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Triggered reports whether shutdown has started.
func (m *Manager) Triggered() bool {
	select {
	case <-m.ctx.Done():
		return true
	default:
		return false
	}
}

// Wait runs all registered cleanups and returns once they complete or
// the context expires. Individual cleanup failures are logged and do
// not stop the remaining cleanups.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.runCleanups(ctx)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) runCleanups(ctx context.Context) {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		entry := cleanups[i]
		utils.Debugf("shutting down %s", entry.name)
		if err := entry.fn(ctx); err != nil {
			utils.Warnf("cleanup %s failed: %v", entry.name, err)
		}
	}
}
