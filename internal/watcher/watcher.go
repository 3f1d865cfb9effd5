// Package watcher monitors the todo database file so the cache gateway
// can drop stale API responses when another process writes to the
// store. Events are debounced to batch rapid write bursts into a
// single invalidation.
package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"todokeep/internal/utils"
)

// DefaultDebounce batches rapid writes, such as a bulk import,
// into one invalidation.
const DefaultDebounce = 500 * time.Millisecond

// Config holds database watcher configuration.
type Config struct {
	DatabasePath string        // SQLite database file to monitor
	Debounce     time.Duration // Debounce window, DefaultDebounce if zero
	OnChange     func()        // Called after the debounce window closes
}

// Watcher invalidates cached data when the database file changes.
type Watcher struct {
	cfg     Config
	base    string
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

// New creates a watcher for the database file named in cfg.
func New(cfg Config) (*Watcher, error) {
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		cfg:    cfg,
		base:   filepath.Base(cfg.DatabasePath),
		fsw:    fsw,
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched rather than
// the file itself so that journal rotation and atomic replaces keep
// producing events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("watcher has been stopped and cannot be restarted")
	}
	w.mu.Unlock()

	dir := filepath.Dir(w.cfg.DatabasePath)
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %q: %w", dir, err)
	}

	go w.eventLoop()
	return nil
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	_ = w.fsw.Close()
}

// relevant reports whether an event concerns the database file or one
// of its SQLite sidecar files (-wal, -journal, -shm).
func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	return base == w.base || strings.HasPrefix(base, w.base+"-")
}

func (w *Watcher) eventLoop() {
	var debounce *time.Timer
	fired := make(chan struct{}, 1)

	reset := func() {
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(w.cfg.Debounce, func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			reset()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			utils.Warnf("database watch error: %v", err)

		case <-fired:
			utils.Debugf("database changed, invalidating cached responses")
			if w.cfg.OnChange != nil {
				w.cfg.OnChange()
			}
		}
	}
}
