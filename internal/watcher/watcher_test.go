package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func mustWatcher(t *testing.T, dbPath string, onChange func()) *Watcher {
	t.Helper()
	w, err := New(Config{
		DatabasePath: dbPath,
		Debounce:     50 * time.Millisecond,
		OnChange:     onChange,
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	t.Cleanup(w.Stop)
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	return w
}

func TestDetectsDatabaseWrite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "todos.db")
	if err := os.WriteFile(dbPath, []byte("initial"), 0600); err != nil {
		t.Fatalf("failed to create database file: %v", err)
	}

	var changed atomic.Bool
	mustWatcher(t, dbPath, func() {
		changed.Store(true)
	})

	if err := os.WriteFile(dbPath, []byte("modified"), 0600); err != nil {
		t.Fatalf("failed to modify database file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	if !changed.Load() {
		t.Error("expected change callback after database write")
	}
}

func TestDetectsSidecarWrite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "todos.db")
	if err := os.WriteFile(dbPath, []byte("initial"), 0600); err != nil {
		t.Fatalf("failed to create database file: %v", err)
	}

	var changed atomic.Bool
	mustWatcher(t, dbPath, func() {
		changed.Store(true)
	})

	// WAL-mode SQLite writes land in the -wal sidecar, not the main file.
	if err := os.WriteFile(dbPath+"-wal", []byte("frames"), 0600); err != nil {
		t.Fatalf("failed to write sidecar file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	if !changed.Load() {
		t.Error("expected change callback after sidecar write")
	}
}

func TestIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "todos.db")
	if err := os.WriteFile(dbPath, []byte("initial"), 0600); err != nil {
		t.Fatalf("failed to create database file: %v", err)
	}

	var count atomic.Int32
	mustWatcher(t, dbPath, func() {
		count.Add(1)
	})

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0600); err != nil {
		t.Fatalf("failed to write unrelated file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected no change callbacks for unrelated file, got %d", got)
	}
}

func TestDebouncesRapidWrites(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "todos.db")
	if err := os.WriteFile(dbPath, []byte("initial"), 0600); err != nil {
		t.Fatalf("failed to create database file: %v", err)
	}

	var count atomic.Int32
	w, err := New(Config{
		DatabasePath: dbPath,
		Debounce:     200 * time.Millisecond,
		OnChange: func() {
			count.Add(1)
		},
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	t.Cleanup(w.Stop)
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := os.WriteFile(dbPath, []byte{byte('0' + i)}, 0600); err != nil {
			t.Fatalf("failed to modify database file: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)

	got := count.Load()
	if got == 0 {
		t.Error("expected at least one callback after rapid writes")
	}
	if got > 2 {
		t.Errorf("expected rapid writes to debounce to at most 2 callbacks, got %d", got)
	}
}

func TestStopPreventsRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "todos.db")
	if err := os.WriteFile(dbPath, []byte("initial"), 0600); err != nil {
		t.Fatalf("failed to create database file: %v", err)
	}

	w, err := New(Config{DatabasePath: dbPath, OnChange: func() {}})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}

	w.Stop()
	w.Stop() // idempotent

	if err := w.Start(); err == nil {
		t.Error("expected error starting a stopped watcher")
	}
}

func TestRequiresDatabasePath(t *testing.T) {
	if _, err := New(Config{OnChange: func() {}}); err == nil {
		t.Error("expected error for empty database path")
	}
}
