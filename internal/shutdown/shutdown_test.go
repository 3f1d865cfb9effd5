package shutdown_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"todokeep/internal/shutdown"
)

func TestTriggerCancelsContext(t *testing.T) {
	mgr := shutdown.NewManager()

	if mgr.Triggered() {
		t.Fatal("manager should not start triggered")
	}

	mgr.Trigger()

	if !mgr.Triggered() {
		t.Error("expected Triggered after Trigger")
	}
	select {
	case <-mgr.Context().Done():
	default:
		t.Error("expected context to be cancelled after Trigger")
	}
}

func TestWaitRunsCleanupsInLIFOOrder(t *testing.T) {
	mgr := shutdown.NewManager()

	var mu sync.Mutex
	var order []string
	record := func(name string) shutdown.CleanupFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	mgr.Register("store", record("store"))
	mgr.Register("watcher", record("watcher"))
	mgr.Register("gateway", record("gateway"))

	mgr.Trigger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	expected := []string{"gateway", "watcher", "store"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d cleanups, got %d", len(expected), len(order))
	}
	for i, name := range expected {
		if order[i] != name {
			t.Errorf("cleanup %d: expected %q, got %q", i, name, order[i])
		}
	}
}

func TestCleanupErrorDoesNotStopOthers(t *testing.T) {
	mgr := shutdown.NewManager()

	var storeClosed atomic.Bool
	mgr.Register("store", func(ctx context.Context) error {
		storeClosed.Store(true)
		return nil
	})
	mgr.Register("gateway", func(ctx context.Context) error {
		return fmt.Errorf("listener already closed")
	})

	mgr.Trigger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if !storeClosed.Load() {
		t.Error("expected store cleanup to run despite gateway failure")
	}
}

func TestWaitTimesOutOnSlowCleanup(t *testing.T) {
	mgr := shutdown.NewManager()

	mgr.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	mgr.Trigger()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := mgr.Wait(ctx); err == nil {
		t.Error("expected timeout error")
	}
}

func TestTriggerIsConcurrencySafe(t *testing.T) {
	mgr := shutdown.NewManager()

	var cleanupCount atomic.Int32
	mgr.Register("counter", func(ctx context.Context) error {
		cleanupCount.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Trigger()
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if got := cleanupCount.Load(); got != 1 {
		t.Errorf("expected cleanup to run exactly once, got %d", got)
	}
}
