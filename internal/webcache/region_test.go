package webcache

import (
	"net/http"
	"testing"
	"time"
)

// TestRegionStoreMatchPutDelete tests the basic entry operations.
func TestRegionStoreMatchPutDelete(t *testing.T) {
	s, err := NewRegionStore("")
	if err != nil {
		t.Fatalf("NewRegionStore error: %v", err)
	}

	key := "GET /api/todos"
	if _, ok := s.Match(RegionAPI, key); ok {
		t.Fatal("Match on empty store returned an entry")
	}

	snap := Snapshot{Status: 200, Body: []byte("hello"), StoredAt: time.Now()}
	s.Put(RegionAPI, key, snap)

	got, ok := s.Match(RegionAPI, key)
	if !ok {
		t.Fatal("Match after Put returned no entry")
	}
	if string(got.Body) != "hello" {
		t.Errorf("Body = %q, want %q", got.Body, "hello")
	}

	s.Delete(RegionAPI, key)
	if _, ok := s.Match(RegionAPI, key); ok {
		t.Error("Match after Delete returned an entry")
	}
}

// TestRegionStoreNames verifies region enumeration is sorted and complete.
func TestRegionStoreNames(t *testing.T) {
	s, err := NewRegionStore("")
	if err != nil {
		t.Fatalf("NewRegionStore error: %v", err)
	}

	s.Open(RegionPages)
	s.Open("precache-v2")
	s.Open(RegionAPI)

	names := s.Names()
	want := []string{RegionAPI, RegionPages, "precache-v2"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names = %v, want %v", names, want)
		}
	}
}

// TestRegionStorePersistence verifies entries survive a store reopen.
func TestRegionStorePersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := NewRegionStore(dir)
	if err != nil {
		t.Fatalf("NewRegionStore error: %v", err)
	}
	s.Put(RegionPages, "GET /", Snapshot{
		Status:   200,
		Header:   http.Header{"Content-Type": []string{"text/html"}},
		Body:     []byte("<html>home</html>"),
		Category: CategoryPage,
		StoredAt: time.Now().UTC(),
	})

	reopened, err := NewRegionStore(dir)
	if err != nil {
		t.Fatalf("NewRegionStore (reopen) error: %v", err)
	}
	got, ok := reopened.Match(RegionPages, "GET /")
	if !ok {
		t.Fatal("persisted entry missing after reopen")
	}
	if string(got.Body) != "<html>home</html>" {
		t.Errorf("Body = %q, want persisted body", got.Body)
	}
	if got.Header.Get("Content-Type") != "text/html" {
		t.Errorf("Content-Type = %q, want text/html", got.Header.Get("Content-Type"))
	}
}

// TestRegionStoreDeleteRegion verifies whole-region removal, including the
// persisted file.
func TestRegionStoreDeleteRegion(t *testing.T) {
	dir := t.TempDir()

	s, err := NewRegionStore(dir)
	if err != nil {
		t.Fatalf("NewRegionStore error: %v", err)
	}
	s.Put("precache-v1", "GET /", Snapshot{Status: 200})

	if err := s.DeleteRegion("precache-v1"); err != nil {
		t.Fatalf("DeleteRegion error: %v", err)
	}
	if len(s.Names()) != 0 {
		t.Errorf("Names = %v after DeleteRegion, want empty", s.Names())
	}

	reopened, err := NewRegionStore(dir)
	if err != nil {
		t.Fatalf("NewRegionStore (reopen) error: %v", err)
	}
	if len(reopened.Names()) != 0 {
		t.Errorf("deleted region resurrected after reopen: %v", reopened.Names())
	}
}

// TestCacheKey verifies the request identity format.
func TestCacheKey(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://localhost/api/todos?completed=false", nil)
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	if got := CacheKey(req); got != "GET /api/todos?completed=false" {
		t.Errorf("CacheKey = %q", got)
	}
}
