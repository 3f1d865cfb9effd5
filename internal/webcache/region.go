// Package webcache implements the offline gateway: named cache regions,
// the per-request strategy dispatcher and the precache generation lifecycle.
package webcache

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"todokeep/internal/utils"
)

// Fixed runtime region names. These survive generation activation sweeps.
const (
	RegionPages  = "pages"
	RegionAPI    = "api"
	RegionStatic = "static-assets"
	RegionImages = "images"
)

// PrecacheRegion returns the primary region name for a generation version.
func PrecacheRegion(version string) string {
	return "precache-" + version
}

// runtimeRegions is the set of regions kept across activations.
var runtimeRegions = map[string]bool{
	RegionPages:  true,
	RegionAPI:    true,
	RegionStatic: true,
	RegionImages: true,
}

// Snapshot is a stored copy of an HTTP response plus the strategy category
// it was cached under. Entries have no individual expiry; staleness is
// resolved by generation replacement.
type Snapshot struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	Category string      `json:"category"`
	StoredAt time.Time   `json:"stored_at"`
}

// CacheKey derives the request identity an entry is stored under.
// Only GET requests are ever cached, but the method is part of the key.
func CacheKey(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}

// RegionStore holds named cache regions. When a directory is configured,
// each region is mirrored to a JSON file so cached pages survive restarts;
// persistence failures are logged and never fatal.
type RegionStore struct {
	mu      sync.RWMutex
	dir     string // "" = memory only
	regions map[string]map[string]Snapshot
	log     *utils.Logger
}

// NewRegionStore creates a store, loading any regions persisted under dir.
func NewRegionStore(dir string) (*RegionStore, error) {
	s := &RegionStore{
		dir:     dir,
		regions: make(map[string]map[string]Snapshot),
		log:     utils.GetLogger(),
	}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	s.loadPersisted()
	return s, nil
}

// loadPersisted reads every region file under the cache directory.
func (s *RegionStore) loadPersisted() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("cache dir unreadable: %v", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		region := strings.TrimSuffix(name, ".json")
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.log.Warn("cache region %s unreadable: %v", region, err)
			continue
		}
		var snaps map[string]Snapshot
		if err := json.Unmarshal(data, &snaps); err != nil {
			s.log.Warn("cache region %s corrupt, ignoring: %v", region, err)
			continue
		}
		s.regions[region] = snaps
	}
}

// persist writes one region's entries to disk, if persistence is enabled.
// Caller must hold the lock.
func (s *RegionStore) persist(region string) {
	if s.dir == "" {
		return
	}
	path := filepath.Join(s.dir, region+".json")
	snaps, ok := s.regions[region]
	if !ok {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("cache region %s file not removed: %v", region, err)
		}
		return
	}
	data, err := json.Marshal(snaps)
	if err != nil {
		s.log.Warn("cache region %s not persisted: %v", region, err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.log.Warn("cache region %s not persisted: %v", region, err)
	}
}

// Open ensures a region exists.
func (s *RegionStore) Open(region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[region]; !ok {
		s.regions[region] = make(map[string]Snapshot)
		s.persist(region)
	}
}

// Match returns the entry stored under the request identity, if any.
func (s *RegionStore) Match(region, key string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps, ok := s.regions[region]
	if !ok {
		return Snapshot{}, false
	}
	snap, ok := snaps[key]
	return snap, ok
}

// Put stores an entry under the request identity, creating the region if
// needed.
func (s *RegionStore) Put(region, key string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps, ok := s.regions[region]
	if !ok {
		snaps = make(map[string]Snapshot)
		s.regions[region] = snaps
	}
	snaps[key] = snap
	s.persist(region)
}

// PutAll stores a batch of entries in one region under a single lock, used
// by the precache install step.
func (s *RegionStore) PutAll(region string, snaps map[string]Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst, ok := s.regions[region]
	if !ok {
		dst = make(map[string]Snapshot)
		s.regions[region] = dst
	}
	for key, snap := range snaps {
		dst[key] = snap
	}
	s.persist(region)
}

// Delete removes a single entry.
func (s *RegionStore) Delete(region, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snaps, ok := s.regions[region]; ok {
		delete(snaps, key)
		s.persist(region)
	}
}

// Clear removes every entry in a region but keeps the region itself.
func (s *RegionStore) Clear(region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[region]; ok {
		s.regions[region] = make(map[string]Snapshot)
		s.persist(region)
	}
}

// Names enumerates all region names, sorted.
func (s *RegionStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.regions))
	for name := range s.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeleteRegion removes a whole region and its persisted file.
func (s *RegionStore) DeleteRegion(region string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regions, region)
	if s.dir == "" {
		return nil
	}
	path := filepath.Join(s.dir, region+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
