package webcache

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"todokeep/internal/utils"
)

// Strategy categories, recorded on every stored snapshot.
const (
	CategoryAPI      = "network-first"
	CategoryStatic   = "cache-first"
	CategoryImage    = "cache-first"
	CategoryManifest = "stale-while-revalidate"
	CategoryPage     = "network-first-offline-fallback"
)

// imageExtensions are the suffixes routed to the images region.
var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".svg": true, ".ico": true, ".avif": true,
}

// route names, in classification order.
const (
	routeAPI      = "api"
	routeStatic   = "static"
	routeImage    = "image"
	routeManifest = "manifest"
	routePage     = "page"
)

// classify picks the route for a request path. First match wins:
// API prefix, then static-asset prefix, then image suffix, then the
// manifest, then the page default.
func classify(p string) string {
	switch {
	case strings.HasPrefix(p, "/api/"):
		return routeAPI
	case strings.HasPrefix(p, "/_next/static/"):
		return routeStatic
	case strings.HasPrefix(p, "/icons/") || imageExtensions[strings.ToLower(path.Ext(p))]:
		return routeImage
	case p == "/manifest.webmanifest":
		return routeManifest
	default:
		return routePage
	}
}

// Gateway intercepts requests bound for the origin and reconciles network
// and cache per the route's strategy. It reads and writes entries within
// regions but never deletes whole regions; region lifecycle belongs to the
// generation Manager.
type Gateway struct {
	store  *RegionStore
	origin *OriginClient
	log    *utils.Logger

	mu      sync.RWMutex
	primary string // current generation's precache region

	group singleflight.Group

	// afterRevalidate, when set, runs after a background revalidation
	// completes. Test synchronization hook.
	afterRevalidate func(key string)
}

// NewGateway creates a dispatcher over the given region store and origin.
func NewGateway(store *RegionStore, origin *OriginClient) *Gateway {
	return &Gateway{
		store:  store,
		origin: origin,
		log:    utils.GetLogger(),
	}
}

// SetGeneration points the gateway at a new generation's primary region.
// Called by the lifecycle manager when it claims open clients.
func (g *Gateway) SetGeneration(primaryRegion string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.primary = primaryRegion
}

// Generation returns the primary region currently serving traffic.
func (g *Gateway) Generation() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.primary
}

// ClearRegion drops every entry in one runtime region. Used for data-change
// invalidation of the api region.
func (g *Gateway) ClearRegion(region string) {
	g.store.Clear(region)
}

// ServeHTTP dispatches one request through the matching strategy.
// Non-GET and cross-origin requests pass through untouched.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || isCrossOrigin(r) {
		g.passthrough(w, r)
		return
	}

	switch classify(r.URL.Path) {
	case routeAPI:
		g.networkFirst(w, r, RegionAPI, CategoryAPI)
	case routeStatic:
		g.cacheFirst(w, r, RegionStatic, CategoryStatic)
	case routeImage:
		g.cacheFirst(w, r, RegionImages, CategoryImage)
	case routeManifest:
		g.staleWhileRevalidate(w, r, g.Generation())
	default:
		g.pageWithOfflineFallback(w, r)
	}
}

// isCrossOrigin reports whether the request targets a host other than the
// gateway itself (proxy-style absolute URI with a foreign host).
func isCrossOrigin(r *http.Request) bool {
	return r.URL.IsAbs() && r.URL.Host != "" && r.URL.Host != r.Host
}

// passthrough forwards a request to the origin without touching any cache.
func (g *Gateway) passthrough(w http.ResponseWriter, r *http.Request) {
	resp, err := g.origin.Do(r)
	if err != nil {
		g.log.Debug("passthrough %s %s failed: %v", r.Method, r.URL.Path, err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// cacheFirst serves a cached entry without touching the network; on a miss
// it fetches, stores a successful copy and returns it. A network failure
// with no entry propagates.
func (g *Gateway) cacheFirst(w http.ResponseWriter, r *http.Request, region, category string) {
	key := CacheKey(r)
	if snap, ok := g.store.Match(region, key); ok {
		writeSnapshot(w, snap)
		return
	}

	snap, err := g.origin.FetchSnapshot(r.Context(), r.URL.RequestURI())
	if err != nil {
		g.log.Debug("cache-first miss and fetch failed for %s: %v", key, err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	if cacheable(snap) {
		snap.Category = category
		g.store.Put(region, key, snap)
	}
	writeSnapshot(w, snap)
}

// networkFirst attempts the network, storing and returning a success; on a
// transport failure it falls back to the cache entry, else propagates.
func (g *Gateway) networkFirst(w http.ResponseWriter, r *http.Request, region, category string) {
	key := CacheKey(r)

	snap, err := g.origin.FetchSnapshot(r.Context(), r.URL.RequestURI())
	if err == nil {
		if cacheable(snap) {
			snap.Category = category
			g.store.Put(region, key, snap)
		}
		writeSnapshot(w, snap)
		return
	}

	g.log.Debug("network-first fetch failed for %s: %v", key, err)
	if cached, ok := g.store.Match(region, key); ok {
		writeSnapshot(w, cached)
		return
	}
	http.Error(w, "origin unreachable", http.StatusBadGateway)
}

// staleWhileRevalidate returns a cached entry immediately and refreshes it
// in the background for future requests; the background result is never
// returned to the request that triggered it. On a miss it waits on the
// network.
func (g *Gateway) staleWhileRevalidate(w http.ResponseWriter, r *http.Request, region string) {
	key := CacheKey(r)
	uri := r.URL.RequestURI()

	if snap, ok := g.store.Match(region, key); ok {
		writeSnapshot(w, snap)
		g.revalidate(region, key, uri)
		return
	}

	snap, err := g.origin.FetchSnapshot(r.Context(), uri)
	if err != nil {
		g.log.Debug("stale-while-revalidate miss and fetch failed for %s: %v", key, err)
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	if cacheable(snap) {
		snap.Category = CategoryManifest
		g.store.Put(region, key, snap)
	}
	writeSnapshot(w, snap)
}

// revalidate spawns the background refresh for a stale-while-revalidate
// entry. Concurrent refreshes for the same key collapse into one fetch;
// failures are logged, never propagated.
func (g *Gateway) revalidate(region, key, uri string) {
	go func() {
		_, _, _ = g.group.Do(key, func() (any, error) {
			snap, err := g.origin.FetchSnapshot(context.Background(), uri)
			if err != nil {
				g.log.Debug("revalidation failed for %s: %v", key, err)
				return nil, err
			}
			if cacheable(snap) {
				snap.Category = CategoryManifest
				g.store.Put(region, key, snap)
			}
			return nil, nil
		})
		if g.afterRevalidate != nil {
			g.afterRevalidate(key)
		}
	}()
}

// pageWithOfflineFallback attempts the network, then the pages region, then
// the precached offline shell, then a generated offline document. The
// requester never sees a hard failure for a page.
func (g *Gateway) pageWithOfflineFallback(w http.ResponseWriter, r *http.Request) {
	key := CacheKey(r)

	snap, err := g.origin.FetchSnapshot(r.Context(), r.URL.RequestURI())
	if err == nil {
		if cacheable(snap) {
			snap.Category = CategoryPage
			g.store.Put(RegionPages, key, snap)
		}
		writeSnapshot(w, snap)
		return
	}
	g.log.Debug("page fetch failed for %s: %v", key, err)

	if cached, ok := g.store.Match(RegionPages, key); ok {
		writeSnapshot(w, cached)
		return
	}

	if primary := g.Generation(); primary != "" {
		if shell, ok := g.store.Match(primary, "GET "+OfflineShellPath); ok {
			writeSnapshot(w, shell)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(offlineHTML))
}

// writeSnapshot replays a stored response to the client.
func writeSnapshot(w http.ResponseWriter, snap Snapshot) {
	copyHeader(w.Header(), snap.Header)
	w.WriteHeader(snap.Status)
	_, _ = w.Write(snap.Body)
}

// copyHeader copies all values from src into dst.
func copyHeader(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
