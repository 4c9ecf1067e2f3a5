package resolve

import (
	"context"
	"sync"

	"github.com/toolbay/toolbay/internal/domain/registry"
)

// manifestCache deduplicates and optionally parallelizes manifest fetches.
// Each id is fetched at most once; concurrent callers for the same id share
// the single in-flight fetch. The cache only warms data: traversal order
// and aggregation stay keyed by plugin id, so resolution output does not
// depend on fetch completion order.
type manifestCache struct {
	source ManifestSource

	mu      sync.Mutex
	entries map[registry.PluginID]*cacheEntry

	// sem bounds concurrent prefetch fetches.
	sem chan struct{}
}

type cacheEntry struct {
	ready    chan struct{}
	manifest *registry.Manifest
	err      error
}

func newManifestCache(source ManifestSource, prefetch int) *manifestCache {
	if prefetch < 1 {
		prefetch = 1
	}
	return &manifestCache{
		source:  source,
		entries: make(map[registry.PluginID]*cacheEntry),
		sem:     make(chan struct{}, prefetch),
	}
}

// get returns the manifest for an id, fetching it if no fetch has started.
func (c *manifestCache) get(ctx context.Context, id registry.PluginID) (*registry.Manifest, error) {
	entry, started := c.claim(id)
	if started {
		entry.manifest, entry.err = c.source.FetchPluginDetails(ctx, id)
		close(entry.ready)
	}

	select {
	case <-entry.ready:
		return entry.manifest, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// prefetch starts background fetches for ids not yet claimed, bounded by
// the cache's concurrency budget. Fetches that cannot get a slot are left
// for the traversal to perform on demand.
func (c *manifestCache) prefetch(ctx context.Context, ids []registry.PluginID) {
	for _, id := range ids {
		select {
		case c.sem <- struct{}{}:
		default:
			return
		}

		entry, started := c.claim(id)
		if !started {
			<-c.sem
			continue
		}

		go func(id registry.PluginID, entry *cacheEntry) {
			defer func() { <-c.sem }()
			entry.manifest, entry.err = c.source.FetchPluginDetails(ctx, id)
			close(entry.ready)
		}(id, entry)
	}
}

// claim returns the cache entry for an id. The second result is true when
// the caller now owns the fetch for that entry.
func (c *manifestCache) claim(id registry.PluginID) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[id]; ok {
		return entry, false
	}
	entry := &cacheEntry{ready: make(chan struct{})}
	c.entries[id] = entry
	return entry, true
}
