package depresolve

import (
	"context"
	"sync"
)

// CachedResolver decorates a Resolver with a single-entry-per-root cache,
// since build-system probes (especially GradleResolver's subprocess) are
// expensive enough that re-running one per document-change notification
// would make editing noticeably slower (spec.md §4.3, item 4:
// "resolution results are cached per workspace root until invalidated").
type CachedResolver struct {
	inner Resolver

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	deps []Dependency
	err  error
}

// NewCachedResolver wraps inner with a per-root result cache.
func NewCachedResolver(inner Resolver) *CachedResolver {
	return &CachedResolver{inner: inner, cache: make(map[string]cacheEntry)}
}

func (c *CachedResolver) Name() string { return c.inner.Name() }

func (c *CachedResolver) Resolve(ctx context.Context, root string) ([]Dependency, error) {
	c.mu.Lock()
	if entry, ok := c.cache[root]; ok {
		c.mu.Unlock()
		return entry.deps, entry.err
	}
	c.mu.Unlock()

	deps, err := c.inner.Resolve(ctx, root)

	c.mu.Lock()
	c.cache[root] = cacheEntry{deps: deps, err: err}
	c.mu.Unlock()

	return deps, err
}

// Invalidate drops the cached result for root, forcing the next Resolve
// call to re-probe the build system (e.g. after build.gradle/pom.xml
// changes on disk).
func (c *CachedResolver) Invalidate(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, root)
}
