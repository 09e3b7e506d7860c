// Package cache memoizes fetched series for the lifetime of a session.
package cache

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

// Cache maps a request key to a fetched series. Entries never expire; callers
// drop them with Reset. Concurrent misses for one key share a single fetch.
// A fetch that started before a Reset is returned to its caller but never
// stored.
type Cache struct {
	mu    sync.RWMutex
	items map[string]provider.Series
	gen   uint64
	sf    singleflight.Group
}

func New() *Cache {
	return &Cache{items: make(map[string]provider.Series)}
}

// GetOrFetch returns the series stored under key, calling fetch on a miss.
// Errors are returned to every waiter and are not stored.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (provider.Series, error)) (provider.Series, error) {
	s, gen, ok := c.get(key)
	if ok {
		return s.Clone(), nil
	}

	v, err, _ := c.sf.Do(strconv.FormatUint(gen, 10)+"#"+key, func() (any, error) {
		if s, g, ok := c.get(key); ok && g == gen {
			return s, nil
		}
		s, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return c.putIfAbsent(gen, key, s), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(provider.Series).Clone(), nil
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.items = make(map[string]provider.Series)
	c.gen++
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) get(key string) (provider.Series, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.items[key]
	return s, c.gen, ok
}

// putIfAbsent stores s unless key is already present and returns the stored
// value. Nothing is stored when the cache was reset after generation gen.
func (c *Cache) putIfAbsent(gen uint64, key string, s provider.Series) provider.Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return s
	}
	if c.items == nil {
		c.items = make(map[string]provider.Series)
	}
	if cur, ok := c.items[key]; ok {
		return cur
	}
	c.items[key] = s
	return s
}

// Provider wraps a provider.Provider with a Cache keyed by provider name and query.
type Provider struct {
	P provider.Provider
	C *Cache
}

func (p *Provider) Name() string { return p.P.Name() }

func (p *Provider) Fetch(ctx context.Context, q provider.Query) (provider.Series, error) {
	if p.C == nil {
		return p.P.Fetch(ctx, q)
	}
	return p.C.GetOrFetch(ctx, p.P.Name()+"|"+q.Key(), func(ctx context.Context) (provider.Series, error) {
		return p.P.Fetch(ctx, q)
	})
}
