// Package listing caches server listings that may go stale while the event stream is
// disconnected. The supervisor's resync hook calls Invalidate whenever a connection
// goes live, so the next read refetches.
package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL bounds staleness even when no reconnect happens.
const DefaultTTL = time.Minute

// Fetcher loads the listing stored under key.
type Fetcher[V any] interface {
	Fetch(ctx context.Context, key string) (V, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// Fetch calls f.
func (f FetchFunc[V]) Fetch(ctx context.Context, key string) (V, error) {
	return f(ctx, key)
}

// Cache is a read-through TTL cache.
type Cache[V any] struct {
	fetch Fetcher[V]
	cache *ttlcache.Cache[string, V]
	// generation is bumped by Invalidate so fetches that began earlier are not stored.
	generation atomic.Uint64
}

// New creates a cache and starts its expiry loop. Call Close to stop it.
func New[V any](ttl time.Duration, fetch Fetcher[V]) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache[V]{
		fetch: fetch,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, V](ttl),
		),
	}
	go c.cache.Start()
	return c
}

// Get returns the cached listing for key, fetching it on a miss. Errors are not cached.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, error) {
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	gen := c.generation.Load()
	v, err := c.fetch.Fetch(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	if c.generation.Load() == gen {
		c.cache.Set(key, v, ttlcache.DefaultTTL)
	}
	return v, nil
}

// Invalidate drops every cached listing.
func (c *Cache[V]) Invalidate() {
	c.generation.Add(1)
	c.cache.DeleteAll()
}

// Len returns the number of cached listings.
func (c *Cache[V]) Len() int {
	return c.cache.Len()
}

// Close stops the expiry loop.
func (c *Cache[V]) Close() {
	c.cache.Stop()
}

// HTTPFetcher fetches JSON listings with GET BaseURL+key.
type HTTPFetcher[V any] struct {
	BaseURL string
	Client  *http.Client
	Header  http.Header
}

// Fetch implements Fetcher.
func (f HTTPFetcher[V]) Fetch(ctx context.Context, key string) (V, error) {
	var v V

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	url := strings.TrimRight(f.BaseURL, "/") + "/" + strings.TrimLeft(key, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return v, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range f.Header {
		for _, val := range vs {
			req.Header.Add(k, val)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return v, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return v, fmt.Errorf("fetch %s: status %s: %s", key, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}
