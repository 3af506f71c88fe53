package cache

import (
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/peppy/vfs/pkg/types"
)

const defaultMaxEntries = 128

// StatsRecorder receives hit and miss events; the metrics collector implements it.
type StatsRecorder interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Name       string        `yaml:"name"`
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// store is the part of the golang-lru API shared by the plain and the expirable LRU.
type store[V any] interface {
	Get(key string) (V, bool)
	Peek(key string) (V, bool)
	Add(key string, value V) bool
	Remove(key string) bool
	Keys() []string
	Len() int
	Purge()
}

// Cache is a string keyed LRU, optionally with a time to live, that keeps statistics.
type Cache[V any] struct {
	name     string
	capacity int
	ttl      time.Duration
	store    store[V]
	recorder StatsRecorder

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewTTL creates a cache whose entries read as absent once older than cfg.TTL.
// onEvict runs for every entry leaving the cache, whether expired, evicted or removed.
func NewTTL[V any](cfg CacheConfig, onEvict func(key string, value V)) *Cache[V] {
	c := newCache[V](cfg)
	c.store = expirable.NewLRU[string, V](c.capacity, c.evictHook(onEvict), cfg.TTL)
	return c
}

// NewLRU creates a cache bounded only by entry count.
func NewLRU[V any](cfg CacheConfig, onEvict func(key string, value V)) *Cache[V] {
	c := newCache[V](cfg)
	// NewWithEvict only fails on a non-positive size, which newCache rules out.
	s, _ := lru.NewWithEvict[string, V](c.capacity, c.evictHook(onEvict))
	c.store = s
	return c
}

func newCache[V any](cfg CacheConfig) *Cache[V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	return &Cache[V]{name: cfg.Name, capacity: cfg.MaxEntries, ttl: cfg.TTL}
}

func (c *Cache[V]) evictHook(onEvict func(string, V)) func(string, V) {
	return func(key string, value V) {
		c.evictions.Add(1)
		if onEvict != nil {
			onEvict(key, value)
		}
	}
}

// SetRecorder attaches a StatsRecorder. It must be called before the cache is shared.
func (c *Cache[V]) SetRecorder(r StatsRecorder) {
	c.recorder = r
}

// Name returns the cache name used in statistics.
func (c *Cache[V]) Name() string {
	return c.name
}

// Get retrieves a live entry.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.store.Get(key)
	if ok {
		c.hits.Add(1)
		if c.recorder != nil {
			c.recorder.RecordCacheHit(c.name)
		}
	} else {
		c.misses.Add(1)
		if c.recorder != nil {
			c.recorder.RecordCacheMiss(c.name)
		}
	}
	return v, ok
}

// Contains reports whether key is cached without touching recency or statistics.
func (c *Cache[V]) Contains(key string) bool {
	_, ok := c.store.Peek(key)
	return ok
}

// Put stores value under key, replacing any previous entry.
func (c *Cache[V]) Put(key string, value V) {
	c.store.Add(key, value)
}

// Remove drops key and reports whether it was present.
func (c *Cache[V]) Remove(key string) bool {
	return c.store.Remove(key)
}

// RemoveTree drops key and every key below it, that is every key starting
// with key followed by a slash. A trailing slash on key is ignored.
func (c *Cache[V]) RemoveTree(key string) int {
	root := strings.TrimSuffix(key, "/")
	n := 0
	for _, k := range c.store.Keys() {
		if k == root || strings.HasPrefix(k, root+"/") {
			if c.store.Remove(k) {
				n++
			}
		}
	}
	return n
}

// Keys returns the cached keys from oldest to newest.
func (c *Cache[V]) Keys() []string {
	return c.store.Keys()
}

func (c *Cache[V]) Len() int {
	return c.store.Len()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.store.Purge()
}

// Stats returns a snapshot of the cache statistics.
func (c *Cache[V]) Stats() types.CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := types.CacheStats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Size:      int64(c.store.Len()),
		Capacity:  int64(c.capacity),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	if c.capacity > 0 {
		stats.Utilization = float64(stats.Size) / float64(c.capacity)
	}
	return stats
}
