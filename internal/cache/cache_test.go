package cache

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *countingRecorder) RecordCacheHit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[name]++
}

func (r *countingRecorder) RecordCacheMiss(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses[name]++
}

func TestNewCacheDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config CacheConfig
		want   int64
	}{
		{"zero entries uses default", CacheConfig{Name: "a"}, defaultMaxEntries},
		{"custom entries applied", CacheConfig{Name: "b", MaxEntries: 7}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewLRU[int](tt.config, nil)
			assert.Equal(t, tt.want, c.Stats().Capacity)
			assert.Equal(t, tt.config.Name, c.Name())
		})
	}
}

func TestLRUEviction(t *testing.T) {
	var evicted []string
	c := NewLRU[int](CacheConfig{Name: "redirects", MaxEntries: 2}, func(k string, _ int) {
		evicted = append(evicted, k)
	})

	c.Put("a", 1)
	c.Put("b", 2)
	_, ok := c.Get("a") // a becomes most recent
	require.True(t, ok)
	c.Put("c", 3)

	assert.Equal(t, []string{"b"}, evicted)
	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestTTLExpiry(t *testing.T) {
	c := NewTTL[string](CacheConfig{Name: "meta", MaxEntries: 10, TTL: 50 * time.Millisecond}, nil)
	c.Put("k", "v")

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestTTLEvictCallbackOnRemove(t *testing.T) {
	closed := make(chan string, 1)
	c := NewTTL[int](CacheConfig{Name: "sessions", TTL: time.Minute}, func(k string, _ int) {
		closed <- k
	})
	c.Put("sftp://h:22/", 1)
	assert.True(t, c.Remove("sftp://h:22/"))
	assert.Equal(t, "sftp://h:22/", <-closed)
	assert.False(t, c.Remove("sftp://h:22/"))
}

func TestRemoveTree(t *testing.T) {
	c := NewTTL[int](CacheConfig{Name: "meta", TTL: time.Minute}, nil)
	for i, k := range []string{
		"http://h/d",
		"http://h/d/x",
		"http://h/d/x/y",
		"http://h/dd",
		"http://h/e",
	} {
		c.Put(k, i)
	}

	n := c.RemoveTree("http://h/d/")
	assert.Equal(t, 3, n)

	keys := c.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"http://h/dd", "http://h/e"}, keys)
}

func TestStatsAndRecorder(t *testing.T) {
	rec := newCountingRecorder()
	c := NewLRU[int](CacheConfig{Name: "archives", MaxEntries: 4}, nil)
	c.SetRecorder(rec)

	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
	assert.InDelta(t, 0.25, stats.Utilization, 0.001)
	assert.Equal(t, 2, rec.hits["archives"])
	assert.Equal(t, 1, rec.misses["archives"])

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c := NewTTL[int](CacheConfig{Name: "meta", MaxEntries: 64, TTL: time.Minute}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := string(rune('a' + (i+j)%26))
				c.Put(key, j)
				c.Get(key)
				if j%10 == 0 {
					c.RemoveTree(key)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}
