package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := NewLRU[string, int](2, 0, WithEvictionCallback[string, int](func(k string, _ int) {
		evicted = append(evicted, k)
	}))
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)

	// touch a so b becomes the eviction candidate
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, c.Len())

	v, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLRUUpdateExistingKey(t *testing.T) {
	c := NewLRU[string, string](2, 0)
	c.Set("k", "v1")
	c.Set("k", "v2")

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, c.Len())
}

func TestLRUExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	c := NewLRU[string, int](10, time.Minute, WithClock[string, int](clock))
	c.Set("a", 1)
	c.SetWithTTL("b", 2, 0)

	now = now.Add(2 * time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok, "expired entry must not be returned")

	_, ok = c.Get("b")
	assert.True(t, ok, "zero ttl never expires")
}

func TestLRUStats(t *testing.T) {
	c := NewLRU[int, int](1, 0)
	c.Set(1, 1)
	c.Get(1)
	c.Get(2)
	c.Set(2, 2)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, 1, stats.MaxSize)

	c.Clear()
	assert.Equal(t, Stats{MaxSize: 1}, c.GetStats())
}

func TestLRUDeleteSkipsCallback(t *testing.T) {
	called := false
	c := NewLRU[string, int](2, 0, WithEvictionCallback[string, int](func(string, int) { called = true }))
	c.Set("a", 1)
	c.Delete("a")

	assert.False(t, called)
	assert.Equal(t, 0, c.Len())
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRU[string, int](64, time.Minute, WithCleanupInterval[string, int](10*time.Millisecond))
	defer c.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("%d-%d", g, i%100)
				c.Set(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
}
