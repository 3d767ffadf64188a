package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_PutGet(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxEntries: 10})

	c.Put("k", []byte("v"), 0)
	val, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxEntries: 10})

	c.Put("k", []byte("v"), 100*time.Millisecond)
	val, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	time.Sleep(150 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCache_NegativeTTLNeverExpires(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxEntries: 10, DefaultTTL: 10 * time.Millisecond})

	c.Put("k", []byte("v"), -1)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestMemoryCache_LRUEvictsByLastAccess(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxEntries: 3})

	c.Put("k1", []byte("v1"), 0)
	c.Put("k2", []byte("v2"), 0)
	c.Put("k3", []byte("v3"), 0)

	// Refresh k1's recency so k2 becomes the eviction candidate.
	_, ok := c.Get("k1")
	require.True(t, ok)

	c.Put("k4", []byte("v4"), 0)

	_, ok = c.Get("k2")
	assert.False(t, ok, "k2 should have been evicted")

	for key, want := range map[string]string{"k1": "v1", "k3": "v3", "k4": "v4"} {
		val, ok := c.Get(key)
		require.True(t, ok, "expected %s to survive", key)
		assert.Equal(t, []byte(want), val)
	}
}

func TestMemoryCache_EvictExpired(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxEntries: 10})

	c.Put("short", []byte("v"), 20*time.Millisecond)
	c.Put("long", []byte("v"), time.Hour)

	time.Sleep(40 * time.Millisecond)
	removed := c.EvictExpired()
	assert.Equal(t, 1, removed)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxEntries: 2})

	c.Put("a", []byte("1234"), 0)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRatio, 1e-9)
	assert.Equal(t, int64(4), stats.SizeBytes)

	c.Put("b", []byte("x"), 0)
	c.Put("c", []byte("y"), 0)
	stats = c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Entries)
}

func TestMemoryCache_InvalidateAndClear(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxEntries: 10})

	c.Put("a", []byte("1"), 0)
	c.Put("b", []byte("2"), 0)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}
