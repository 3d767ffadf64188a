package cache

import (
	"sync"
	"time"
)

// MemoryConfig configures the in-memory level.
type MemoryConfig struct {
	// MaxEntries bounds the number of live entries. Inserting beyond the
	// bound evicts the least recently used entry.
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
	// DefaultTTL applies to puts that do not specify a TTL. Zero means
	// entries do not expire unless a TTL is given per put.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
}

// DefaultMemoryConfig returns sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxEntries: 1000,
		DefaultTTL: 5 * time.Minute,
	}
}

// MemoryCache is a bounded LRU cache with optional per-entry TTL. Recency
// is ordered by last access: any Get that hits moves the entry to the head,
// and the eviction candidate is always the tail. The linked list gives O(1)
// get, put, and evict.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode
	tail     *lruNode
	stats    counters
}

type lruNode struct {
	entry *Entry
	prev  *lruNode
	next  *lruNode
}

// NewMemoryCache creates a memory cache from config.
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	capacity := cfg.MaxEntries
	if capacity <= 0 {
		capacity = DefaultMemoryConfig().MaxEntries
	}
	return &MemoryCache{
		capacity: capacity,
		ttl:      cfg.DefaultTTL,
		items:    make(map[string]*lruNode),
	}
}

// Get returns the value for key, refreshing its recency. Expired entries
// are purged and reported as misses.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		c.stats.misses.Add(1)
		return nil, false
	}

	now := time.Now()
	if node.entry.Expired(now) {
		c.removeNode(node)
		delete(c.items, key)
		c.stats.misses.Add(1)
		return nil, false
	}

	node.entry.LastAccessAt = now
	c.moveToHead(node)
	c.stats.hits.Add(1)
	return node.entry.Value, true
}

// Put stores value under key. A ttl of zero falls back to the configured
// default; a negative ttl stores the entry without expiry.
func (c *MemoryCache) Put(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry := &Entry{
		Key:          key,
		Value:        value,
		Size:         int64(len(value)),
		CreatedAt:    now,
		LastAccessAt: now,
	}
	switch {
	case ttl > 0:
		entry.ExpiresAt = now.Add(ttl)
	case ttl == 0 && c.ttl > 0:
		entry.ExpiresAt = now.Add(c.ttl)
	}

	if node, ok := c.items[key]; ok {
		node.entry = entry
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{entry: entry}
	c.items[key] = node
	c.addToHead(node)
}

// Invalidate removes key if present.
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		c.removeNode(node)
		delete(c.items, key)
	}
}

// Clear removes all entries.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode)
	c.head = nil
	c.tail = nil
}

// EvictExpired proactively sweeps expired entries and returns how many
// were removed. TTL is otherwise checked lazily on read.
func (c *MemoryCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, node := range c.items {
		if node.entry.Expired(now) {
			c.removeNode(node)
			delete(c.items, key)
			removed++
		}
	}
	c.stats.evictions.Add(uint64(removed))
	return removed
}

// Stats returns a snapshot of the level's statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.items)
	var size int64
	for _, node := range c.items {
		size += node.entry.Size
	}
	c.mu.Unlock()

	s := c.stats.snapshot()
	s.Entries = entries
	s.SizeBytes = size
	return s
}

func (c *MemoryCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *MemoryCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *MemoryCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

func (c *MemoryCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.entry.Key)
	c.removeNode(c.tail)
	c.stats.evictions.Add(1)
}
