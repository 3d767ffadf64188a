package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skeinlab/skein/kv"
	"github.com/skeinlab/skein/types"
)

// DiskConfig configures the durable level.
type DiskConfig struct {
	// MaxSizeBytes caps the total payload bytes held on disk. Inserting
	// beyond the cap evicts least recently used entries until it fits.
	MaxSizeBytes int64 `yaml:"max_size_bytes" json:"max_size_bytes"`
	// DefaultTTL applies to puts without an explicit TTL. Zero disables
	// default expiry.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
}

// DefaultDiskConfig returns sensible defaults.
func DefaultDiskConfig() DiskConfig {
	return DiskConfig{
		MaxSizeBytes: 256 << 20, // 256 MiB
		DefaultTTL:   24 * time.Hour,
	}
}

// DiskCache is the size-capped durable level. Values live in a kv.Store;
// a new DiskCache over the same store sees entries written by previous
// instances. An in-memory index tracks sizes and recency so evictions do
// not touch the store until an entry is actually removed.
type DiskCache struct {
	store  kv.Store
	cfg    DiskConfig
	logger *zap.Logger

	mu        sync.Mutex
	index     map[string]*diskMeta
	totalSize int64
	stats     counters
}

type diskMeta struct {
	size         int64
	createdAt    time.Time
	lastAccessAt time.Time
	expiresAt    time.Time
}

func (m *diskMeta) expired(now time.Time) bool {
	return !m.expiresAt.IsZero() && now.After(m.expiresAt)
}

// NewDiskCache opens a disk cache over store, rebuilding the index from
// whatever the store already holds. Entries that fail to deserialize are
// removed rather than surfaced as errors.
func NewDiskCache(ctx context.Context, store kv.Store, cfg DiskConfig, logger *zap.Logger) (*DiskCache, error) {
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = DefaultDiskConfig().MaxSizeBytes
	}

	c := &DiskCache{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "disk_cache")),
		index:  make(map[string]*diskMeta),
	}

	if err := c.loadIndex(ctx); err != nil {
		return nil, err
	}

	c.logger.Debug("disk cache opened",
		zap.Int("entries", len(c.index)),
		zap.Int64("size_bytes", c.totalSize),
	)
	return c, nil
}

func (c *DiskCache) loadIndex(ctx context.Context) error {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list disk cache keys: %w", err)
	}

	for _, key := range keys {
		entry, ok := c.readEntry(ctx, key)
		if !ok {
			continue
		}
		c.index[key] = &diskMeta{
			size:         entry.Size,
			createdAt:    entry.CreatedAt,
			lastAccessAt: entry.LastAccessAt,
			expiresAt:    entry.ExpiresAt,
		}
		c.totalSize += entry.Size
	}
	return nil
}

// readEntry loads and decodes one entry. Corrupt entries are removed and
// treated as absent.
func (c *DiskCache) readEntry(ctx context.Context, key string) (*Entry, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		corrupt := types.Newf(types.ErrCacheCorruption, "decode entry %q: %v", key, err).WithCause(err)
		c.logger.Warn("removing corrupt disk entry", zap.String("key", key), zap.Error(corrupt))
		_ = c.store.Remove(ctx, key)
		return nil, false
	}
	return &entry, true
}

// Get returns the value for key, refreshing recency. Expired or corrupt
// entries are purged and reported as misses.
func (c *DiskCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, _, ok := c.GetWithTTL(ctx, key)
	return value, ok
}

// GetWithTTL returns the value together with the entry's remaining
// lifetime, zero when the entry does not expire. Callers copying the
// value into a faster level use the remaining lifetime so the copy
// cannot outlive the entry here.
func (c *DiskCache) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.index[key]
	if !ok {
		c.stats.misses.Add(1)
		return nil, 0, false
	}

	now := time.Now()
	if meta.expired(now) {
		c.dropLocked(ctx, key, meta)
		c.stats.evictions.Add(1)
		c.stats.misses.Add(1)
		return nil, 0, false
	}

	entry, ok := c.readEntry(ctx, key)
	if !ok {
		// The store lost or corrupted the entry underneath the index.
		c.dropIndexLocked(key, meta)
		c.stats.misses.Add(1)
		return nil, 0, false
	}

	var remaining time.Duration
	if !meta.expiresAt.IsZero() {
		remaining = meta.expiresAt.Sub(now)
	}

	meta.lastAccessAt = now
	c.stats.hits.Add(1)
	return entry.Value, remaining, true
}

// Put stores value under key, evicting least recently used entries until
// the byte cap is respected. A ttl of zero falls back to the configured
// default; a negative ttl stores without expiry.
func (c *DiskCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	size := int64(len(value))
	if size > c.cfg.MaxSizeBytes {
		c.logger.Warn("value exceeds disk cache capacity, not cached",
			zap.String("key", key),
			zap.Int64("size", size),
		)
		return nil
	}

	now := time.Now()
	entry := &Entry{
		Key:          key,
		Value:        value,
		Size:         size,
		CreatedAt:    now,
		LastAccessAt: now,
	}
	switch {
	case ttl > 0:
		entry.ExpiresAt = now.Add(ttl)
	case ttl == 0 && c.cfg.DefaultTTL > 0:
		entry.ExpiresAt = now.Add(c.cfg.DefaultTTL)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal disk entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.index[key]; ok {
		c.totalSize -= old.size
		delete(c.index, key)
	}

	for c.totalSize+size > c.cfg.MaxSizeBytes {
		if !c.evictOldestLocked(ctx) {
			break
		}
	}

	if err := c.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("persist disk entry: %w", err)
	}

	c.index[key] = &diskMeta{
		size:         size,
		createdAt:    now,
		lastAccessAt: now,
		expiresAt:    entry.ExpiresAt,
	}
	c.totalSize += size
	return nil
}

// Invalidate removes key if present.
func (c *DiskCache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if meta, ok := c.index[key]; ok {
		c.dropLocked(ctx, key, meta)
	}
}

// Clear removes all entries.
func (c *DiskCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear disk cache: %w", err)
	}
	c.index = make(map[string]*diskMeta)
	c.totalSize = 0
	return nil
}

// EvictExpired sweeps expired entries and returns how many were removed.
func (c *DiskCache) EvictExpired(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, meta := range c.index {
		if meta.expired(now) {
			c.dropLocked(ctx, key, meta)
			removed++
		}
	}
	c.stats.evictions.Add(uint64(removed))
	return removed
}

// Stats returns a snapshot including byte usage against the configured cap.
func (c *DiskCache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.index)
	size := c.totalSize
	c.mu.Unlock()

	s := c.stats.snapshot()
	s.Entries = entries
	s.SizeBytes = size
	if c.cfg.MaxSizeBytes > 0 {
		s.UsagePercent = float64(size) / float64(c.cfg.MaxSizeBytes) * 100
	}
	return s
}

// Close releases the underlying store.
func (c *DiskCache) Close() error {
	return c.store.Close()
}

// evictOldestLocked removes the entry with the oldest last access time.
// Returns false when the index is empty.
func (c *DiskCache) evictOldestLocked(ctx context.Context) bool {
	var oldestKey string
	var oldestMeta *diskMeta
	for key, meta := range c.index {
		if oldestMeta == nil || meta.lastAccessAt.Before(oldestMeta.lastAccessAt) {
			oldestKey = key
			oldestMeta = meta
		}
	}
	if oldestMeta == nil {
		return false
	}
	c.dropLocked(ctx, oldestKey, oldestMeta)
	c.stats.evictions.Add(1)
	return true
}

func (c *DiskCache) dropLocked(ctx context.Context, key string, meta *diskMeta) {
	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Warn("disk entry removal failed", zap.String("key", key), zap.Error(err))
	}
	c.dropIndexLocked(key, meta)
}

func (c *DiskCache) dropIndexLocked(key string, meta *diskMeta) {
	c.totalSize -= meta.size
	delete(c.index, key)
}
