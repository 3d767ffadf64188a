package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/skeinlab/skein/internal/metrics"
	"github.com/skeinlab/skein/types"
)

// Level selects which cache tier an operation applies to.
type Level string

const (
	LevelMemory Level = "memory"
	LevelDisk   Level = "disk"
	LevelAll    Level = "all"
)

// PutOptions controls placement and expiry of a put.
type PutOptions struct {
	// TTL overrides the level default. Zero uses the default; negative
	// stores without expiry.
	TTL time.Duration
	// Level defaults to LevelAll (write-through both tiers).
	Level Level
}

// ManagerStats aggregates per-level and overall statistics.
type ManagerStats struct {
	Memory  Stats `json:"memory"`
	Disk    Stats `json:"disk"`
	Overall Stats `json:"overall"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches a metrics collector. Hits and misses are recorded
// at the level that resolved them; sizes and evictions are published from
// the level statistics after each mutating operation.
func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// Manager unifies the memory and disk levels. Reads check memory first and
// fall back to disk; a disk hit promotes the value into memory before
// returning. Writes default to write-through. The disk level is optional:
// without one the manager degrades to memory-only.
type Manager struct {
	memory  *MemoryCache
	disk    *DiskCache
	logger  *zap.Logger
	metrics *metrics.Collector
	stats   counters
	closed  atomic.Bool

	evictMu           sync.Mutex
	seenMemEvictions  uint64
	seenDiskEvictions uint64
}

// NewManager composes the given levels. disk may be nil.
func NewManager(memory *MemoryCache, disk *DiskCache, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		memory: memory,
		disk:   disk,
		logger: logger.With(zap.String("component", "cache_manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached value for key, or ok=false on a miss at every
// level.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if m.closed.Load() {
		return nil, false
	}

	if value, ok := m.memory.Get(key); ok {
		m.stats.hits.Add(1)
		m.recordHit(LevelMemory)
		return value, true
	}
	m.recordMiss(LevelMemory)

	if m.disk != nil {
		if value, ttl, ok := m.disk.GetWithTTL(ctx, key); ok {
			// Promote so the next read is served from memory, capped at
			// the disk entry's remaining lifetime.
			m.memory.Put(key, value, ttl)
			m.stats.hits.Add(1)
			m.recordHit(LevelDisk)
			m.publishMetrics()
			m.logger.Debug("disk hit promoted", zap.String("key", key))
			return value, true
		}
		m.recordMiss(LevelDisk)
	}

	m.stats.misses.Add(1)
	return nil, false
}

// Put stores value according to opts.
func (m *Manager) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	if m.closed.Load() {
		return types.NewError(types.ErrCacheClosed, "cache manager is closed")
	}
	defer m.publishMetrics()

	level := opts.Level
	if level == "" {
		level = LevelAll
	}

	switch level {
	case LevelMemory:
		m.memory.Put(key, value, opts.TTL)
	case LevelDisk:
		if m.disk == nil {
			return types.NewError(types.ErrConfiguration, "no disk level configured")
		}
		return m.disk.Put(ctx, key, value, opts.TTL)
	case LevelAll:
		m.memory.Put(key, value, opts.TTL)
		if m.disk != nil {
			return m.disk.Put(ctx, key, value, opts.TTL)
		}
	default:
		return types.Newf(types.ErrConfiguration, "unknown cache level %q", level)
	}
	return nil
}

// GetJSON reads key and unmarshals it into dest.
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) bool {
	data, ok := m.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// Treated as a miss: the entry is unusable for this caller.
		m.logger.Warn("cached value failed to decode", zap.String("key", key), zap.Error(err))
		m.Invalidate(ctx, key, LevelAll)
		return false
	}
	return true
}

// PutJSON marshals value and stores it.
func (m *Manager) PutJSON(ctx context.Context, key string, value any, opts PutOptions) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return m.Put(ctx, key, data, opts)
}

// Invalidate removes key from the selected level(s).
func (m *Manager) Invalidate(ctx context.Context, key string, level Level) {
	if level == "" {
		level = LevelAll
	}
	if level == LevelMemory || level == LevelAll {
		m.memory.Invalidate(key)
	}
	if (level == LevelDisk || level == LevelAll) && m.disk != nil {
		m.disk.Invalidate(ctx, key)
	}
	m.publishMetrics()
}

// Clear empties the selected level(s).
func (m *Manager) Clear(ctx context.Context, level Level) error {
	if level == "" {
		level = LevelAll
	}
	if level == LevelMemory || level == LevelAll {
		m.memory.Clear()
	}
	if (level == LevelDisk || level == LevelAll) && m.disk != nil {
		err := m.disk.Clear(ctx)
		m.publishMetrics()
		return err
	}
	m.publishMetrics()
	return nil
}

// EvictExpired sweeps both levels and returns the total removed.
func (m *Manager) EvictExpired(ctx context.Context) int {
	removed := m.memory.EvictExpired()
	if m.disk != nil {
		removed += m.disk.EvictExpired(ctx)
	}
	m.publishMetrics()
	return removed
}

// Stats returns per-level and overall statistics.
func (m *Manager) Stats() ManagerStats {
	s := ManagerStats{
		Memory:  m.memory.Stats(),
		Overall: m.stats.snapshot(),
	}
	if m.disk != nil {
		s.Disk = m.disk.Stats()
	}
	s.Overall.Entries = s.Memory.Entries + s.Disk.Entries
	s.Overall.SizeBytes = s.Memory.SizeBytes + s.Disk.SizeBytes
	s.Overall.Evictions = s.Memory.Evictions + s.Disk.Evictions
	return s
}

// Close releases the disk level. Reads after Close miss and writes fail.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.disk != nil {
		return m.disk.Close()
	}
	return nil
}

func (m *Manager) recordHit(level Level) {
	if m.metrics != nil {
		m.metrics.RecordCacheHit(string(level))
	}
}

func (m *Manager) recordMiss(level Level) {
	if m.metrics != nil {
		m.metrics.RecordCacheMiss(string(level))
	}
}

// publishMetrics pushes size gauges and eviction deltas from the level
// statistics. Evictions happen inside the levels (LRU overflow, expiry),
// so the manager reconciles against the counters it last saw.
func (m *Manager) publishMetrics() {
	if m.metrics == nil {
		return
	}

	mem := m.memory.Stats()
	m.metrics.SetCacheSize(string(LevelMemory), mem.SizeBytes)
	var disk Stats
	if m.disk != nil {
		disk = m.disk.Stats()
		m.metrics.SetCacheSize(string(LevelDisk), disk.SizeBytes)
	}

	m.evictMu.Lock()
	memDelta := mem.Evictions - m.seenMemEvictions
	diskDelta := disk.Evictions - m.seenDiskEvictions
	m.seenMemEvictions = mem.Evictions
	m.seenDiskEvictions = disk.Evictions
	m.evictMu.Unlock()

	m.metrics.RecordCacheEvictions(string(LevelMemory), int(memDelta))
	m.metrics.RecordCacheEvictions(string(LevelDisk), int(diskDelta))
}
