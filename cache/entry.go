package cache

import (
	"sync/atomic"
	"time"
)

// Entry is a cached value with its bookkeeping. Entries are owned by the
// cache level that stores them and are never shared mutably with callers.
type Entry struct {
	Key          string    `json:"key"`
	Value        []byte    `json:"value"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessAt time.Time `json:"last_access_at"`
	// ExpiresAt is zero when the entry has no TTL.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Stats is a point-in-time snapshot of one cache level.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"size_bytes"`
	HitRatio  float64 `json:"hit_ratio"`
	// UsagePercent is populated by levels with a byte-size cap.
	UsagePercent float64 `json:"usage_percent,omitempty"`
}

// counters accumulates hit/miss/eviction counts with atomic updates so
// concurrent readers never block writers.
type counters struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func (c *counters) snapshot() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRatio = float64(hits) / float64(total)
	}
	return s
}
