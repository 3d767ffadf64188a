package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/skeinlab/skein/cache"
)

// CachePolicy gates which calls are eligible for memoization.
type CachePolicy struct {
	// TemperatureThreshold is the highest temperature still considered
	// deterministic enough to cache.
	TemperatureThreshold float32 `yaml:"temperature_threshold" json:"temperature_threshold"`
	// MaxResponseBytes is the largest response content cached.
	MaxResponseBytes int64 `yaml:"max_response_bytes" json:"max_response_bytes"`
	// TTL for cached responses. Zero uses the cache level defaults.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultCachePolicy returns sensible defaults.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{
		TemperatureThreshold: 0.3,
		MaxResponseBytes:     1 << 20,
		TTL:                  time.Hour,
	}
}

// CacheStats summarizes the wrapper's hit accounting.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// CachedProvider wraps a Provider with the tiered cache. Requests above
// the temperature threshold bypass the cache entirely; concurrent identical
// eligible requests are coalesced into a single upstream call.
type CachedProvider struct {
	provider Provider
	cache    *cache.Manager
	policy   CachePolicy
	logger   *zap.Logger
	group    singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedProvider wraps provider with manager under policy.
func NewCachedProvider(provider Provider, manager *cache.Manager, policy CachePolicy, logger *zap.Logger) *CachedProvider {
	if policy.MaxResponseBytes <= 0 {
		policy.MaxResponseBytes = DefaultCachePolicy().MaxResponseBytes
	}
	return &CachedProvider{
		provider: provider,
		cache:    manager,
		policy:   policy,
		logger:   logger.With(zap.String("component", "cached_provider")),
	}
}

// Name implements Provider.
func (p *CachedProvider) Name() string {
	return p.provider.Name()
}

// Complete implements Provider, consulting the cache before the upstream
// call when the request is eligible.
func (p *CachedProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if !p.cacheable(req) {
		return p.provider.Complete(ctx, req)
	}

	key := p.cacheKey(req)

	var cached CompletionResponse
	if p.cache.GetJSON(ctx, key, &cached) {
		p.hits.Add(1)
		p.logger.Debug("completion served from cache", zap.String("key", key))
		return &cached, nil
	}

	// Coalesce concurrent identical requests into one upstream call.
	v, err, shared := p.group.Do(key, func() (any, error) {
		resp, err := p.provider.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if int64(len(resp.Content)) < p.policy.MaxResponseBytes {
			if err := p.cache.PutJSON(ctx, key, resp, cache.PutOptions{TTL: p.policy.TTL}); err != nil {
				p.logger.Warn("caching completion failed", zap.String("key", key), zap.Error(err))
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		p.hits.Add(1)
	} else {
		p.misses.Add(1)
	}
	return v.(*CompletionResponse), nil
}

// Stream implements Provider. Streamed completions are never cached.
func (p *CachedProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	return p.provider.Stream(ctx, req)
}

// CheckHealth implements Provider, annotating the result with the
// wrapper's hit rate.
func (p *CachedProvider) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	status, err := p.provider.CheckHealth(ctx)
	if err != nil {
		return nil, err
	}
	if status.Metadata == nil {
		status.Metadata = make(map[string]string)
	}
	stats := p.CacheStats()
	status.Metadata["cache_hit_rate"] = fmt.Sprintf("%.3f", stats.HitRate)
	return status, nil
}

// WarmupCache issues each request through the normal caching path. These
// count as real upstream calls.
func (p *CachedProvider) WarmupCache(ctx context.Context, reqs []*CompletionRequest) error {
	for i, req := range reqs {
		if _, err := p.Complete(ctx, req); err != nil {
			return fmt.Errorf("warmup request %d: %w", i, err)
		}
	}
	p.logger.Info("cache warmed", zap.Int("requests", len(reqs)))
	return nil
}

// CacheStats returns the wrapper's accounting.
func (p *CachedProvider) CacheStats() CacheStats {
	hits := p.hits.Load()
	misses := p.misses.Load()
	s := CacheStats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

func (p *CachedProvider) cacheable(req *CompletionRequest) bool {
	return req.Temperature <= p.policy.TemperatureThreshold
}

// cacheKey canonicalizes everything that affects the completion: the model,
// the full conversation, and the sampling parameters.
func (p *CachedProvider) cacheKey(req *CompletionRequest) string {
	return cache.GenerateKey("llm:"+p.provider.Name(), map[string]any{
		"model":       req.Model,
		"messages":    req.Messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"top_p":       req.TopP,
		"stop":        req.Stop,
	})
}
