package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skeinlab/skein/cache"
)

// mockProvider counts Complete calls and returns a canned response.
type mockProvider struct {
	calls   atomic.Int32
	delay   time.Duration
	content string
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	content := m.content
	if content == "" {
		content = "response for " + req.Messages[len(req.Messages)-1].Content
	}
	return &CompletionResponse{
		Model:        req.Model,
		Content:      content,
		FinishReason: "stop",
		Usage:        Usage{TotalTokens: 10},
		CreatedAt:    time.Now(),
	}, nil
}

func (m *mockProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 2)
	ch <- StreamChunk{Delta: "chunk"}
	ch <- StreamChunk{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (m *mockProvider) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

func newCached(t *testing.T, provider Provider, policy CachePolicy) *CachedProvider {
	t.Helper()
	manager := cache.NewManager(cache.NewMemoryCache(cache.MemoryConfig{MaxEntries: 64}), nil, zap.NewNop())
	t.Cleanup(func() { manager.Close() })
	return NewCachedProvider(provider, manager, policy, zap.NewNop())
}

func req(temp float32, prompt string) *CompletionRequest {
	return &CompletionRequest{
		Model:       "test-model",
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: temp,
	}
}

func TestCachedProvider_LowTemperatureIsCached(t *testing.T) {
	ctx := context.Background()
	mock := &mockProvider{}
	p := newCached(t, mock, DefaultCachePolicy())

	r1, err := p.Complete(ctx, req(0.1, "hello"))
	require.NoError(t, err)
	r2, err := p.Complete(ctx, req(0.1, "hello"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), mock.calls.Load(), "identical low-temperature requests should hit upstream once")
	assert.Equal(t, r1.Content, r2.Content)

	stats := p.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestCachedProvider_HighTemperatureBypasses(t *testing.T) {
	ctx := context.Background()
	mock := &mockProvider{}
	p := newCached(t, mock, DefaultCachePolicy())

	_, err := p.Complete(ctx, req(0.9, "hello"))
	require.NoError(t, err)
	_, err = p.Complete(ctx, req(0.9, "hello"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), mock.calls.Load(), "high-temperature requests must bypass the cache")
	stats := p.CacheStats()
	assert.Zero(t, stats.Hits+stats.Misses, "bypassed calls do not count toward cache stats")
}

func TestCachedProvider_DistinctPromptsDistinctEntries(t *testing.T) {
	ctx := context.Background()
	mock := &mockProvider{}
	p := newCached(t, mock, DefaultCachePolicy())

	_, err := p.Complete(ctx, req(0.0, "one"))
	require.NoError(t, err)
	_, err = p.Complete(ctx, req(0.0, "two"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), mock.calls.Load())
}

func TestCachedProvider_OversizedResponseNotCached(t *testing.T) {
	ctx := context.Background()
	mock := &mockProvider{content: "this response is far too large"}
	policy := DefaultCachePolicy()
	policy.MaxResponseBytes = 8
	p := newCached(t, mock, policy)

	_, err := p.Complete(ctx, req(0.0, "big"))
	require.NoError(t, err)
	_, err = p.Complete(ctx, req(0.0, "big"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), mock.calls.Load(), "oversized responses must not be served from cache")
}

func TestCachedProvider_ConcurrentIdenticalRequestsCoalesce(t *testing.T) {
	ctx := context.Background()
	mock := &mockProvider{delay: 50 * time.Millisecond}
	p := newCached(t, mock, DefaultCachePolicy())

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Complete(ctx, req(0.1, "same"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), mock.calls.Load(), "in-flight identical requests should share one upstream call")
}

func TestCachedProvider_WarmupCache(t *testing.T) {
	ctx := context.Background()
	mock := &mockProvider{}
	p := newCached(t, mock, DefaultCachePolicy())

	reqs := []*CompletionRequest{req(0.0, "a"), req(0.0, "b")}
	require.NoError(t, p.WarmupCache(ctx, reqs))
	assert.Equal(t, int32(2), mock.calls.Load(), "warmup issues real upstream calls")

	// Warm entries now serve without new upstream calls.
	_, err := p.Complete(ctx, req(0.0, "a"))
	require.NoError(t, err)
	_, err = p.Complete(ctx, req(0.0, "b"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), mock.calls.Load())
}

func TestCachedProvider_StreamPassesThrough(t *testing.T) {
	ctx := context.Background()
	p := newCached(t, &mockProvider{}, DefaultCachePolicy())

	ch, err := p.Stream(ctx, req(0.0, "s"))
	require.NoError(t, err)

	var chunks []StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "stop", chunks[1].FinishReason)
}

func TestCachedProvider_HealthIncludesHitRate(t *testing.T) {
	ctx := context.Background()
	p := newCached(t, &mockProvider{}, DefaultCachePolicy())

	_, err := p.Complete(ctx, req(0.0, "x"))
	require.NoError(t, err)
	_, err = p.Complete(ctx, req(0.0, "x"))
	require.NoError(t, err)

	status, err := p.CheckHealth(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, "0.500", status.Metadata["cache_hit_rate"])
}
