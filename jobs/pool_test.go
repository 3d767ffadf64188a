package jobs

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skeinlab/skein/internal/metrics"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MinWorkers: 2, MaxWorkers: 2, AutoScale: false}, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int32(50), counter.Load())
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MinWorkers: 1, MaxWorkers: 1, AutoScale: false}, zap.NewNop())
	pool.Start()
	pool.Stop()

	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPoolScalesUpUnderLoad(t *testing.T) {
	cfg := PoolConfig{
		MinWorkers:     4,
		MaxWorkers:     8,
		AutoScale:      true,
		QueueSize:      128,
		SampleInterval: 20 * time.Millisecond,
		ScaleUpSamples: 2,
		ScaleEvery:     40 * time.Millisecond,
	}
	pool := NewWorkerPool(cfg, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			<-release
		}))
	}

	// Sample the live worker count while the burst saturates the pool.
	observed := []int{pool.cfg.MinWorkers}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		total := pool.Statistics().TotalWorkers
		if total != observed[len(observed)-1] {
			observed = append(observed, total)
		}
		if total >= cfg.MaxWorkers {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	for i := 1; i < len(observed); i++ {
		assert.Greater(t, observed[i], observed[i-1], "worker count should only grow during the burst")
		assert.LessOrEqual(t, observed[i], cfg.MaxWorkers)
	}
	assert.Equal(t, cfg.MaxWorkers, observed[len(observed)-1])

	close(release)
	wg.Wait()
}

func TestWorkerPoolScalesDownWhenIdle(t *testing.T) {
	cfg := PoolConfig{
		MinWorkers:       2,
		MaxWorkers:       6,
		AutoScale:        true,
		SampleInterval:   10 * time.Millisecond,
		ScaleDownSamples: 2,
		ScaleEvery:       15 * time.Millisecond,
	}
	pool := NewWorkerPool(cfg, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			<-release
		}))
	}

	require.Eventually(t, func() bool {
		return pool.Statistics().TotalWorkers > cfg.MinWorkers
	}, 2*time.Second, 5*time.Millisecond, "pool should grow under load")

	close(release)
	wg.Wait()

	require.Eventually(t, func() bool {
		return pool.Statistics().TotalWorkers == cfg.MinWorkers
	}, 3*time.Second, 10*time.Millisecond, "idle pool should shrink back to the minimum")
}

func TestWorkerPoolStatistics(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{MinWorkers: 3, MaxWorkers: 3, AutoScale: false}, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	stats := pool.Statistics()
	assert.Equal(t, 3, stats.TotalWorkers)
	assert.Equal(t, 0, stats.BusyWorkers)
	assert.Equal(t, 0.0, stats.Utilization)
}

func TestWorkerPoolReportsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	pool := NewWorkerPool(PoolConfig{MinWorkers: 2, MaxWorkers: 4, AutoScale: false, QueueSize: 8}, zap.NewNop())
	pool.metrics = metrics.NewCollector("skein", reg, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	expected := `
# HELP skein_pool_workers Worker pool occupancy
# TYPE skein_pool_workers gauge
skein_pool_workers{state="busy"} 0
skein_pool_workers{state="total"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "skein_pool_workers"))
}
