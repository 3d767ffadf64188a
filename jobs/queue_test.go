package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skeinlab/skein/internal/metrics"
	"github.com/skeinlab/skein/kv"
	"github.com/skeinlab/skein/types"
)

func newTestQueue(t *testing.T, cfg QueueConfig, store kv.Store) *Queue {
	t.Helper()
	q := NewQueue(cfg, store, zap.NewNop())
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func quickRetry() RetryPolicy {
	return RetryPolicy{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestQueueRunsJobToCompletion(t *testing.T) {
	q := newTestQueue(t, DefaultQueueConfig(), nil)

	handle, err := q.AddJob(&Job{
		Type:    "echo",
		Timeout: time.Second,
		Fn: func(ctx context.Context) (any, error) {
			return "hello", nil
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, handle.JobID())

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, "hello", result.Result)
	assert.Equal(t, 1, result.Attempts)
	assert.Greater(t, result.ExecutionTime, time.Duration(0))
}

func TestQueueValidation(t *testing.T) {
	q := newTestQueue(t, DefaultQueueConfig(), nil)

	_, err := q.AddJob(&Job{Timeout: 0, Fn: func(ctx context.Context) (any, error) { return nil, nil }})
	assert.True(t, types.IsCode(err, types.ErrConfiguration))

	_, err = q.AddJob(&Job{Timeout: time.Second, MaxRetries: -1, Fn: func(ctx context.Context) (any, error) { return nil, nil }})
	assert.True(t, types.IsCode(err, types.ErrConfiguration))

	_, err = q.AddJob(&Job{Type: "unregistered", Timeout: time.Second})
	assert.True(t, types.IsCode(err, types.ErrConfiguration))
}

func TestQueueConcurrencyBound(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.MaxConcurrentJobs = 8
	cfg.Pool = PoolConfig{MinWorkers: 8, MaxWorkers: 8, AutoScale: false, QueueSize: 128}
	q := newTestQueue(t, cfg, nil)

	var current, peak atomic.Int32
	for i := 0; i < 80; i++ {
		_, err := q.AddJob(&Job{
			Type:    "load",
			Timeout: time.Second,
			Fn: func(ctx context.Context) (any, error) {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil, nil
			},
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	assert.LessOrEqual(t, peak.Load(), int32(8))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestQueuePriorityOrdering(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.Pool = PoolConfig{MinWorkers: 1, MaxWorkers: 1, AutoScale: false}
	q := newTestQueue(t, cfg, nil)

	gate := make(chan struct{})
	started := make(chan struct{})
	_, err := q.AddJob(&Job{
		Type:    "gate",
		Timeout: 5 * time.Second,
		Fn: func(ctx context.Context) (any, error) {
			close(started)
			<-gate
			return nil, nil
		},
	})
	require.NoError(t, err)
	<-started

	order := make(chan string, 3)
	for _, tc := range []struct {
		name     string
		priority Priority
	}{
		{"low", PriorityLow},
		{"normal", PriorityNormal},
		{"high", PriorityHigh},
	} {
		name := tc.name
		_, err := q.AddJob(&Job{
			Type:     name,
			Priority: tc.priority,
			Timeout:  time.Second,
			Fn: func(ctx context.Context) (any, error) {
				order <- name
				return nil, nil
			},
		})
		require.NoError(t, err)
	}

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))

	assert.Equal(t, "high", <-order)
	assert.Equal(t, "normal", <-order)
	assert.Equal(t, "low", <-order)
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.Retry = quickRetry()
	q := newTestQueue(t, cfg, nil)

	var calls atomic.Int32
	handle, err := q.AddJob(&Job{
		Type:       "flaky",
		MaxRetries: 3,
		Timeout:    time.Second,
		Fn: func(ctx context.Context) (any, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	})
	require.NoError(t, err)

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueueRetryBudgetExhausted(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.Retry = quickRetry()
	q := newTestQueue(t, cfg, nil)

	var calls atomic.Int32
	handle, err := q.AddJob(&Job{
		Type:       "doomed",
		MaxRetries: 2,
		Timeout:    time.Second,
		Fn: func(ctx context.Context) (any, error) {
			calls.Add(1)
			return nil, errors.New("permanent")
		},
	})
	require.NoError(t, err)

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, types.IsCode(result.Err, types.ErrRetryExceeded))
	assert.ErrorContains(t, result.Err, "permanent")
}

func TestQueueTimeoutCountsAgainstRetryBudget(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.Retry = quickRetry()
	q := newTestQueue(t, cfg, nil)

	var calls atomic.Int32
	handle, err := q.AddJob(&Job{
		Type:       "slow",
		MaxRetries: 1,
		Timeout:    20 * time.Millisecond,
		Fn: func(ctx context.Context) (any, error) {
			calls.Add(1)
			select {
			case <-time.After(time.Second):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	require.NoError(t, err)

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, types.IsCode(result.Err, types.ErrTimeout))
}

func TestQueueBroadcastStream(t *testing.T) {
	q := newTestQueue(t, DefaultQueueConfig(), nil)

	results, cancel := q.Subscribe()
	defer cancel()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		handle, err := q.AddJob(&Job{
			Type:    "fanout",
			Timeout: time.Second,
			Fn:      func(ctx context.Context) (any, error) { return nil, nil },
		})
		require.NoError(t, err)
		seen[handle.JobID()] = false
	}

	for i := 0; i < 5; i++ {
		select {
		case result := <-results:
			_, known := seen[result.JobID]
			assert.True(t, known)
			seen[result.JobID] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for broadcast results")
		}
	}
	for id, got := range seen {
		assert.True(t, got, "missing result for %s", id)
	}
}

func TestQueueRegisteredHandler(t *testing.T) {
	q := newTestQueue(t, DefaultQueueConfig(), nil)

	q.RegisterHandler("greet", func(ctx context.Context) (any, error) {
		return "hi", nil
	})

	handle, err := q.AddJob(&Job{Type: "greet", Timeout: time.Second})
	require.NoError(t, err)

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Result)
}

func TestQueueClosedRejectsJobs(t *testing.T) {
	q := NewQueue(DefaultQueueConfig(), nil, zap.NewNop())
	require.NoError(t, q.Close())

	_, err := q.AddJob(&Job{
		Type:    "late",
		Timeout: time.Second,
		Fn:      func(ctx context.Context) (any, error) { return nil, nil },
	})
	assert.True(t, types.IsCode(err, types.ErrQueueClosed))
}

func TestQueueRecoverFromStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	seed, err := kv.NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	for _, id := range []string{"a", "b"} {
		record := jobRecord{
			ID:         id,
			Type:       "recoverable",
			Priority:   PriorityNormal,
			MaxRetries: 1,
			Timeout:    time.Second,
			State:      StatePending,
			EnqueuedAt: time.Now(),
		}
		raw, err := json.Marshal(record)
		require.NoError(t, err)
		require.NoError(t, seed.Put(ctx, jobKeyPrefix+id, raw))
	}
	// A record whose type has no handler must be dropped, not recovered.
	orphan, err := json.Marshal(jobRecord{ID: "c", Type: "forgotten", Timeout: time.Second, State: StatePending})
	require.NoError(t, err)
	require.NoError(t, seed.Put(ctx, jobKeyPrefix+"c", orphan))
	require.NoError(t, seed.Close())

	store, err := kv.NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	q := newTestQueue(t, DefaultQueueConfig(), store)

	var calls atomic.Int32
	q.RegisterHandler("recoverable", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	recovered, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(drainCtx))
	assert.Equal(t, int32(2), calls.Load())

	// Terminal jobs shed their durable records.
	require.Eventually(t, func() bool {
		keys, err := store.Keys(ctx)
		return err == nil && len(keys) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestQueueStats(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.Pool = PoolConfig{MinWorkers: 1, MaxWorkers: 1, AutoScale: false}
	q := newTestQueue(t, cfg, nil)

	gate := make(chan struct{})
	started := make(chan struct{})
	for i := 0; i < 3; i++ {
		first := i == 0
		_, err := q.AddJob(&Job{
			Type:    "stats",
			Timeout: 5 * time.Second,
			Fn: func(ctx context.Context) (any, error) {
				if first {
					close(started)
				}
				<-gate
				return nil, nil
			},
		})
		require.NoError(t, err)
	}
	<-started

	assert.Equal(t, 1, q.RunningJobs())
	assert.Equal(t, 2, q.PendingJobs())

	close(gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, QueueStats{}, q.Stats())
}

func TestQueueReportsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("skein", reg, zap.NewNop())

	cfg := DefaultQueueConfig()
	cfg.Pool = PoolConfig{MinWorkers: 2, MaxWorkers: 2, AutoScale: false}
	q := NewQueue(cfg, nil, zap.NewNop(), WithMetrics(collector))
	t.Cleanup(func() { _ = q.Close() })

	for i := 0; i < 3; i++ {
		handle, err := q.AddJob(&Job{
			Type:    "noop",
			Timeout: time.Second,
			Fn:      func(ctx context.Context) (any, error) { return nil, nil },
		})
		require.NoError(t, err)
		_, err = handle.Wait(context.Background())
		require.NoError(t, err)
	}

	expected := `
# HELP skein_jobs_total Total number of terminal job results
# TYPE skein_jobs_total counter
skein_jobs_total{state="succeeded",type="noop"} 3
# HELP skein_queue_pending_jobs Number of jobs awaiting dispatch
# TYPE skein_queue_pending_jobs gauge
skein_queue_pending_jobs 0
# HELP skein_queue_running_jobs Number of jobs currently executing
# TYPE skein_queue_running_jobs gauge
skein_queue_running_jobs 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"skein_jobs_total", "skein_queue_pending_jobs", "skein_queue_running_jobs"))
}

func TestQueueCloseFailsRetryingHandle(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.Retry = RetryPolicy{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
	cfg.Pool = PoolConfig{MinWorkers: 1, MaxWorkers: 1, AutoScale: false}
	q := NewQueue(cfg, nil, zap.NewNop())

	attempted := make(chan struct{}, 4)
	handle, err := q.AddJob(&Job{
		Type:       "flaky",
		MaxRetries: 3,
		Timeout:    time.Second,
		Fn: func(ctx context.Context) (any, error) {
			attempted <- struct{}{}
			return nil, errors.New("transient")
		},
	})
	require.NoError(t, err)

	// Wait for the first attempt to land in its backoff window, then
	// close while the retry timer is still pending.
	<-attempted
	require.Eventually(t, func() bool {
		return q.PendingJobs() == 1 && q.RunningJobs() == 0
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, q.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := handle.Wait(ctx)
	require.NoError(t, err, "handle must resolve instead of hanging")
	assert.False(t, result.Success)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 1, result.Attempts)
	assert.True(t, types.IsCode(result.Err, types.ErrQueueClosed))
}
