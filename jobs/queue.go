package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skeinlab/skein/internal/metrics"
	"github.com/skeinlab/skein/kv"
	"github.com/skeinlab/skein/types"
)

// QueueConfig configures the job queue.
type QueueConfig struct {
	// MaxConcurrentJobs bounds how many jobs run at once.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	// Retry controls the backoff between attempts.
	Retry RetryPolicy `yaml:"retry" json:"retry"`
	// Pool configures the underlying worker pool.
	Pool PoolConfig `yaml:"pool" json:"pool"`
	// PersistBuffer sizes the async durability channel.
	PersistBuffer int `yaml:"persist_buffer" json:"persist_buffer"`
}

// DefaultQueueConfig returns sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrentJobs: 8,
		Retry:             DefaultRetryPolicy(),
		Pool:              DefaultPoolConfig(),
		PersistBuffer:     256,
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics attaches a metrics collector. The queue reports terminal
// job results and depth gauges; the pool reports worker gauges.
func WithMetrics(collector *metrics.Collector) Option {
	return func(q *Queue) { q.metrics = collector }
}

// QueueStats reports queue liveness counters.
type QueueStats struct {
	PendingJobs int `json:"pending_jobs"`
	RunningJobs int `json:"running_jobs"`
}

// queuedJob is a job admitted to the queue together with its resolved
// body and attempt accounting.
type queuedJob struct {
	job        *Job
	fn         JobFunc
	attempts   int
	enqueuedAt time.Time
}

// Queue is the bounded-concurrency job queue. Jobs are ordered by
// priority then FIFO, dispatched onto the worker pool while running
// capacity is available, retried with backoff up to their budget, and
// aborted with a timeout failure when an attempt overruns.
//
// With a kv.Store configured, pending and running jobs are persisted
// asynchronously so a new instance over the same store can Recover them.
// Persistence failures degrade to non-durable operation, they never
// block dispatch.
type Queue struct {
	cfg     QueueConfig
	logger  *zap.Logger
	pool    *WorkerPool
	store   kv.Store
	metrics *metrics.Collector

	mu       sync.Mutex
	pending  map[Priority][]*queuedJob
	handles  map[string]*Handle
	handlers map[string]JobFunc
	running  int
	closed   bool

	pendingCount atomic.Int32
	runningCount atomic.Int32

	subsMu  sync.Mutex
	subs    map[int]chan *JobResult
	nextSub int

	notifyCh  chan struct{}
	persistCh chan persistOp
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewQueue creates and starts a queue. store may be nil for a purely
// in-memory queue.
func NewQueue(cfg QueueConfig, store kv.Store, logger *zap.Logger, opts ...Option) *Queue {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = DefaultQueueConfig().MaxConcurrentJobs
	}
	if cfg.PersistBuffer <= 0 {
		cfg.PersistBuffer = DefaultQueueConfig().PersistBuffer
	}

	q := &Queue{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "job_queue")),
		pool:      NewWorkerPool(cfg.Pool, logger),
		store:     store,
		pending:   make(map[Priority][]*queuedJob),
		handles:   make(map[string]*Handle),
		handlers:  make(map[string]JobFunc),
		subs:      make(map[int]chan *JobResult),
		notifyCh:  make(chan struct{}, 1),
		persistCh: make(chan persistOp, cfg.PersistBuffer),
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}
	q.pool.metrics = q.metrics

	q.pool.Start()

	q.wg.Add(1)
	go q.dispatcher()

	if store != nil {
		q.wg.Add(1)
		go q.persistWriter()
	}

	return q
}

// RegisterHandler binds a job type to a body. Registered handlers let
// jobs be submitted by type and persisted jobs be recovered.
func (q *Queue) RegisterHandler(jobType string, fn JobFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = fn
}

// AddJob validates and enqueues a job, returning a handle immediately.
// Completion is delivered through the handle and the broadcast stream.
func (q *Queue) AddJob(job *Job) (*Handle, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, types.NewError(types.ErrQueueClosed, "queue is closed")
	}

	fn := job.Fn
	if fn == nil {
		fn = q.handlers[job.Type]
	}
	if fn == nil {
		return nil, types.Newf(types.ErrConfiguration, "job type %q has no handler and no body", job.Type)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	qj := &queuedJob{job: job, fn: fn, enqueuedAt: time.Now()}
	handle := newHandle(job.ID)
	q.handles[job.ID] = handle
	q.pending[job.Priority] = append(q.pending[job.Priority], qj)
	q.pendingCount.Add(1)

	q.persist(qj, StatePending)
	q.notify()
	q.observeDepth()

	q.logger.Debug("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("priority", job.Priority.String()),
	)
	return handle, nil
}

// Subscribe returns a broadcast channel receiving every terminal
// JobResult, plus a cancel function. Slow subscribers drop results once
// their buffer fills.
func (q *Queue) Subscribe() (<-chan *JobResult, func()) {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()

	id := q.nextSub
	q.nextSub++
	ch := make(chan *JobResult, 64)
	q.subs[id] = ch

	cancel := func() {
		q.subsMu.Lock()
		defer q.subsMu.Unlock()
		if existing, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Stats returns the queue's liveness counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		PendingJobs: int(q.pendingCount.Load()),
		RunningJobs: int(q.runningCount.Load()),
	}
}

// PendingJobs returns the number of jobs awaiting dispatch, including
// jobs waiting out a retry backoff.
func (q *Queue) PendingJobs() int { return int(q.pendingCount.Load()) }

// RunningJobs returns the number of jobs currently executing.
func (q *Queue) RunningJobs() int { return int(q.runningCount.Load()) }

// Pool exposes the worker pool for statistics.
func (q *Queue) Pool() *WorkerPool { return q.pool }

// Drain blocks until no job is pending or running, or ctx expires.
func (q *Queue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if q.pendingCount.Load() == 0 && q.runningCount.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops dispatching and tears the queue down. Pending jobs stay in
// the store (when configured) for a later Recover.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()
	q.pool.Stop()

	q.subsMu.Lock()
	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
	q.subsMu.Unlock()

	if q.store != nil {
		return q.store.Close()
	}
	return nil
}

func (q *Queue) notify() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}

func (q *Queue) observeDepth() {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(int(q.pendingCount.Load()), int(q.runningCount.Load()))
	}
}

// dispatcher pops jobs while running capacity remains and hands them to
// the pool.
func (q *Queue) dispatcher() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-q.notifyCh:
		}

		for {
			q.mu.Lock()
			if q.closed || q.running >= q.cfg.MaxConcurrentJobs {
				q.mu.Unlock()
				break
			}
			qj := q.popLocked()
			if qj == nil {
				q.mu.Unlock()
				break
			}
			q.running++
			q.mu.Unlock()

			q.pendingCount.Add(-1)
			q.runningCount.Add(1)
			q.persist(qj, StateRunning)
			q.observeDepth()

			job := qj
			if err := q.pool.Submit(func() { q.execute(job) }); err != nil {
				q.finish(job, &JobResult{
					JobID:    job.job.ID,
					State:    StateFailed,
					Attempts: job.attempts + 1,
					Err:      fmt.Errorf("submit to pool: %w", err),
				})
			}
		}
	}
}

// popLocked returns the oldest job of the highest non-empty priority.
func (q *Queue) popLocked() *queuedJob {
	for _, priority := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		list := q.pending[priority]
		if len(list) == 0 {
			continue
		}
		qj := list[0]
		q.pending[priority] = list[1:]
		return qj
	}
	return nil
}

// execute runs one attempt with the job's timeout and routes the outcome
// to retry or completion.
func (q *Queue) execute(qj *queuedJob) {
	attempt := qj.attempts + 1
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), qj.job.Timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := q.safeCall(ctx, qj)
		done <- outcome{result: result, err: err}
	}()

	var result any
	var err error
	timedOut := false
	select {
	case o := <-done:
		result, err = o.result, o.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		timedOut = true
		err = types.Newf(types.ErrTimeout, "job exceeded %s deadline", qj.job.Timeout).
			WithRetryable(true).
			WithJob(qj.job.ID)
	}

	elapsed := time.Since(start)
	qj.attempts = attempt

	if err == nil {
		q.finish(qj, &JobResult{
			JobID:         qj.job.ID,
			State:         StateSucceeded,
			Success:       true,
			Result:        result,
			Attempts:      attempt,
			ExecutionTime: elapsed,
		})
		return
	}

	// Timeouts and execution failures share the retry budget.
	if attempt <= qj.job.MaxRetries {
		delay := q.cfg.Retry.Delay(attempt)
		q.logger.Debug("job attempt failed, retrying",
			zap.String("job_id", qj.job.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Bool("timed_out", timedOut),
			zap.Error(err),
		)
		q.runningCount.Add(-1)
		q.pendingCount.Add(1)
		q.mu.Lock()
		q.running--
		q.mu.Unlock()
		q.persist(qj, StatePending)
		q.notify()
		q.observeDepth()

		time.AfterFunc(delay, func() { q.requeue(qj) })
		return
	}

	state := StateFailed
	if timedOut {
		state = StateTimedOut
	} else if qj.job.MaxRetries > 0 {
		err = types.Newf(types.ErrRetryExceeded, "job failed after %d attempts", attempt).
			WithJob(qj.job.ID).
			WithCause(err)
	}
	q.finish(qj, &JobResult{
		JobID:         qj.job.ID,
		State:         state,
		Attempts:      attempt,
		ExecutionTime: elapsed,
		Err:           err,
	})
}

// safeCall invokes the job body, converting panics into execution errors.
func (q *Queue) safeCall(ctx context.Context, qj *queuedJob) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Newf(types.ErrExecution, "job panicked: %v", r).WithJob(qj.job.ID)
		}
	}()
	return qj.fn(ctx)
}

// requeue puts a job back in its priority list after backoff. When the
// queue closed during the backoff the job cannot run again in this
// instance, so its handle is completed with a closed-queue failure
// rather than left waiting forever. The persisted record stays in the
// store for a later Recover.
func (q *Queue) requeue(qj *queuedJob) {
	q.mu.Lock()
	if q.closed {
		handle := q.handles[qj.job.ID]
		delete(q.handles, qj.job.ID)
		q.mu.Unlock()

		q.pendingCount.Add(-1)
		q.observeDepth()
		if handle != nil {
			handle.complete(&JobResult{
				JobID:    qj.job.ID,
				State:    StateFailed,
				Attempts: qj.attempts,
				Err:      types.NewError(types.ErrQueueClosed, "queue closed during retry backoff").WithJob(qj.job.ID),
			})
		}
		q.logger.Debug("retry abandoned, queue closed", zap.String("job_id", qj.job.ID))
		return
	}
	q.pending[qj.job.Priority] = append(q.pending[qj.job.Priority], qj)
	q.mu.Unlock()
	q.notify()
}

// finish records the terminal result, releases the running slot, and
// fans the result out.
func (q *Queue) finish(qj *queuedJob, result *JobResult) {
	q.mu.Lock()
	q.running--
	handle := q.handles[qj.job.ID]
	delete(q.handles, qj.job.ID)
	q.mu.Unlock()

	q.runningCount.Add(-1)
	q.unpersist(qj)
	q.notify()

	if q.metrics != nil {
		q.metrics.ObserveJob(qj.job.Type, string(result.State), result.ExecutionTime)
	}
	q.observeDepth()

	if handle != nil {
		handle.complete(result)
	}
	q.broadcast(result)

	if result.Success {
		q.logger.Debug("job succeeded",
			zap.String("job_id", result.JobID),
			zap.Int("attempts", result.Attempts),
			zap.Duration("execution_time", result.ExecutionTime),
		)
	} else {
		q.logger.Warn("job failed",
			zap.String("job_id", result.JobID),
			zap.String("state", string(result.State)),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err),
		)
	}
}

func (q *Queue) broadcast(result *JobResult) {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- result:
		default:
			// Slow subscriber: drop rather than stall completion.
		}
	}
}
