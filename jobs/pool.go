package jobs

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skeinlab/skein/internal/metrics"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// PoolConfig configures the worker pool.
type PoolConfig struct {
	// MinWorkers and MaxWorkers bound the live worker count.
	MinWorkers int `yaml:"min_workers" json:"min_workers"`
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
	// AutoScale enables the utilization-driven scaler.
	AutoScale bool `yaml:"auto_scale" json:"auto_scale"`
	// QueueSize buffers tasks awaiting a free worker.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
	// SampleInterval is how often the scaler samples load.
	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval"`
	// ScaleUpUtilization and ScaleDownUtilization are the hysteresis
	// thresholds on busy/total.
	ScaleUpUtilization   float64 `yaml:"scale_up_utilization" json:"scale_up_utilization"`
	ScaleDownUtilization float64 `yaml:"scale_down_utilization" json:"scale_down_utilization"`
	// ScaleUpSamples and ScaleDownSamples are the consecutive samples a
	// threshold must hold before an adjustment fires.
	ScaleUpSamples   int `yaml:"scale_up_samples" json:"scale_up_samples"`
	ScaleDownSamples int `yaml:"scale_down_samples" json:"scale_down_samples"`
	// ScaleEvery rate-limits adjustments to one per interval so the pool
	// does not oscillate.
	ScaleEvery time.Duration `yaml:"scale_every" json:"scale_every"`
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinWorkers:           2,
		MaxWorkers:           8,
		AutoScale:            true,
		QueueSize:            256,
		SampleInterval:       250 * time.Millisecond,
		ScaleUpUtilization:   0.8,
		ScaleDownUtilization: 0.2,
		ScaleUpSamples:       2,
		ScaleDownSamples:     4,
		ScaleEvery:           500 * time.Millisecond,
	}
}

func (c *PoolConfig) applyDefaults() {
	d := DefaultPoolConfig()
	if c.MinWorkers <= 0 {
		c.MinWorkers = d.MinWorkers
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = d.SampleInterval
	}
	if c.ScaleUpUtilization <= 0 {
		c.ScaleUpUtilization = d.ScaleUpUtilization
	}
	if c.ScaleDownUtilization <= 0 {
		c.ScaleDownUtilization = d.ScaleDownUtilization
	}
	if c.ScaleUpSamples <= 0 {
		c.ScaleUpSamples = d.ScaleUpSamples
	}
	if c.ScaleDownSamples <= 0 {
		c.ScaleDownSamples = d.ScaleDownSamples
	}
	if c.ScaleEvery <= 0 {
		c.ScaleEvery = d.ScaleEvery
	}
}

// PoolStats is a snapshot of the pool for observability and tests.
type PoolStats struct {
	TotalWorkers int     `json:"total_workers"`
	BusyWorkers  int     `json:"busy_workers"`
	Utilization  float64 `json:"utilization"`
	Backlog      int     `json:"backlog"`
}

// WorkerPool runs tasks on a bounded set of worker goroutines. With
// autoscaling enabled the live count drifts between MinWorkers and
// MaxWorkers: sustained high utilization with backlog grows the pool,
// sustained idleness shrinks it, and adjustments are rate-limited.
type WorkerPool struct {
	cfg     PoolConfig
	logger  *zap.Logger
	metrics *metrics.Collector

	tasks    chan func()
	retireCh chan struct{}
	stopCh   chan struct{}

	total atomic.Int32
	busy  atomic.Int32

	limiter *rate.Limiter
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// NewWorkerPool creates a pool from cfg.
func NewWorkerPool(cfg PoolConfig, logger *zap.Logger) *WorkerPool {
	cfg.applyDefaults()
	return &WorkerPool{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "worker_pool")),
		tasks:    make(chan func(), cfg.QueueSize),
		retireCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		limiter:  rate.NewLimiter(rate.Every(cfg.ScaleEvery), 1),
	}
}

// Start spawns the minimum worker set and, when enabled, the autoscaler.
func (p *WorkerPool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < p.cfg.MinWorkers; i++ {
		p.spawnWorker()
	}

	p.observeWorkers()

	if p.cfg.AutoScale {
		p.wg.Add(1)
		go p.scaler()
	}

	p.logger.Info("worker pool started",
		zap.Int("min_workers", p.cfg.MinWorkers),
		zap.Int("max_workers", p.cfg.MaxWorkers),
		zap.Bool("auto_scale", p.cfg.AutoScale),
	)
}

// Stop retires all workers. Buffered tasks not yet picked up are dropped;
// callers drain the queue before stopping in the graceful path.
func (p *WorkerPool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Submit hands a task to the pool, blocking while the task buffer is full.
func (p *WorkerPool) Submit(task func()) error {
	if p.stopped.Load() {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	}
}

// Statistics returns a snapshot of the pool.
func (p *WorkerPool) Statistics() PoolStats {
	total := int(p.total.Load())
	busy := int(p.busy.Load())
	s := PoolStats{
		TotalWorkers: total,
		BusyWorkers:  busy,
		Backlog:      len(p.tasks),
	}
	if total > 0 {
		s.Utilization = float64(busy) / float64(total)
	}
	return s
}

func (p *WorkerPool) observeWorkers() {
	if p.metrics != nil {
		p.metrics.SetPoolWorkers(int(p.total.Load()), int(p.busy.Load()))
	}
}

func (p *WorkerPool) spawnWorker() {
	p.total.Add(1)
	p.wg.Add(1)
	go p.worker()
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.total.Add(-1)

	for {
		select {
		case <-p.stopCh:
			return
		case <-p.retireCh:
			return
		case task := <-p.tasks:
			p.busy.Add(1)
			task()
			p.busy.Add(-1)
		}
	}
}

// scaler samples utilization and backlog, requiring the threshold to hold
// for consecutive samples (hysteresis) before adjusting by one worker.
func (p *WorkerPool) scaler() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SampleInterval)
	defer ticker.Stop()

	highStreak := 0
	lowStreak := 0

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		total := p.total.Load()
		busy := p.busy.Load()
		backlog := len(p.tasks)

		var util float64
		if total > 0 {
			util = float64(busy) / float64(total)
		}
		p.observeWorkers()

		switch {
		case util >= p.cfg.ScaleUpUtilization && backlog > 0:
			highStreak++
			lowStreak = 0
		case util <= p.cfg.ScaleDownUtilization && backlog == 0:
			lowStreak++
			highStreak = 0
		default:
			highStreak = 0
			lowStreak = 0
		}

		if highStreak >= p.cfg.ScaleUpSamples && int(total) < p.cfg.MaxWorkers && p.limiter.Allow() {
			p.spawnWorker()
			highStreak = 0
			p.logger.Debug("scaled up",
				zap.Int32("total_workers", total+1),
				zap.Float64("utilization", util),
				zap.Int("backlog", backlog),
			)
		}

		if lowStreak >= p.cfg.ScaleDownSamples && int(total) > p.cfg.MinWorkers && p.limiter.Allow() {
			select {
			case p.retireCh <- struct{}{}:
				lowStreak = 0
				p.logger.Debug("scaled down", zap.Int32("total_workers", total-1))
			default:
			}
		}
	}
}
