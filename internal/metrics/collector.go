package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the execution core's Prometheus metrics.
type Collector struct {
	workflowsTotal   *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec

	nodesTotal   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec

	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	queuePending prometheus.Gauge
	queueRunning prometheus.Gauge

	poolWorkers *prometheus.GaugeVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheSizeBytes *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers the metric set under namespace on reg.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.workflowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of workflow executions",
		},
		[]string{"workflow", "status"},
	)

	c.workflowDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"workflow"},
	)

	c.nodesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_nodes_total",
			Help:      "Total number of workflow node outcomes",
		},
		[]string{"workflow", "node", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_node_duration_seconds",
			Help:      "Workflow node execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"workflow", "node"},
	)

	c.jobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of terminal job results",
		},
		[]string{"type", "state"},
	)

	c.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	c.queuePending = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_pending_jobs",
		Help:      "Number of jobs awaiting dispatch",
	})

	c.queueRunning = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_running_jobs",
		Help:      "Number of jobs currently executing",
	})

	c.poolWorkers = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_workers",
			Help:      "Worker pool occupancy",
		},
		[]string{"state"}, // total, busy
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"level"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"level"},
	)

	c.cacheEvictions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache evictions",
		},
		[]string{"level"},
	)

	c.cacheSizeBytes = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_bytes",
			Help:      "Current cache size in bytes",
		},
		[]string{"level"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// ObserveWorkflow records one workflow run.
func (c *Collector) ObserveWorkflow(workflow string, success bool, duration time.Duration) {
	status := "succeeded"
	if !success {
		status = "failed"
	}
	c.workflowsTotal.WithLabelValues(workflow, status).Inc()
	c.workflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// ObserveNode records one node outcome.
func (c *Collector) ObserveNode(workflow, node, status string, duration time.Duration) {
	c.nodesTotal.WithLabelValues(workflow, node, status).Inc()
	if duration > 0 {
		c.nodeDuration.WithLabelValues(workflow, node).Observe(duration.Seconds())
	}
}

// ObserveJob records one terminal job result.
func (c *Collector) ObserveJob(jobType, state string, duration time.Duration) {
	c.jobsTotal.WithLabelValues(jobType, state).Inc()
	c.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetQueueDepth updates the queue liveness gauges.
func (c *Collector) SetQueueDepth(pending, running int) {
	c.queuePending.Set(float64(pending))
	c.queueRunning.Set(float64(running))
}

// SetPoolWorkers updates the worker pool gauges.
func (c *Collector) SetPoolWorkers(total, busy int) {
	c.poolWorkers.WithLabelValues("total").Set(float64(total))
	c.poolWorkers.WithLabelValues("busy").Set(float64(busy))
}

// RecordCacheHit records a hit at a cache level.
func (c *Collector) RecordCacheHit(level string) {
	c.cacheHits.WithLabelValues(level).Inc()
}

// RecordCacheMiss records a miss at a cache level.
func (c *Collector) RecordCacheMiss(level string) {
	c.cacheMisses.WithLabelValues(level).Inc()
}

// RecordCacheEvictions adds n evictions at a cache level.
func (c *Collector) RecordCacheEvictions(level string, n int) {
	if n <= 0 {
		return
	}
	c.cacheEvictions.WithLabelValues(level).Add(float64(n))
}

// SetCacheSize updates a level's size gauge.
func (c *Collector) SetCacheSize(level string, bytes int64) {
	c.cacheSizeBytes.WithLabelValues(level).Set(float64(bytes))
}
