package jobs

import (
	"context"
	"time"

	"github.com/skeinlab/skein/types"
)

// Priority orders jobs in the queue. Higher priorities dispatch first;
// within a priority, jobs dispatch in enqueue order.
type Priority int

// PriorityNormal is the zero value so unset jobs get it by default.
const (
	PriorityNormal Priority = iota
	PriorityLow
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// State is a job's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// JobFunc is the body of a job.
type JobFunc func(ctx context.Context) (any, error)

// Job describes one unit of work. Either Fn is set directly or Type names
// a handler registered on the queue; registered handlers are what make
// persisted jobs recoverable after a restart.
type Job struct {
	// ID is assigned by the queue when empty.
	ID string
	// Type names the job kind, used for handler lookup and persistence.
	Type string
	// Priority defaults to PriorityNormal.
	Priority Priority
	// Payload is opaque data passed through to the result and persisted
	// alongside the job when a store is configured.
	Payload any
	// MaxRetries is the number of re-attempts after the first failure.
	// Must be >= 0.
	MaxRetries int
	// Timeout bounds each attempt. Must be > 0.
	Timeout time.Duration
	// Fn is the job body. Optional when Type has a registered handler.
	Fn JobFunc
}

func (j *Job) validate() error {
	if j.MaxRetries < 0 {
		return types.Newf(types.ErrConfiguration, "maxRetries must be >= 0, got %d", j.MaxRetries)
	}
	if j.Timeout <= 0 {
		return types.Newf(types.ErrConfiguration, "timeout must be > 0, got %s", j.Timeout)
	}
	return nil
}

// JobResult is the terminal outcome of a job. Immutable once emitted.
type JobResult struct {
	JobID         string        `json:"job_id"`
	State         State         `json:"state"`
	Success       bool          `json:"success"`
	Result        any           `json:"result,omitempty"`
	Err           error         `json:"-"`
	Attempts      int           `json:"attempts"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Handle tracks one submitted job. Completion is delivered by closing
// Done; the result is readable afterwards.
type Handle struct {
	jobID  string
	done   chan struct{}
	result *JobResult
}

func newHandle(jobID string) *Handle {
	return &Handle{jobID: jobID, done: make(chan struct{})}
}

// JobID returns the tracked job's id.
func (h *Handle) JobID() string { return h.jobID }

// Done is closed when the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the terminal result, or nil if the job is still running.
func (h *Handle) Result() *JobResult {
	select {
	case <-h.done:
		return h.result
	default:
		return nil
	}
}

// Wait blocks until the job completes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (*JobResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) complete(result *JobResult) {
	h.result = result
	close(h.done)
}
