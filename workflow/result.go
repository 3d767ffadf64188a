package workflow

import (
	"time"
)

// NodeStatus is a node's terminal status within a workflow run.
type NodeStatus string

const (
	StatusSucceeded NodeStatus = "succeeded"
	StatusFailed    NodeStatus = "failed"
	// StatusSkipped marks nodes that were never submitted because an
	// upstream dependency failed.
	StatusSkipped NodeStatus = "skipped"
)

// NodeResult is the outcome of one node.
type NodeResult struct {
	NodeID string     `json:"node_id"`
	Status NodeStatus `json:"status"`
	// Outputs holds the keys the node published, per its output mapping.
	Outputs map[string]any `json:"outputs,omitempty"`
	Err     error          `json:"-"`
	// Attempts counts job attempts, 0 for skipped nodes.
	Attempts int `json:"attempts"`
	// StartedAt and FinishedAt bracket the successful attempt. Zero for
	// nodes that never produced a result.
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Result aggregates a workflow run.
type Result struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	// Success is true iff every non-optional node succeeded.
	Success bool                   `json:"success"`
	Nodes   map[string]*NodeResult `json:"nodes"`
	// Outputs flattens every published value under "<nodeID>.<key>".
	Outputs   map[string]any `json:"outputs,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// Node returns a node's result, or nil.
func (r *Result) Node(id string) *NodeResult {
	return r.Nodes[id]
}

// Output reads a flattened output value by "<nodeID>.<key>" path.
func (r *Result) Output(path string) (any, bool) {
	v, ok := r.Outputs[path]
	return v, ok
}
