package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/skeinlab/skein/jobs"
	"github.com/skeinlab/skein/types"
)

// inputPrefix is the path segment that reads from the workflow input
// rather than from a prior node's outputs.
const inputPrefix = "input"

// NodeFunc is a node's body. It receives the node's resolved inputs and
// returns the outputs the node publishes.
type NodeFunc func(ctx context.Context, nc *NodeContext) (map[string]any, error)

// NodeContext carries everything a node body needs.
type NodeContext struct {
	// NodeID identifies the node being executed.
	NodeID string
	// ExecutionID identifies the workflow run.
	ExecutionID string
	// Config is the node's opaque configuration from the definition.
	Config map[string]any
	// Inputs holds the values resolved from the node's input mapping.
	Inputs map[string]any
}

// Input reads a resolved input value.
func (nc *NodeContext) Input(name string) (any, bool) {
	v, ok := nc.Inputs[name]
	return v, ok
}

// Node is one vertex of a workflow graph.
type Node struct {
	// ID is unique within the definition.
	ID string `yaml:"id" json:"id"`
	// Type tags the node kind, used for handler lookup when Run is nil.
	Type string `yaml:"type" json:"type"`
	// Config is opaque node configuration passed through to the body.
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	// InputMapping maps input names to paths. "input.<field>" reads the
	// workflow input; "<nodeID>.<key>" reads a dependency's output.
	InputMapping map[string]string `yaml:"input_mapping,omitempty" json:"input_mapping,omitempty"`
	// OutputMapping lists the output keys this node publishes. Empty
	// publishes everything the body returns.
	OutputMapping []string `yaml:"output_mapping,omitempty" json:"output_mapping,omitempty"`
	// DependsOn lists upstream node IDs.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	// Optional nodes do not count against the workflow's success when
	// they fail. Their dependents are still skipped.
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty"`
	// Priority, MaxRetries and Timeout override the engine defaults for
	// the job this node runs as.
	Priority   jobs.Priority `yaml:"priority,omitempty" json:"priority,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Run is the node body. Optional when Type has a registered handler
	// on the engine.
	Run NodeFunc `yaml:"-" json:"-"`
}

// Definition is a validated workflow graph.
type Definition struct {
	ID    string  `yaml:"id" json:"id"`
	Name  string  `yaml:"name" json:"name"`
	Nodes []*Node `yaml:"nodes" json:"nodes"`
}

// Validate checks the graph structure: unique node IDs, known
// dependencies, and acyclicity. All violations are configuration errors
// raised before execution.
func (d *Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return types.NewError(types.ErrConfiguration, "workflow has no nodes")
	}

	byID := make(map[string]*Node, len(d.Nodes))
	for _, node := range d.Nodes {
		if node.ID == "" {
			return types.NewError(types.ErrConfiguration, "workflow node has empty id")
		}
		if node.ID == inputPrefix {
			return types.Newf(types.ErrConfiguration, "node id %q is reserved", inputPrefix)
		}
		if _, dup := byID[node.ID]; dup {
			return types.Newf(types.ErrConfiguration, "duplicate node id %q", node.ID)
		}
		byID[node.ID] = node
	}

	for _, node := range d.Nodes {
		for _, dep := range node.DependsOn {
			if _, ok := byID[dep]; !ok {
				return types.Newf(types.ErrUnknownDependency, "node %q depends on unknown node %q", node.ID, dep).
					WithNode(node.ID)
			}
		}
		for name, path := range node.InputMapping {
			source, _, ok := splitPath(path)
			if !ok {
				return types.Newf(types.ErrConfiguration, "node %q input %q has malformed path %q", node.ID, name, path).
					WithNode(node.ID)
			}
			if source == inputPrefix {
				continue
			}
			if _, known := byID[source]; !known {
				return types.Newf(types.ErrUnknownDependency, "node %q input %q reads unknown node %q", node.ID, name, source).
					WithNode(node.ID)
			}
		}
	}

	return d.checkAcyclic(byID)
}

// checkAcyclic runs Kahn's algorithm; leftover nodes mean a cycle.
func (d *Definition) checkAcyclic(byID map[string]*Node) error {
	indegree := make(map[string]int, len(d.Nodes))
	dependents := make(map[string][]string, len(d.Nodes))
	for _, node := range d.Nodes {
		indegree[node.ID] = len(node.DependsOn)
		for _, dep := range node.DependsOn {
			dependents[dep] = append(dependents[dep], node.ID)
		}
	}

	queue := make([]string, 0, len(d.Nodes))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(d.Nodes) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		return types.Newf(types.ErrCyclicGraph, "workflow graph has a cycle involving: %s", strings.Join(stuck, ", "))
	}
	return nil
}

// dependents builds the reverse adjacency list.
func (d *Definition) dependents() map[string][]string {
	out := make(map[string][]string, len(d.Nodes))
	for _, node := range d.Nodes {
		for _, dep := range node.DependsOn {
			out[dep] = append(out[dep], node.ID)
		}
	}
	return out
}

// splitPath splits "source.key" into its two parts.
func splitPath(path string) (source, key string, ok bool) {
	idx := strings.Index(path, ".")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}
