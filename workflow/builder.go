package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/skeinlab/skein/jobs"
)

// DefinitionBuilder provides a fluent API for constructing workflow
// definitions. Build validates the result.
type DefinitionBuilder struct {
	def *Definition
}

// NewDefinition creates a builder for a workflow with the given name.
func NewDefinition(name string) *DefinitionBuilder {
	return &DefinitionBuilder{
		def: &Definition{
			ID:   uuid.NewString(),
			Name: name,
		},
	}
}

// WithID overrides the generated workflow id.
func (b *DefinitionBuilder) WithID(id string) *DefinitionBuilder {
	b.def.ID = id
	return b
}

// Node starts configuring a node and returns its builder.
func (b *DefinitionBuilder) Node(id string) *NodeBuilder {
	node := &Node{ID: id}
	b.def.Nodes = append(b.def.Nodes, node)
	return &NodeBuilder{node: node, parent: b}
}

// Build validates the definition and returns it.
func (b *DefinitionBuilder) Build() (*Definition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	return b.def, nil
}

// NodeBuilder configures a single node.
type NodeBuilder struct {
	node   *Node
	parent *DefinitionBuilder
}

// Type sets the node's type tag.
func (nb *NodeBuilder) Type(nodeType string) *NodeBuilder {
	nb.node.Type = nodeType
	return nb
}

// Run sets the node body directly.
func (nb *NodeBuilder) Run(fn NodeFunc) *NodeBuilder {
	nb.node.Run = fn
	return nb
}

// Config sets the node's opaque configuration.
func (nb *NodeBuilder) Config(config map[string]any) *NodeBuilder {
	nb.node.Config = config
	return nb
}

// DependsOn declares the node's upstream dependencies.
func (nb *NodeBuilder) DependsOn(ids ...string) *NodeBuilder {
	nb.node.DependsOn = append(nb.node.DependsOn, ids...)
	return nb
}

// Input maps an input name to a path like "input.query" or "fetch.body".
func (nb *NodeBuilder) Input(name, path string) *NodeBuilder {
	if nb.node.InputMapping == nil {
		nb.node.InputMapping = make(map[string]string)
	}
	nb.node.InputMapping[name] = path
	return nb
}

// Publish restricts the output keys this node publishes.
func (nb *NodeBuilder) Publish(keys ...string) *NodeBuilder {
	nb.node.OutputMapping = append(nb.node.OutputMapping, keys...)
	return nb
}

// Optional excludes the node from the workflow's success conjunction.
func (nb *NodeBuilder) Optional() *NodeBuilder {
	nb.node.Optional = true
	return nb
}

// Priority sets the job priority the node runs at.
func (nb *NodeBuilder) Priority(p jobs.Priority) *NodeBuilder {
	nb.node.Priority = p
	return nb
}

// Retries sets the node's retry budget.
func (nb *NodeBuilder) Retries(n int) *NodeBuilder {
	nb.node.MaxRetries = n
	return nb
}

// Timeout bounds each attempt of the node.
func (nb *NodeBuilder) Timeout(d time.Duration) *NodeBuilder {
	nb.node.Timeout = d
	return nb
}

// Done returns to the definition builder.
func (nb *NodeBuilder) Done() *DefinitionBuilder {
	return nb.parent
}
