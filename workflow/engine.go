package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/skeinlab/skein/internal/metrics"
	"github.com/skeinlab/skein/jobs"
	"github.com/skeinlab/skein/types"
)

// EngineConfig holds the per-node defaults the engine applies when a
// node does not override them.
type EngineConfig struct {
	DefaultNodeTimeout time.Duration `yaml:"default_node_timeout" json:"default_node_timeout"`
	DefaultMaxRetries  int           `yaml:"default_max_retries" json:"default_max_retries"`
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultNodeTimeout: 30 * time.Second,
		DefaultMaxRetries:  0,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = collector }
}

// WithTracer overrides the default tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// Engine executes workflow definitions over a job queue. Each instance
// owns its own handler registry and holds no global state.
type Engine struct {
	cfg      EngineConfig
	queue    *jobs.Queue
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *metrics.Collector
	handlers map[string]NodeFunc
}

// NewEngine creates an engine dispatching onto queue.
func NewEngine(queue *jobs.Queue, cfg EngineConfig, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.DefaultNodeTimeout <= 0 {
		cfg.DefaultNodeTimeout = DefaultEngineConfig().DefaultNodeTimeout
	}
	e := &Engine{
		cfg:      cfg,
		queue:    queue,
		logger:   logger.With(zap.String("component", "workflow_engine")),
		tracer:   otel.Tracer("skein/workflow"),
		handlers: make(map[string]NodeFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterNodeType binds a node type tag to a body, used by nodes that
// do not carry a Run function of their own.
func (e *Engine) RegisterNodeType(nodeType string, fn NodeFunc) {
	e.handlers[nodeType] = fn
}

// nodeOutcome is what a node job returns on success. Timing is carried
// in the result rather than written to shared state so an abandoned
// timed-out attempt cannot race the engine.
type nodeOutcome struct {
	outputs    map[string]any
	startedAt  time.Time
	finishedAt time.Time
}

// waveEntry pairs a submitted node with its pending handle.
type waveEntry struct {
	node   *Node
	handle *jobs.Handle
}

// Execute runs the definition to completion. Structural problems with
// the definition fail fast; node failures are recorded in the result and
// only suppress that node's transitive dependents.
func (e *Engine) Execute(ctx context.Context, def *Definition, input map[string]any) (*Result, error) {
	if def == nil {
		return nil, types.NewError(types.ErrConfiguration, "workflow definition is nil")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	bodies := make(map[string]NodeFunc, len(def.Nodes))
	for _, node := range def.Nodes {
		fn := node.Run
		if fn == nil {
			fn = e.handlers[node.Type]
		}
		if fn == nil {
			return nil, types.Newf(types.ErrConfiguration, "node %q has no body and type %q has no handler", node.ID, node.Type).
				WithNode(node.ID)
		}
		bodies[node.ID] = fn
	}

	executionID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", def.ID),
		attribute.String("workflow.name", def.Name),
		attribute.String("workflow.execution_id", executionID),
		attribute.Int("workflow.nodes", len(def.Nodes)),
	))
	defer span.End()

	startedAt := time.Now()
	e.logger.Info("workflow execution started",
		zap.String("workflow", def.Name),
		zap.String("execution_id", executionID),
		zap.Int("nodes", len(def.Nodes)),
	)

	run := &execution{
		engine:      e,
		def:         def,
		input:       input,
		executionID: executionID,
		bodies:      bodies,
		dependents:  def.dependents(),
		results:     make(map[string]*NodeResult, len(def.Nodes)),
		outputs:     make(map[string]map[string]any, len(def.Nodes)),
	}

	if err := run.waves(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := run.aggregate(executionID, startedAt)
	span.SetAttributes(attribute.Bool("workflow.success", result.Success))

	e.logger.Info("workflow execution finished",
		zap.String("workflow", def.Name),
		zap.String("execution_id", executionID),
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.Duration),
	)
	if e.metrics != nil {
		e.metrics.ObserveWorkflow(def.Name, result.Success, result.Duration)
	}
	return result, nil
}

// execution is the per-run state; the engine itself stays stateless
// across runs.
type execution struct {
	engine      *Engine
	def         *Definition
	input       map[string]any
	executionID string
	bodies      map[string]NodeFunc
	dependents  map[string][]string
	results     map[string]*NodeResult
	outputs     map[string]map[string]any
}

// waves dispatches ready sets until every node is resolved. Only the
// engine goroutine touches the execution maps; node bodies communicate
// through job results.
func (x *execution) waves(ctx context.Context) error {
	for len(x.results) < len(x.def.Nodes) {
		ready := x.readySet()
		if len(ready) == 0 {
			// Unreachable with a validated acyclic graph.
			return types.Newf(types.ErrExecution, "no runnable nodes with %d unresolved", len(x.def.Nodes)-len(x.results))
		}

		wave := make([]waveEntry, 0, len(ready))
		for _, node := range ready {
			inputs, err := x.resolveInputs(node)
			if err != nil {
				x.failNode(node, err, 0, 0)
				continue
			}
			handle, err := x.submit(ctx, node, inputs)
			if err != nil {
				x.failNode(node, err, 0, 0)
				continue
			}
			wave = append(wave, waveEntry{node: node, handle: handle})
		}

		for _, entry := range wave {
			jobResult, err := entry.handle.Wait(ctx)
			if err != nil {
				return err
			}
			x.settle(entry.node, jobResult)
		}
	}
	return nil
}

// readySet returns unresolved nodes whose dependencies have all
// resolved. Failed dependencies already marked their dependents skipped,
// so every returned node has only succeeded dependencies.
func (x *execution) readySet() []*Node {
	var ready []*Node
	for _, node := range x.def.Nodes {
		if _, done := x.results[node.ID]; done {
			continue
		}
		runnable := true
		for _, dep := range node.DependsOn {
			if _, done := x.results[dep]; !done {
				runnable = false
				break
			}
		}
		if runnable {
			ready = append(ready, node)
		}
	}
	return ready
}

// resolveInputs materializes a node's input mapping from the workflow
// input and upstream outputs.
func (x *execution) resolveInputs(node *Node) (map[string]any, error) {
	if len(node.InputMapping) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(node.InputMapping))
	for name, path := range node.InputMapping {
		source, key, _ := splitPath(path)
		if source == inputPrefix {
			value, ok := x.input[key]
			if !ok {
				return nil, types.Newf(types.ErrMissingInput, "node %q input %q: workflow input has no field %q", node.ID, name, key).
					WithNode(node.ID)
			}
			inputs[name] = value
			continue
		}
		published, ok := x.outputs[source]
		if !ok {
			return nil, types.Newf(types.ErrMissingInput, "node %q input %q: node %q published nothing", node.ID, name, source).
				WithNode(node.ID)
		}
		value, ok := published[key]
		if !ok {
			return nil, types.Newf(types.ErrMissingInput, "node %q input %q: node %q did not publish %q", node.ID, name, source, key).
				WithNode(node.ID)
		}
		inputs[name] = value
	}
	return inputs, nil
}

// submit wraps the node body in a job and enqueues it.
func (x *execution) submit(ctx context.Context, node *Node, inputs map[string]any) (*jobs.Handle, error) {
	fn := x.bodies[node.ID]
	timeout := node.Timeout
	if timeout <= 0 {
		timeout = x.engine.cfg.DefaultNodeTimeout
	}
	maxRetries := node.MaxRetries
	if maxRetries == 0 {
		maxRetries = x.engine.cfg.DefaultMaxRetries
	}

	nodeID := node.ID
	executionID := x.executionID
	config := node.Config
	tracer := x.engine.tracer
	parent := trace.SpanContextFromContext(ctx)

	return x.engine.queue.AddJob(&jobs.Job{
		Type:       "workflow_node",
		Priority:   node.Priority,
		MaxRetries: maxRetries,
		Timeout:    timeout,
		Fn: func(jobCtx context.Context) (any, error) {
			jobCtx = trace.ContextWithRemoteSpanContext(jobCtx, parent)
			jobCtx, span := tracer.Start(jobCtx, "workflow.node", trace.WithAttributes(
				attribute.String("workflow.execution_id", executionID),
				attribute.String("workflow.node_id", nodeID),
			))
			defer span.End()

			start := time.Now()
			outputs, err := fn(jobCtx, &NodeContext{
				NodeID:      nodeID,
				ExecutionID: executionID,
				Config:      config,
				Inputs:      inputs,
			})
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, types.Newf(types.ErrExecution, "node %q: %v", nodeID, err).
					WithNode(nodeID).
					WithCause(err)
			}
			return &nodeOutcome{outputs: outputs, startedAt: start, finishedAt: time.Now()}, nil
		},
	})
}

// settle records one node's job result and, on failure, marks its
// transitive dependents skipped.
func (x *execution) settle(node *Node, jobResult *jobs.JobResult) {
	if !jobResult.Success {
		x.failNode(node, jobResult.Err, jobResult.Attempts, jobResult.ExecutionTime)
		return
	}

	outcome := jobResult.Result.(*nodeOutcome)
	published := outcome.outputs
	if len(node.OutputMapping) > 0 {
		published = make(map[string]any, len(node.OutputMapping))
		for _, key := range node.OutputMapping {
			if value, ok := outcome.outputs[key]; ok {
				published[key] = value
			}
		}
	}

	x.outputs[node.ID] = published
	x.results[node.ID] = &NodeResult{
		NodeID:     node.ID,
		Status:     StatusSucceeded,
		Outputs:    published,
		Attempts:   jobResult.Attempts,
		StartedAt:  outcome.startedAt,
		FinishedAt: outcome.finishedAt,
		Duration:   jobResult.ExecutionTime,
	}
	x.observeNode(node.ID, StatusSucceeded, jobResult.ExecutionTime)
}

// failNode records a failure and skips everything downstream of it.
func (x *execution) failNode(node *Node, err error, attempts int, duration time.Duration) {
	x.engine.logger.Warn("workflow node failed",
		zap.String("execution_id", x.executionID),
		zap.String("node_id", node.ID),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	x.results[node.ID] = &NodeResult{
		NodeID:   node.ID,
		Status:   StatusFailed,
		Err:      err,
		Attempts: attempts,
		Duration: duration,
	}
	x.observeNode(node.ID, StatusFailed, duration)
	x.skipDependents(node.ID)
}

// skipDependents marks every unresolved transitive dependent skipped.
func (x *execution) skipDependents(failedID string) {
	queue := append([]string(nil), x.dependents[failedID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, done := x.results[id]; done {
			continue
		}
		x.results[id] = &NodeResult{
			NodeID: id,
			Status: StatusSkipped,
			Err:    types.Newf(types.ErrExecution, "upstream node %q failed", failedID).WithNode(id),
		}
		x.observeNode(id, StatusSkipped, 0)
		x.engine.logger.Debug("workflow node skipped",
			zap.String("execution_id", x.executionID),
			zap.String("node_id", id),
			zap.String("failed_upstream", failedID),
		)
		queue = append(queue, x.dependents[id]...)
	}
}

func (x *execution) observeNode(nodeID string, status NodeStatus, duration time.Duration) {
	if x.engine.metrics != nil {
		x.engine.metrics.ObserveNode(x.def.Name, nodeID, string(status), duration)
	}
}

// aggregate folds per-node results into the workflow result.
func (x *execution) aggregate(executionID string, startedAt time.Time) *Result {
	success := true
	flat := make(map[string]any)
	for _, node := range x.def.Nodes {
		nodeResult := x.results[node.ID]
		if nodeResult.Status != StatusSucceeded && !node.Optional {
			success = false
		}
		for key, value := range nodeResult.Outputs {
			flat[node.ID+"."+key] = value
		}
	}
	return &Result{
		ExecutionID: executionID,
		WorkflowID:  x.def.ID,
		Success:     success,
		Nodes:       x.results,
		Outputs:     flat,
		StartedAt:   startedAt,
		Duration:    time.Since(startedAt),
	}
}
