package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/dataflow/internal/logging"
	"github.com/rendis/dataflow/internal/store"
	"github.com/rendis/dataflow/internal/streaming"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// runPlan describes one dispatch pass over a graph.
type runPlan struct {
	executionID string
	pipeline    string
	graph       *Graph
	// targets are the nodes this run may execute, in topological order.
	targets []string
	// cached are satisfied nodes whose outputs are reused instead of re-run.
	cached map[string]*NodeResult
}

type completion struct {
	nodeID string
	result *NodeResult
}

// ExecuteGraph runs every node of the graph. Structural problems and cycles
// are returned as errors before any node is touched; node failures are
// reported in the result and only stop the branches that depend on them.
func (e *Engine) ExecuteGraph(ctx context.Context, nodes []schema.NodeInstance, connections []schema.Connection) (*ExecutionResult, error) {
	return e.executeGraph(ctx, "", nodes, connections)
}

// ExecutePipeline runs a pipeline document; its name is carried into the
// result and the run history.
func (e *Engine) ExecutePipeline(ctx context.Context, p *schema.Pipeline) (*ExecutionResult, error) {
	if p == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "pipeline is nil")
	}
	return e.executeGraph(ctx, p.Name, p.Nodes, p.Connections)
}

func (e *Engine) executeGraph(ctx context.Context, pipeline string, nodes []schema.NodeInstance, connections []schema.Connection) (*ExecutionResult, error) {
	g, err := BuildGraph(nodes, connections)
	if err != nil {
		return nil, err
	}

	plan := &runPlan{
		executionID: uuid.New().String(),
		pipeline:    pipeline,
		graph:       g,
		targets:     g.Order,
	}
	if err := e.begin(plan, true); err != nil {
		return nil, err
	}
	return e.execute(ctx, plan), nil
}

// ExecuteNode runs one node, reusing the cached outputs of ancestors that
// already succeeded and executing the ones that did not. The node itself
// always re-runs.
func (e *Engine) ExecuteNode(ctx context.Context, nodeID string, nodes []schema.NodeInstance, connections []schema.Connection) (*ExecutionResult, error) {
	found := false
	for _, n := range nodes {
		if n.ID == nodeID {
			found = true
			break
		}
	}
	if !found {
		return nil, schema.NewErrorf(schema.ErrCodeNodeNotFound, "node %q not found", nodeID).WithNode(nodeID)
	}

	g, err := BuildGraph(nodes, connections)
	if err != nil {
		return nil, err
	}

	plan := &runPlan{
		executionID: uuid.New().String(),
		graph:       g,
		cached:      make(map[string]*NodeResult),
	}

	e.mu.RLock()
	for _, id := range g.Ancestors(nodeID) {
		if r, ok := e.results[id]; ok && satisfies(e.statuses[id]) && r.Output != nil {
			plan.cached[id] = r
			continue
		}
		plan.targets = append(plan.targets, id)
	}
	e.mu.RUnlock()
	plan.targets = append(plan.targets, nodeID)

	if err := e.begin(plan, false); err != nil {
		return nil, err
	}
	return e.execute(ctx, plan), nil
}

// begin claims the engine for a run and resets the nodes it will execute.
// A full graph run also drops cached state of nodes outside the graph.
func (e *Engine) begin(plan *runPlan, full bool) error {
	e.mu.Lock()
	if e.executing {
		current := e.executionID
		e.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s is already in progress", current).
			WithDetails(map[string]any{"execution_id": current})
	}
	e.executing = true
	e.executionID = plan.executionID
	e.stats = Stats{TotalNodes: len(plan.targets) + len(plan.cached)}

	if full {
		e.statuses = make(map[string]schema.NodeStatus, len(plan.targets))
		e.results = make(map[string]*NodeResult, len(plan.targets))
	}
	for _, id := range plan.targets {
		e.statuses[id] = schema.NodeStatusIdle
		delete(e.results, id)
	}
	e.aborted.Store(false)
	e.mu.Unlock()
	return nil
}

// execute drives the run: it dispatches ready nodes through the limiter and
// collects their completions until nothing more can start.
func (e *Engine) execute(ctx context.Context, plan *runPlan) *ExecutionResult {
	startedAt := time.Now().UTC()
	logCtx := logging.WithCorrelation(ctx, logging.Correlation{ExecutionID: plan.executionID, Pipeline: plan.pipeline})

	e.transitionRun(ctx, plan.executionID, schema.RunStateExecuting, map[string]any{
		"pipeline":    plan.pipeline,
		"total_nodes": len(plan.targets) + len(plan.cached),
	})
	e.logger.InfoContext(logCtx, "execution started", "nodes", len(plan.targets), "cached", len(plan.cached))

	results := make(map[string]*NodeResult, len(plan.targets)+len(plan.cached))
	for id, r := range plan.cached {
		cp := *r
		cp.Cached = true
		results[id] = &cp
	}

	dispatched := make(map[string]bool, len(plan.targets))
	completions := make(chan completion, len(plan.targets))
	inFlight := 0
	var halt *schema.DataflowError
	aborted := false

	for {
		for _, id := range plan.targets {
			if dispatched[id] || !ready(plan.graph.Nodes[id], results) {
				continue
			}
			if halt != nil || ctx.Err() != nil {
				break
			}
			if e.aborted.Load() {
				aborted = true
				break
			}

			if err := e.limiter.Acquire(ctx); err != nil {
				e.logger.WarnContext(logCtx, "dispatch stopped", "node_id", id, "error", err)
				break
			}
			// Abort or cancel may have landed while waiting for the slot.
			if e.aborted.Load() || ctx.Err() != nil {
				e.limiter.Release()
				aborted = e.aborted.Load()
				break
			}

			job := e.newJob(plan, id, results, startedAt)
			e.limiter.Spawn(logCtx, func(nodeCtx context.Context) (err error) {
				var r *NodeResult
				defer func() {
					if p := recover(); p != nil {
						r = e.recoverNode(logCtx, job, p)
						err = r.Error
					}
					completions <- completion{nodeID: job.node.ID, result: r}
				}()
				r = e.runNode(nodeCtx, job)
				if r.Error != nil {
					return r.Error
				}
				return nil
			})
			dispatched[id] = true
			inFlight++
		}

		if inFlight == 0 {
			break
		}
		c := <-completions
		inFlight--
		results[c.nodeID] = c.result

		if c.result.Error != nil && c.result.Error.Code == schema.ErrCodeNodeDefinitionNotFound &&
			!e.CurrentConfig().ContinueOnMissingExecutor && halt == nil {
			halt = c.result.Error
			e.logger.WarnContext(logCtx, "halting run: node type has no executor",
				"node_id", c.nodeID, "node_type", c.result.NodeType)
		}
	}
	return e.finish(ctx, plan, results, startedAt, halt, aborted)
}

// recoverNode turns a panic raised around a node (typically by a status or
// completion callback) into an EXECUTION_ERROR result so the coordinator
// still receives exactly one completion for the dispatch.
func (e *Engine) recoverNode(ctx context.Context, job nodeJob, p any) *NodeResult {
	now := time.Now().UTC()
	r := &NodeResult{
		NodeID:      job.node.ID,
		NodeType:    job.node.Type,
		Status:      schema.NodeStatusError,
		StartedAt:   now,
		CompletedAt: now,
		Error: schema.NewErrorf(schema.ErrCodeExecution, "node panicked: %v", p).
			WithNode(job.node.ID).
			WithDetails(map[string]any{"stack": string(debug.Stack())}),
	}
	e.logger.ErrorContext(ctx, "node panicked", "node_id", job.node.ID, "panic", p)

	// Set directly: the panic may have struck after a terminal transition.
	e.mu.Lock()
	e.statuses[job.node.ID] = schema.NodeStatusError
	e.results[job.node.ID] = r
	e.mu.Unlock()
	return r
}

// ready reports whether every dependency of n produced a usable output.
func ready(n *GraphNode, results map[string]*NodeResult) bool {
	for _, dep := range n.Dependencies {
		r, ok := results[dep]
		if !ok || !satisfies(r.Status) {
			return false
		}
	}
	return true
}

func (e *Engine) newJob(plan *runPlan, id string, results map[string]*NodeResult, startedAt time.Time) nodeJob {
	gn := plan.graph.Nodes[id]
	inputs := make(map[string]*dataset.Dataset, len(gn.Inputs))
	for handle, src := range gn.Inputs {
		if r, ok := results[src]; ok {
			inputs[handle] = r.Output
		}
	}
	return nodeJob{
		executionID: plan.executionID,
		node:        gn.Node,
		inputs:      inputs,
		timeout:     e.CurrentConfig().ExecutionTimeout,
		startTime:   startedAt,
	}
}

// finish settles the run state, emits skip events, records history and
// fires the completion callback.
func (e *Engine) finish(ctx context.Context, plan *runPlan, results map[string]*NodeResult, startedAt time.Time, halt *schema.DataflowError, aborted bool) *ExecutionResult {
	completedAt := time.Now().UTC()
	res := &ExecutionResult{
		ExecutionID: plan.executionID,
		Pipeline:    plan.pipeline,
		Nodes:       results,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}

	var failed []string
	stats := Stats{TotalNodes: len(plan.targets) + len(plan.cached), TotalTime: completedAt.Sub(startedAt)}
	for _, id := range plan.graph.Order {
		r, ok := results[id]
		switch {
		case !ok:
			continue
		case r.Cached:
			stats.CachedNodes++
			stats.CompletedNodes++
		case r.Status == schema.NodeStatusError:
			stats.FailedNodes++
			failed = append(failed, id)
		default:
			stats.CompletedNodes++
		}
	}
	for _, id := range plan.targets {
		if _, ok := results[id]; !ok {
			res.Skipped = append(res.Skipped, id)
		}
	}
	stats.SkippedNodes = len(res.Skipped)
	res.Stats = stats

	switch {
	case aborted:
		res.State = schema.RunStateAborted
		res.Error = schema.NewError(schema.ErrCodeCancelled, "execution aborted").
			WithDetails(map[string]any{"completed_nodes": stats.CompletedNodes, "skipped_nodes": stats.SkippedNodes})
	case ctx.Err() != nil:
		res.State = schema.RunStateFailed
		res.Error = schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithCause(ctx.Err())
	case halt != nil:
		res.State = schema.RunStateFailed
		res.Error = halt
	case len(failed) > 0:
		res.State = schema.RunStateFailed
		res.Error = schema.NewErrorf(schema.ErrCodeExecution, "%s failed", describe(failed)).
			WithDetails(map[string]any{"failed_nodes": failed})
	default:
		res.State = schema.RunStateCompleted
		res.Success = true
	}

	pubCtx := context.WithoutCancel(ctx)
	for _, id := range res.Skipped {
		e.publishSkipped(pubCtx, plan, id, results, res.State)
	}

	e.mu.Lock()
	e.stats = stats
	e.mu.Unlock()

	payload := map[string]any{
		"pipeline":        plan.pipeline,
		"total_nodes":     stats.TotalNodes,
		"completed_nodes": stats.CompletedNodes,
		"failed_nodes":    stats.FailedNodes,
		"skipped_nodes":   stats.SkippedNodes,
		"duration_ms":     stats.TotalTime.Milliseconds(),
	}
	if res.Error != nil {
		payload["error"] = res.Error.Message
	}
	e.transitionRun(pubCtx, plan.executionID, res.State, payload)

	logCtx := logging.WithCorrelation(pubCtx, logging.Correlation{ExecutionID: plan.executionID, Pipeline: plan.pipeline})
	e.logger.InfoContext(logCtx, "execution finished",
		"state", res.State, "completed", stats.CompletedNodes, "failed", stats.FailedNodes,
		"skipped", stats.SkippedNodes, "duration_ms", stats.TotalTime.Milliseconds())

	if e.recorder != nil {
		if err := e.recorder.RecordRun(pubCtx, toRun(res, plan.graph.Order)); err != nil {
			e.logger.ErrorContext(logCtx, "record run failed", "error", err)
		}
	}

	e.mu.Lock()
	e.executing = false
	onDone := e.callbacks.OnExecutionComplete
	e.mu.Unlock()
	e.aborted.Store(false)

	if onDone != nil {
		onDone(res)
	}
	return res
}

func (e *Engine) transitionRun(ctx context.Context, executionID string, to schema.RunState, payload map[string]any) {
	e.mu.RLock()
	from := e.state
	e.mu.RUnlock()

	err := e.runFSM.Transition(ctx, executionID, from, to, payload, func() {
		e.mu.Lock()
		e.state = to
		e.mu.Unlock()
	})
	if err != nil {
		e.logger.WarnContext(logging.WithExecutionID(ctx, executionID), "run transition", "from", from, "to", to, "error", err)
	}
}

func (e *Engine) publishSkipped(ctx context.Context, plan *runPlan, id string, results map[string]*NodeResult, state schema.RunState) {
	if e.publisher == nil {
		return
	}
	reason := string(state)
	for _, dep := range plan.graph.Nodes[id].Dependencies {
		if r, ok := results[dep]; !ok || !satisfies(r.Status) {
			reason = fmt.Sprintf("upstream node %s did not succeed", dep)
			break
		}
	}
	err := e.publisher.Publish(ctx, streaming.StreamEvent{
		ExecutionID: plan.executionID,
		NodeID:      id,
		EventType:   schema.EventNodeSkipped,
		Payload:     map[string]any{"reason": reason},
	})
	if err != nil {
		e.logger.WarnContext(ctx, "publish skip event", "node_id", id, "error", err)
	}
}

// toRun converts a result into its history record, listing nodes in order.
func toRun(res *ExecutionResult, order []string) *store.Run {
	completed := res.CompletedAt
	run := &store.Run{
		ID:             res.ExecutionID,
		Pipeline:       res.Pipeline,
		Status:         string(res.State),
		TotalNodes:     res.Stats.TotalNodes,
		CompletedNodes: res.Stats.CompletedNodes,
		FailedNodes:    res.Stats.FailedNodes,
		SkippedNodes:   res.Stats.SkippedNodes,
		DurationMs:     res.Stats.TotalTime.Milliseconds(),
		StartedAt:      res.StartedAt,
		CompletedAt:    &completed,
	}
	if res.Error != nil {
		run.Error = res.Error.Error()
	}
	for _, id := range order {
		r, ok := res.Nodes[id]
		if !ok || r.Cached {
			continue
		}
		nr := &store.NodeRun{
			NodeID:     r.NodeID,
			NodeType:   r.NodeType,
			Status:     string(r.Status),
			Warnings:   r.Warnings,
			DurationMs: r.Duration.Milliseconds(),
		}
		if r.Output != nil {
			nr.RowCount = r.Output.Len()
			nr.ColumnCount = len(r.Output.Columns)
		}
		if r.Error != nil {
			nr.ErrorCode = r.Error.Code
			nr.Error = r.Error.Message
		}
		run.Nodes = append(run.Nodes, nr)
	}
	return run
}
