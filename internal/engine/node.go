package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/internal/logging"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// nodeJob is everything a node goroutine needs; it never reads the graph.
type nodeJob struct {
	executionID string
	node        schema.NodeInstance
	inputs      map[string]*dataset.Dataset
	timeout     time.Duration
	startTime   time.Time
}

type execOutcome struct {
	res *executors.Result
	err error
}

// runNode performs one attempt of a node: lookup, config schema check,
// Validate, then Execute under the node timeout. The node's status and result
// are written under the engine lock before the transition is published.
func (e *Engine) runNode(ctx context.Context, job nodeJob) *NodeResult {
	node := job.node
	ctx = logging.WithIDs(ctx, job.executionID, node.ID, node.Type)

	result := &NodeResult{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Status:    schema.NodeStatusProcessing,
		StartedAt: time.Now().UTC(),
	}

	if err := e.transitionNode(ctx, job.executionID, node.ID, schema.NodeStatusProcessing, nil, nil); err != nil {
		e.logger.WarnContext(ctx, "node transition rejected", "error", err)
	}
	e.logger.DebugContext(ctx, "node processing")

	e.attempt(ctx, job, result)

	result.CompletedAt = time.Now().UTC()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	switch {
	case result.Error != nil:
		result.Status = schema.NodeStatusError
		result.Output = nil
		e.logger.WarnContext(ctx, "node failed",
			"code", result.Error.Code, "error", result.Error.Message, "duration_ms", result.Duration.Milliseconds())
	case len(result.Warnings) > 0:
		result.Status = schema.NodeStatusWarning
		e.logger.InfoContext(ctx, "node completed with warnings",
			"warnings", len(result.Warnings), "duration_ms", result.Duration.Milliseconds())
	default:
		result.Status = schema.NodeStatusSuccess
		e.logger.InfoContext(ctx, "node succeeded", "duration_ms", result.Duration.Milliseconds())
	}

	if err := e.transitionNode(ctx, job.executionID, node.ID, result.Status, result, nodePayload(result)); err != nil {
		e.logger.WarnContext(ctx, "node transition rejected", "error", err)
	}

	e.mu.RLock()
	onComplete := e.callbacks.OnNodeComplete
	e.mu.RUnlock()
	if onComplete != nil {
		onComplete(node.ID, result)
	}
	return result
}

// attempt fills result with the executor's output or the error that stopped it.
func (e *Engine) attempt(ctx context.Context, job nodeJob, result *NodeResult) {
	node := job.node

	ex, ok := e.registry.Get(node.Type)
	if !ok {
		result.Error = schema.NewErrorf(schema.ErrCodeNodeDefinitionNotFound,
			"no executor registered for node type %q", node.Type).WithNode(node.ID)
		return
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}
	ec := &executors.ExecutionContext{
		NodeID:   node.ID,
		NodeType: node.Type,
		Inputs:   job.inputs,
		Config:   config,
		Metadata: executors.ExecutionMetadata{ExecutionID: job.executionID, StartTime: job.startTime},
	}

	// Validate first so its messages win over the generic schema violations.
	vr, err := safeValidate(ex, ec)
	if err != nil {
		result.Error = toNodeError(err, node.ID)
		return
	}
	if vr != nil {
		result.Warnings = append(result.Warnings, vr.WarningMessages()...)
		if verr := vr.ToError(); verr != nil {
			result.Error = toNodeError(verr, node.ID)
			return
		}
	}

	if e.validator != nil {
		if schemaBytes := ex.Definition().ConfigSchema; len(schemaBytes) > 0 {
			if err := e.validator.ValidateConfig(config, schemaBytes); err != nil {
				result.Error = toNodeError(err, node.ID)
				return
			}
		}
	}

	nodeCtx, cancel := context.WithTimeout(ctx, job.timeout)
	defer cancel()

	done := make(chan execOutcome, 1)
	go func() {
		res, err := safeExecute(nodeCtx, ex, ec)
		done <- execOutcome{res: res, err: err}
	}()

	var out execOutcome
	select {
	case out = <-done:
	case <-nodeCtx.Done():
		// An executor that ignores its context is abandoned here; its
		// eventual result is discarded.
	}

	if err := classify(ctx, nodeCtx, job.timeout, out.err); err != nil {
		result.Error = toNodeError(err, node.ID)
		return
	}
	if out.res == nil {
		result.Error = schema.NewError(schema.ErrCodeExecution, "executor returned no result").WithNode(node.ID)
		return
	}
	if !out.res.Success {
		msg := out.res.Error
		if msg == "" {
			msg = "executor reported failure"
		}
		result.Error = schema.NewError(schema.ErrCodeExecution, msg).WithNode(node.ID)
		result.Logs = out.res.Logs
		return
	}

	result.Output = out.res.Output
	result.Artifact = out.res.Artifact
	result.Logs = out.res.Logs
	result.Warnings = append(result.Warnings, out.res.Warnings...)
}

// classify maps the end of an Execute call to the error taxonomy. A node
// whose own deadline passed while the run context is still live timed out,
// even if the executor returned no error.
func classify(runCtx, nodeCtx context.Context, timeout time.Duration, err error) error {
	if runCtx.Err() != nil {
		return schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithCause(runCtx.Err())
	}
	if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) {
		return schema.NewErrorf(schema.ErrCodeTimeout, "node timed out after %s", timeout).
			WithDetails(map[string]any{"timeout_ms": timeout.Milliseconds()})
	}
	return err
}

// toNodeError keeps DataflowErrors as they are and wraps anything else as an
// EXECUTION_ERROR, tagging the node either way.
func toNodeError(err error, nodeID string) *schema.DataflowError {
	var de *schema.DataflowError
	if errors.As(err, &de) {
		if de.NodeID == "" {
			cp := *de
			cp.NodeID = nodeID
			return &cp
		}
		return de
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithNode(nodeID).WithCause(err)
}

func safeValidate(ex executors.Executor, ec *executors.ExecutionContext) (vr *schema.ValidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError("validate", r)
		}
	}()
	return ex.Validate(ec), nil
}

func safeExecute(ctx context.Context, ex executors.Executor, ec *executors.ExecutionContext) (res *executors.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, panicError("execute", r)
		}
	}()
	return ex.Execute(ctx, ec)
}

func panicError(phase string, r any) *schema.DataflowError {
	return schema.NewErrorf(schema.ErrCodeExecution, "executor panicked during %s: %v", phase, r).
		WithDetails(map[string]any{"stack": string(debug.Stack())})
}

// transitionNode moves a node to status, storing result (when non-nil) under
// the engine lock, then notifies the status callback.
func (e *Engine) transitionNode(ctx context.Context, executionID, nodeID string, to schema.NodeStatus, result *NodeResult, payload map[string]any) error {
	e.mu.RLock()
	from, ok := e.statuses[nodeID]
	cb := e.callbacks.OnNodeStatusChange
	e.mu.RUnlock()
	if !ok {
		from = schema.NodeStatusIdle
	}

	err := e.nodeFSM.Transition(ctx, NodeTransition{
		ExecutionID: executionID,
		NodeID:      nodeID,
		From:        from,
		To:          to,
		Payload:     payload,
	}, func() {
		e.mu.Lock()
		e.statuses[nodeID] = to
		if result != nil {
			e.results[nodeID] = result
		} else if to == schema.NodeStatusProcessing {
			delete(e.results, nodeID)
		}
		e.mu.Unlock()
	})
	if err != nil && schema.ErrorCode(err) == schema.ErrCodeInvalidTransition {
		return err
	}
	// A failed publish still leaves the state applied.
	if cb != nil {
		cb(nodeID, to)
	}
	return err
}

func nodePayload(r *NodeResult) map[string]any {
	p := map[string]any{
		"node_type":   r.NodeType,
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Output != nil {
		p["row_count"] = r.Output.Len()
		p["column_count"] = len(r.Output.Columns)
	}
	if len(r.Warnings) > 0 {
		p["warnings"] = r.Warnings
	}
	if r.Error != nil {
		p["error_code"] = r.Error.Code
		p["error"] = r.Error.Message
	}
	return p
}

func describe(ids []string) string {
	if len(ids) == 1 {
		return ids[0]
	}
	return fmt.Sprintf("%d nodes", len(ids))
}
