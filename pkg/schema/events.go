package schema

// Event type constants for the status stream and run history.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionAborted   = "execution_aborted"

	EventNodeProcessing  = "node_processing"
	EventNodeSucceeded   = "node_succeeded"
	EventNodeFailed      = "node_failed"
	EventNodeSkipped     = "node_skipped"
	EventNodeWarning     = "node_warning"
	EventNodeInvalidated = "node_invalidated"

	EventCircuitBreakerOpen     = "circuit_breaker_open"
	EventCircuitBreakerHalfOpen = "circuit_breaker_half_open"
	EventCircuitBreakerClosed   = "circuit_breaker_closed"
)

// NodeStatus represents the lifecycle state of a node within a run.
type NodeStatus string

const (
	NodeStatusIdle       NodeStatus = "idle"
	NodeStatusProcessing NodeStatus = "processing"
	NodeStatusSuccess    NodeStatus = "success"
	NodeStatusError      NodeStatus = "error"
	// NodeStatusWarning is the terminal status of a node that succeeded but
	// reported warnings (validation warnings or executor warnings such as
	// coerced chart values). It replaces success in that case, and it
	// satisfies dependents exactly like success does.
	NodeStatusWarning NodeStatus = "warning"
)

// RunState represents the engine-wide state of a graph run.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateExecuting RunState = "executing"
	RunStateCompleted RunState = "completed"
	RunStateAborted   RunState = "aborted"
	RunStateFailed    RunState = "failed"
)

// IsTerminal reports whether the run state ends a run.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateAborted || s == RunStateFailed
}
