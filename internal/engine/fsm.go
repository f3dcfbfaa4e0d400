package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/dataflow/internal/streaming"
	"github.com/rendis/dataflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventPublisher receives the event emitted by each transition.
// Satisfied by streaming.EventHub.
type EventPublisher interface {
	Publish(ctx context.Context, event streaming.StreamEvent) error
}

// --- Run FSM ---

type runHookKey struct {
	from, to schema.RunState
}

// RunFSM manages the engine-wide run state.
type RunFSM struct {
	mu        sync.Mutex
	publisher EventPublisher
	before    map[runHookKey][]TransitionHook
	after     map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM. publisher may be nil.
func NewRunFSM(publisher EventPublisher) *RunFSM {
	return &RunFSM{
		publisher: publisher,
		before:    make(map[runHookKey][]TransitionHook),
		after:     make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates a run transition, runs before hooks, applies the
// change, emits the event and runs after hooks. apply may be nil.
func (f *RunFSM) Transition(ctx context.Context, executionID string, from, to schema.RunState, payload map[string]any, apply func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !slices.Contains(ValidRunTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if apply != nil {
		apply()
	}

	if eventType := runEventType(to); eventType != "" && f.publisher != nil {
		event := streaming.StreamEvent{ExecutionID: executionID, EventType: eventType, Payload: payload}
		if err := f.publisher.Publish(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

func runEventType(to schema.RunState) string {
	switch to {
	case schema.RunStateExecuting:
		return schema.EventExecutionStarted
	case schema.RunStateCompleted:
		return schema.EventExecutionCompleted
	case schema.RunStateFailed:
		return schema.EventExecutionFailed
	case schema.RunStateAborted:
		return schema.EventExecutionAborted
	default:
		return ""
	}
}

// --- Node FSM ---

type nodeHookKey struct {
	from, to schema.NodeStatus
}

// NodeTransition describes one node status change.
type NodeTransition struct {
	ExecutionID string
	NodeID      string
	From, To    schema.NodeStatus
	Payload     map[string]any
}

// NodeFSM manages node status transitions.
type NodeFSM struct {
	mu        sync.Mutex
	publisher EventPublisher
	before    map[nodeHookKey][]TransitionHook
	after     map[nodeHookKey][]TransitionHook
}

// NewNodeFSM creates a NodeFSM. publisher may be nil.
func NewNodeFSM(publisher EventPublisher) *NodeFSM {
	return &NodeFSM{
		publisher: publisher,
		before:    make(map[nodeHookKey][]TransitionHook),
		after:     make(map[nodeHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a node transition.
func (f *NodeFSM) OnBefore(from, to schema.NodeStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a node transition.
func (f *NodeFSM) OnAfter(from, to schema.NodeStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nodeHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates a node transition, runs before hooks, applies the
// change, emits the event and runs after hooks. apply may be nil.
func (f *NodeFSM) Transition(ctx context.Context, t NodeTransition, apply func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !slices.Contains(ValidNodeTransitions[t.From], t.To) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", t.From, t.To).
			WithNode(t.NodeID).
			WithDetails(map[string]any{"execution_id": t.ExecutionID, "from": string(t.From), "to": string(t.To)})
	}

	key := nodeHookKey{t.From, t.To}
	for _, hook := range f.before[key] {
		if err := hook(string(t.From), string(t.To)); err != nil {
			return err
		}
	}

	if apply != nil {
		apply()
	}

	if eventType := nodeEventType(t.To); eventType != "" && f.publisher != nil {
		event := streaming.StreamEvent{
			ExecutionID: t.ExecutionID,
			NodeID:      t.NodeID,
			EventType:   eventType,
			Payload:     t.Payload,
		}
		if err := f.publisher.Publish(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeExecution, "emit node event: %s", err.Error()).
				WithNode(t.NodeID).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(t.From), string(t.To)); err != nil {
			return err
		}
	}
	return nil
}

func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusProcessing:
		return schema.EventNodeProcessing
	case schema.NodeStatusSuccess:
		return schema.EventNodeSucceeded
	case schema.NodeStatusWarning:
		return schema.EventNodeWarning
	case schema.NodeStatusError:
		return schema.EventNodeFailed
	case schema.NodeStatusIdle:
		return schema.EventNodeInvalidated
	default:
		return ""
	}
}

// IsTerminalNode reports whether a node has finished an attempt.
func IsTerminalNode(s schema.NodeStatus) bool {
	return s == schema.NodeStatusSuccess || s == schema.NodeStatusError || s == schema.NodeStatusWarning
}

// satisfies reports whether a node's output can feed its dependents.
func satisfies(s schema.NodeStatus) bool {
	return s == schema.NodeStatusSuccess || s == schema.NodeStatusWarning
}

// --- Transition tables ---

// ValidRunTransitions defines the allowed run state transitions. A finished
// run may start again.
var ValidRunTransitions = map[schema.RunState][]schema.RunState{
	schema.RunStateIdle:      {schema.RunStateExecuting},
	schema.RunStateExecuting: {schema.RunStateCompleted, schema.RunStateFailed, schema.RunStateAborted},
	schema.RunStateCompleted: {schema.RunStateExecuting},
	schema.RunStateFailed:    {schema.RunStateExecuting},
	schema.RunStateAborted:   {schema.RunStateExecuting},
}

// ValidNodeTransitions defines the allowed node status transitions.
// Terminal states return to idle on invalidation or re-enter processing on re-run.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusIdle:       {schema.NodeStatusProcessing},
	schema.NodeStatusProcessing: {schema.NodeStatusSuccess, schema.NodeStatusWarning, schema.NodeStatusError},
	schema.NodeStatusSuccess:    {schema.NodeStatusIdle, schema.NodeStatusProcessing},
	schema.NodeStatusWarning:    {schema.NodeStatusIdle, schema.NodeStatusProcessing},
	schema.NodeStatusError:      {schema.NodeStatusIdle, schema.NodeStatusProcessing},
}
