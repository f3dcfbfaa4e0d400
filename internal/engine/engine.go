package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/internal/store"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// Default scheduling bounds.
const (
	DefaultMaxConcurrentExecutions = 4
	DefaultExecutionTimeout        = 30 * time.Second
)

// ExecutorLookup resolves node types. Satisfied by *executors.Registry.
type ExecutorLookup interface {
	Get(nodeType string) (executors.Executor, bool)
}

// ConfigValidator checks a node config against its type's JSON Schema.
// Satisfied by *validation.JSONSchemaValidator.
type ConfigValidator interface {
	ValidateConfig(config map[string]any, configSchema []byte) error
}

// Recorder persists finished runs. Satisfied by store.Store.
type Recorder interface {
	RecordRun(ctx context.Context, run *store.Run) error
}

// Config holds the scheduling bounds. Zero values select the defaults.
type Config struct {
	MaxConcurrentExecutions int           `json:"max_concurrent_executions"`
	ExecutionTimeout        time.Duration `json:"execution_timeout"`
	// ContinueOnMissingExecutor keeps dispatching unrelated branches after a
	// node whose type has no executor. By default such a node halts the run.
	ContinueOnMissingExecutor bool `json:"continue_on_missing_executor"`
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentExecutions <= 0 {
		c.MaxConcurrentExecutions = DefaultMaxConcurrentExecutions
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = DefaultExecutionTimeout
	}
	return c
}

// Options wires the engine's collaborators. Every field is optional.
type Options struct {
	Logger    *slog.Logger
	Validator ConfigValidator
	Publisher EventPublisher
	Recorder  Recorder
	Config    Config
}

// Callbacks are notified as a run progresses. They are invoked outside the
// engine lock, from the goroutine that executed the node.
type Callbacks struct {
	OnNodeStatusChange  func(nodeID string, status schema.NodeStatus)
	OnNodeComplete      func(nodeID string, result *NodeResult)
	OnExecutionComplete func(result *ExecutionResult)
}

// NodeResult is the outcome of the last attempt of one node.
type NodeResult struct {
	NodeID      string                `json:"node_id"`
	NodeType    string                `json:"node_type"`
	Status      schema.NodeStatus     `json:"status"`
	Output      *dataset.Dataset      `json:"output,omitempty"`
	Artifact    any                   `json:"artifact,omitempty"`
	Warnings    []string              `json:"warnings,omitempty"`
	Logs        []string              `json:"logs,omitempty"`
	Error       *schema.DataflowError `json:"error,omitempty"`
	Cached      bool                  `json:"cached,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
	Duration    time.Duration         `json:"duration"`
}

// Stats summarizes a run.
type Stats struct {
	TotalNodes     int           `json:"total_nodes"`
	CompletedNodes int           `json:"completed_nodes"`
	FailedNodes    int           `json:"failed_nodes"`
	SkippedNodes   int           `json:"skipped_nodes"`
	CachedNodes    int           `json:"cached_nodes,omitempty"`
	TotalTime      time.Duration `json:"total_time"`
}

// ExecutionResult is returned by ExecuteGraph and ExecuteNode.
type ExecutionResult struct {
	ExecutionID string                 `json:"execution_id"`
	Pipeline    string                 `json:"pipeline,omitempty"`
	Success     bool                   `json:"success"`
	State       schema.RunState        `json:"state"`
	Error       *schema.DataflowError  `json:"error,omitempty"`
	Stats       Stats                  `json:"stats"`
	Nodes       map[string]*NodeResult `json:"nodes"`
	Skipped     []string               `json:"skipped,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}

// ExecutionStatus is a snapshot of the engine for readers.
type ExecutionStatus struct {
	IsExecuting  bool                         `json:"is_executing"`
	ExecutionID  string                       `json:"execution_id,omitempty"`
	State        schema.RunState              `json:"state"`
	Stats        Stats                        `json:"stats"`
	NodeStatuses map[string]schema.NodeStatus `json:"node_statuses"`
	NodeOutputs  map[string]*dataset.Dataset  `json:"node_outputs"`
}

// Engine executes dependency graphs of nodes. It owns the status and output
// caches of the current graph; readers only ever see copies.
type Engine struct {
	registry  ExecutorLookup
	validator ConfigValidator
	publisher EventPublisher
	recorder  Recorder
	logger    *slog.Logger
	limiter   *Limiter
	runFSM    *RunFSM
	nodeFSM   *NodeFSM
	aborted   atomic.Bool

	// mu guards everything below.
	mu          sync.RWMutex
	config      Config
	callbacks   Callbacks
	executing   bool
	executionID string
	state       schema.RunState
	stats       Stats
	statuses    map[string]schema.NodeStatus
	results     map[string]*NodeResult
}

// New creates an Engine that resolves node types through registry.
func New(registry ExecutorLookup, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config.withDefaults()
	return &Engine{
		registry:  registry,
		validator: opts.Validator,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		logger:    logger,
		limiter:   NewLimiter(cfg.MaxConcurrentExecutions),
		runFSM:    NewRunFSM(opts.Publisher),
		nodeFSM:   NewNodeFSM(opts.Publisher),
		config:    cfg,
		state:     schema.RunStateIdle,
		statuses:  make(map[string]schema.NodeStatus),
		results:   make(map[string]*NodeResult),
	}
}

// SetCallbacks replaces the registered callbacks.
func (e *Engine) SetCallbacks(cb Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = cb
}

// Configure changes the scheduling bounds. Safe while a run is in flight:
// the limiter is resized at once and the timeout applies to the next dispatch.
func (e *Engine) Configure(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.config = cfg
	e.mu.Unlock()
	e.limiter.SetLimit(cfg.MaxConcurrentExecutions)
}

// CurrentConfig returns the active scheduling bounds.
func (e *Engine) CurrentConfig() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// Abort stops dispatch for the in-flight run. Nodes already executing finish
// and are recorded. It is a no-op when nothing runs.
func (e *Engine) Abort() {
	e.mu.RLock()
	executing := e.executing
	e.mu.RUnlock()
	if executing {
		e.aborted.Store(true)
	}
}

// GetNodeOutput returns the cached output of a node, or nil if the node has
// not produced one.
func (e *Engine) GetNodeOutput(nodeID string) *dataset.Dataset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.results[nodeID]; ok {
		return r.Output
	}
	return nil
}

// GetNodeResult returns a copy of the last result of a node, or nil.
func (e *Engine) GetNodeResult(nodeID string) *NodeResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.results[nodeID]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// GetNodeError returns the error of a node's last attempt, or nil.
func (e *Engine) GetNodeError(nodeID string) *schema.DataflowError {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.results[nodeID]; ok {
		return r.Error
	}
	return nil
}

// GetNodeStatus returns a node's status; idle if it never ran.
func (e *Engine) GetNodeStatus(nodeID string) schema.NodeStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.statuses[nodeID]; ok {
		return s
	}
	return schema.NodeStatusIdle
}

// InvalidateNode drops a node's cached output, result and error and returns
// it to idle. Dependents are left untouched. Invalidating a node that is
// currently processing is an INVALID_TRANSITION error.
func (e *Engine) InvalidateNode(nodeID string) error {
	e.mu.RLock()
	from, known := e.statuses[nodeID]
	execID := e.executionID
	cb := e.callbacks.OnNodeStatusChange
	e.mu.RUnlock()

	if !known || from == schema.NodeStatusIdle {
		e.mu.Lock()
		delete(e.results, nodeID)
		e.mu.Unlock()
		return nil
	}

	err := e.nodeFSM.Transition(context.Background(), NodeTransition{
		ExecutionID: execID,
		NodeID:      nodeID,
		From:        from,
		To:          schema.NodeStatusIdle,
	}, func() {
		e.mu.Lock()
		e.statuses[nodeID] = schema.NodeStatusIdle
		delete(e.results, nodeID)
		e.mu.Unlock()
	})
	if err != nil {
		return err
	}
	if cb != nil {
		cb(nodeID, schema.NodeStatusIdle)
	}
	return nil
}

// GetExecutionStatus returns a snapshot of the current or last run.
func (e *Engine) GetExecutionStatus() ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := ExecutionStatus{
		IsExecuting:  e.executing,
		ExecutionID:  e.executionID,
		State:        e.state,
		Stats:        e.stats,
		NodeStatuses: make(map[string]schema.NodeStatus, len(e.statuses)),
		NodeOutputs:  make(map[string]*dataset.Dataset, len(e.results)),
	}
	for id, s := range e.statuses {
		st.NodeStatuses[id] = s
	}
	for id, r := range e.results {
		if r.Output != nil {
			st.NodeOutputs[id] = r.Output
		}
	}
	return st
}

// Shutdown waits for in-flight nodes and refuses further dispatch.
func (e *Engine) Shutdown() {
	e.limiter.Shutdown()
}
