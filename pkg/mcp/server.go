package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/dataflow/internal/engine"
	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/internal/scheduler"
	"github.com/rendis/dataflow/internal/store"
	"github.com/rendis/dataflow/internal/streaming"
	"github.com/rendis/dataflow/pkg/schema"
)

// Runner executes pipelines. Satisfied by *engine.Engine.
type Runner interface {
	ExecutePipeline(ctx context.Context, p *schema.Pipeline) (*engine.ExecutionResult, error)
	ExecuteNode(ctx context.Context, nodeID string, nodes []schema.NodeInstance, connections []schema.Connection) (*engine.ExecutionResult, error)
	GetExecutionStatus() engine.ExecutionStatus
	Abort()
}

// Catalog lists node types. Satisfied by *executors.Registry.
type Catalog interface {
	Get(nodeType string) (executors.Executor, bool)
	List() []executors.NodeDefinition
}

// PipelineValidator reports every problem of a pipeline.
// Satisfied by *validation.PipelineValidator.
type PipelineValidator interface {
	Validate(p *schema.Pipeline) *schema.ValidationResult
}

// Timeline rebuilds per-node history from the event log.
// Satisfied by *store.EventLog.
type Timeline interface {
	ReplayEvents(ctx context.Context, runID string) (map[string]*store.NodeTimeline, error)
}

// Scheduler manages cron-triggered pipelines. Satisfied by *scheduler.Scheduler.
type Scheduler interface {
	Add(ctx context.Context, job scheduler.Job) (*store.ScheduledJob, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]*store.ScheduledJob, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// DataflowServerDeps holds the dependencies for creating a DataflowServer.
// Only Runner and Catalog are required; tools whose dependency is missing
// report an error when called.
type DataflowServerDeps struct {
	Runner    Runner
	Catalog   Catalog
	Validator PipelineValidator
	Store     store.Store
	Timeline  Timeline
	Scheduler Scheduler
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// DataflowServer wraps an MCP server with the pipeline tool handlers.
type DataflowServer struct {
	runner    Runner
	catalog   Catalog
	validator PipelineValidator
	store     store.Store
	timeline  Timeline
	scheduler Scheduler
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *sessionSink
	progress  ProgressSink
	mcpServer *server.MCPServer
}

// NewDataflowServer creates a new DataflowServer with all tools registered.
func NewDataflowServer(deps DataflowServerDeps) *DataflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &DataflowServer{
		runner:    deps.Runner,
		catalog:   deps.Catalog,
		validator: deps.Validator,
		store:     deps.Store,
		timeline:  deps.Timeline,
		scheduler: deps.Scheduler,
		hub:       deps.Hub,
		logger:    logger,
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		if s.sessions != nil {
			s.sessions.drop(session.SessionID())
		}
	})

	mcpSrv := server.NewMCPServer(
		"dataflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Dataflow executes data pipelines: graphs of nodes that load, transform and chart tabular data. Use dataflow.nodes to discover node types, dataflow.validate before running, dataflow.run to execute a pipeline or a single node, dataflow.diagram to draw it, dataflow.history to inspect past runs and dataflow.schedule to run pipelines on a cron."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.sessions = newSessionSink(mcpSrv)
	s.progress = s.sessions
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *DataflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// SSEHandler returns an HTTP handler serving the SSE transport. baseURL is
// the public URL clients use to reach it.
func (s *DataflowServer) SSEHandler(baseURL string) http.Handler {
	return server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DataflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *DataflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: nodesTool(), Handler: s.handleNodes},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
	}
}

// --- Tool definitions ---

func withPipeline() mcp.ToolOption {
	return mcp.WithObject("pipeline", mcp.Description("Pipeline document: {name, nodes: [{id, type, config}], connections: [{source, target, targetHandle}]}"))
}

func withDocument() mcp.ToolOption {
	return mcp.WithString("document", mcp.Description("Pipeline as a JSON or YAML string (alternative to pipeline)"))
}

func runTool() mcp.Tool {
	return mcp.NewTool("dataflow.run",
		mcp.WithDescription("Execute a pipeline, or one node of it together with the ancestors it needs"),
		withPipeline(),
		withDocument(),
		mcp.WithString("node_id", mcp.Description("Run only this node, reusing cached ancestor outputs")),
		mcp.WithNumber("preview_rows", mcp.Description("Rows of each node output to include (default 10, 0 for none)")),
		mcp.WithString("client_id", mcp.Description("Caller ID; progress notifications are pushed to this client's session")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("dataflow.status",
		mcp.WithDescription("Get the engine status: the current or last run and every node's status"),
		mcp.WithBoolean("abort", mcp.Description("Stop dispatching nodes of the run in progress")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("dataflow.validate",
		mcp.WithDescription("Validate a pipeline without running it"),
		withPipeline(),
		withDocument(),
	)
}

func nodesTool() mcp.Tool {
	return mcp.NewTool("dataflow.nodes",
		mcp.WithDescription("List the available node types with their inputs and config schema"),
		mcp.WithString("category",
			mcp.Enum("input", "transform", "output", "code"),
			mcp.Description("Only list node types of this category"),
		),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("dataflow.diagram",
		mcp.WithDescription("Draw a pipeline as ASCII art, a Mermaid flowchart, SVG or a PNG image"),
		withPipeline(),
		withDocument(),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "svg", "png"),
			mcp.Description("Output format"),
		),
		mcp.WithString("run_id", mcp.Description("Overlay node statuses from this recorded run")),
		mcp.WithBoolean("include_status", mcp.Description("Overlay node statuses from the engine's last run (default false)")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("dataflow.history",
		mcp.WithDescription("Query recorded runs, a single run, its events or its per-node timeline"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "run", "events", "timeline"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (run_id, pipeline, status, event_type, since, limit, offset)")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("dataflow.schedule",
		mcp.WithDescription("Manage cron-scheduled pipeline runs"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("add", "remove", "list", "enable", "disable"),
			mcp.Description("Operation to perform"),
		),
		mcp.WithString("job_id", mcp.Description("Target job (remove, enable, disable)")),
		mcp.WithString("name", mcp.Description("Job name (add; defaults to the pipeline name)")),
		mcp.WithString("cron", mcp.Description("Five-field cron expression or descriptor such as @hourly (add)")),
		withPipeline(),
		withDocument(),
	)
}
