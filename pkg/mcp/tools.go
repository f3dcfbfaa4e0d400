package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/dataflow/internal/diagram"
	"github.com/rendis/dataflow/internal/engine"
	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/internal/scheduler"
	"github.com/rendis/dataflow/internal/store"
	"github.com/rendis/dataflow/internal/streaming"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

const defaultPreviewRows = 10

// nodeSummary is the per-node part of a run result sent to clients.
// Outputs are truncated to a preview; full datasets stay in the engine.
type nodeSummary struct {
	Status     schema.NodeStatus     `json:"status"`
	Cached     bool                  `json:"cached,omitempty"`
	RowCount   int                   `json:"row_count"`
	Columns    []string              `json:"columns,omitempty"`
	Preview    [][]any               `json:"preview,omitempty"`
	Artifact   any                   `json:"artifact,omitempty"`
	Warnings   []string              `json:"warnings,omitempty"`
	Logs       []string              `json:"logs,omitempty"`
	Error      *schema.DataflowError `json:"error,omitempty"`
	DurationMs int64                 `json:"duration_ms"`
}

type runSummary struct {
	ExecutionID string                  `json:"execution_id"`
	Pipeline    string                  `json:"pipeline,omitempty"`
	Success     bool                    `json:"success"`
	State       schema.RunState         `json:"state"`
	Error       *schema.DataflowError   `json:"error,omitempty"`
	Stats       engine.Stats            `json:"stats"`
	Skipped     []string                `json:"skipped,omitempty"`
	Nodes       map[string]*nodeSummary `json:"nodes"`
}

// handleRun executes a pipeline, or a single node when node_id is given.
func (s *DataflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("no engine configured"), nil
	}
	p, err := pipelineArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if s.validator != nil {
		if vr := s.validator.Validate(p); !vr.Valid() {
			res, _ := marshalResult(map[string]any{"valid": false, "errors": vr.Errors, "warnings": vr.Warnings})
			res.IsError = true
			return res, nil
		}
	}

	previewRows := req.GetInt("preview_rows", defaultPreviewRows)
	nodeID := req.GetString("node_id", "")
	clientID := req.GetString("client_id", "")
	if clientID != "" {
		s.captureSession(ctx, clientID)
	}

	stop := s.forwardProgress(ctx, clientID)
	var result *engine.ExecutionResult
	if nodeID != "" {
		result, err = s.runner.ExecuteNode(ctx, nodeID, p.Nodes, p.Connections)
	} else {
		result, err = s.runner.ExecutePipeline(ctx, p)
	}
	stop()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pipeline execution failed: %v", err)), nil
	}

	s.logger.InfoContext(ctx, "pipeline run via mcp",
		"execution_id", result.ExecutionID, "pipeline", p.Name, "state", result.State)
	return marshalResult(summarize(result, previewRows))
}

// forwardProgress relays engine events to the client's session until stop
// is called. It is a no-op without a hub or a client ID.
func (s *DataflowServer) forwardProgress(ctx context.Context, clientID string) (stop func()) {
	if s.hub == nil || clientID == "" {
		return func() {}
	}
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		s.logger.WarnContext(ctx, "progress subscription failed", "error", err)
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if err := s.progress.Send(ctx, clientID, ev); err != nil {
				s.logger.DebugContext(ctx, "progress notification failed", "client_id", clientID, "error", err)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// handleStatus reports the engine's current or last run, optionally
// aborting it first.
func (s *DataflowServer) handleStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runner == nil {
		return mcp.NewToolResultError("no engine configured"), nil
	}
	aborted := false
	if req.GetBool("abort", false) {
		st := s.runner.GetExecutionStatus()
		if !st.IsExecuting {
			return mcp.NewToolResultError("no execution in progress"), nil
		}
		s.runner.Abort()
		aborted = true
	}

	st := s.runner.GetExecutionStatus()
	rows := make(map[string]int, len(st.NodeOutputs))
	for id, ds := range st.NodeOutputs {
		rows[id] = ds.Len()
	}
	return marshalResult(map[string]any{
		"is_executing":  st.IsExecuting,
		"execution_id":  st.ExecutionID,
		"state":         st.State,
		"stats":         st.Stats,
		"node_statuses": st.NodeStatuses,
		"row_counts":    rows,
		"aborted":       aborted,
	})
}

// handleValidate validates a pipeline and returns every issue found.
func (s *DataflowServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.validator == nil {
		return mcp.NewToolResultError("no validator configured"), nil
	}
	p, err := pipelineArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	vr := s.validator.Validate(p)
	return marshalResult(map[string]any{
		"valid":    vr.Valid(),
		"errors":   vr.Errors,
		"warnings": vr.Warnings,
	})
}

// handleNodes lists the registered node types.
func (s *DataflowServer) handleNodes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.catalog == nil {
		return mcp.NewToolResultError("no node catalog configured"), nil
	}
	category := executors.Category(req.GetString("category", ""))

	defs := s.catalog.List()
	out := make([]executors.NodeDefinition, 0, len(defs))
	for _, d := range defs {
		if category != "" && d.Category != category {
			continue
		}
		out = append(out, d)
	}
	return marshalResult(out)
}

// handleDiagram draws a pipeline in the requested format.
func (s *DataflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	p, err := pipelineArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var overlay map[string]*diagram.StatusOverlay
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("no store configured"), nil
		}
		run, runErr := s.store.GetRun(ctx, runID)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", runErr)), nil
		}
		overlay = diagram.OverlayFromRun(run)
	} else if req.GetBool("include_status", false) && s.runner != nil {
		overlay = overlayFromStatus(s.runner.GetExecutionStatus())
	}

	var lookup engine.ExecutorLookup
	if s.catalog != nil {
		lookup = s.catalog
	}
	model, err := diagram.Build(p, overlay, lookup)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "svg":
		svg, imgErr := diagram.RenderImage(ctx, model, diagram.ImageSVG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(string(svg)), nil
	case "png":
		png, imgErr := diagram.RenderImage(ctx, model, diagram.ImagePNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultImage("pipeline diagram", base64.StdEncoding.EncodeToString(png), "image/png"), nil
	default:
		return mcp.NewToolResultError("format must be ascii, mermaid, svg, or png"), nil
	}
}

func overlayFromStatus(st engine.ExecutionStatus) map[string]*diagram.StatusOverlay {
	overlay := make(map[string]*diagram.StatusOverlay, len(st.NodeStatuses))
	for id, status := range st.NodeStatuses {
		if status == schema.NodeStatusIdle {
			continue
		}
		o := &diagram.StatusOverlay{Status: string(status)}
		if ds, ok := st.NodeOutputs[id]; ok {
			o.RowCount = ds.Len()
		}
		overlay[id] = o
	}
	return overlay
}

// handleHistory routes history queries to the appropriate store method.
func (s *DataflowServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "run":
		runID := extractString(filter, "run_id")
		if runID == "" {
			return mcp.NewToolResultError("filter.run_id is required"), nil
		}
		run, getErr := s.store.GetRun(ctx, runID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
		}
		return marshalResult(run)
	case "events":
		return s.queryEvents(ctx, filter)
	case "timeline":
		runID := extractString(filter, "run_id")
		if runID == "" {
			return mcp.NewToolResultError("filter.run_id is required"), nil
		}
		if s.timeline == nil {
			return mcp.NewToolResultError("no event log configured"), nil
		}
		tl, replayErr := s.timeline.ReplayEvents(ctx, runID)
		if replayErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("replay failed: %v", replayErr)), nil
		}
		return marshalResult(tl)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource: %s", resource)), nil
	}
}

func (s *DataflowServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Pipeline: extractString(filter, "pipeline"),
		Status:   extractString(filter, "status"),
		Limit:    extractInt(filter, "limit", 20),
		Offset:   extractInt(filter, "offset", 0),
	}
	if since, ok := extractTime(filter, "since"); ok {
		rf.Since = &since
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query runs failed: %v", err)), nil
	}
	// History listings omit per-node detail.
	for _, r := range runs {
		r.Nodes = nil
	}
	return marshalResult(runs)
}

func (s *DataflowServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID := extractString(filter, "run_id")
	eventType := extractString(filter, "event_type")

	var (
		events []*store.Event
		err    error
	)
	switch {
	case eventType != "":
		ef := store.EventFilter{RunID: runID, Limit: extractInt(filter, "limit", 100)}
		if since, ok := extractTime(filter, "since"); ok {
			ef.Since = &since
		}
		events, err = s.store.GetEventsByType(ctx, eventType, ef)
	case runID != "":
		events, err = s.store.GetEvents(ctx, runID, int64(extractInt(filter, "since_sequence", 0)))
	default:
		return mcp.NewToolResultError("filter.run_id or filter.event_type is required"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query events failed: %v", err)), nil
	}
	return marshalResult(events)
}

// handleSchedule manages scheduled pipeline runs.
func (s *DataflowServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	if s.scheduler == nil {
		return mcp.NewToolResultError("no scheduler configured"), nil
	}

	switch action {
	case "add":
		cron, cronErr := req.RequireString("cron")
		if cronErr != nil {
			return mcp.NewToolResultError("cron is required"), nil
		}
		p, pErr := pipelineArg(req)
		if pErr != nil {
			return mcp.NewToolResultError(pErr.Error()), nil
		}
		if s.validator != nil {
			if vr := s.validator.Validate(p); !vr.Valid() {
				return mcp.NewToolResultError(fmt.Sprintf("pipeline is invalid: %v", vr.ToError())), nil
			}
		}
		job, addErr := s.scheduler.Add(ctx, scheduler.Job{Name: req.GetString("name", ""), Cron: cron, Pipeline: p})
		if addErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", addErr)), nil
		}
		return marshalResult(job)
	case "list":
		jobs, listErr := s.scheduler.List(ctx)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list jobs failed: %v", listErr)), nil
		}
		return marshalResult(jobs)
	case "remove", "enable", "disable":
		jobID, idErr := req.RequireString("job_id")
		if idErr != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}
		var opErr error
		if action == "remove" {
			opErr = s.scheduler.Remove(ctx, jobID)
		} else {
			opErr = s.scheduler.SetEnabled(ctx, jobID, action == "enable")
		}
		if opErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, opErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "job_id": jobID, "action": action})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

// --- Helpers ---

// pipelineArg reads the pipeline from either the pipeline object or the
// document string argument.
func pipelineArg(req mcp.CallToolRequest) (*schema.Pipeline, error) {
	if doc := req.GetString("document", ""); doc != "" {
		return schema.ParsePipeline([]byte(doc), "")
	}
	raw := mcp.ParseStringMap(req, "pipeline", nil)
	if raw == nil {
		return nil, fmt.Errorf("pipeline or document is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return schema.ParsePipeline(data, schema.FormatJSON)
}

func summarize(res *engine.ExecutionResult, previewRows int) *runSummary {
	out := &runSummary{
		ExecutionID: res.ExecutionID,
		Pipeline:    res.Pipeline,
		Success:     res.Success,
		State:       res.State,
		Error:       res.Error,
		Stats:       res.Stats,
		Skipped:     res.Skipped,
		Nodes:       make(map[string]*nodeSummary, len(res.Nodes)),
	}
	for id, r := range res.Nodes {
		ns := &nodeSummary{
			Status:     r.Status,
			Cached:     r.Cached,
			Artifact:   r.Artifact,
			Warnings:   r.Warnings,
			Logs:       r.Logs,
			Error:      r.Error,
			DurationMs: r.Duration.Milliseconds(),
		}
		if r.Output != nil {
			ns.RowCount = r.Output.Len()
			ns.Columns = r.Output.Columns
			ns.Preview = preview(r.Output, previewRows)
		}
		out.Nodes[id] = ns
	}
	return out
}

func preview(ds *dataset.Dataset, n int) [][]any {
	if n <= 0 || len(ds.Rows) == 0 {
		return nil
	}
	if n > len(ds.Rows) {
		n = len(ds.Rows)
	}
	return ds.Rows[:n]
}

func extractString(filter map[string]any, key string) string {
	if filter == nil {
		return ""
	}
	if v, ok := filter[key].(string); ok {
		return v
	}
	return ""
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractTime reads an RFC 3339 timestamp from a filter map.
func extractTime(filter map[string]any, key string) (time.Time, bool) {
	s := extractString(filter, key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// captureSession maps the client ID to its current MCP session for notifications.
func (s *DataflowServer) captureSession(ctx context.Context, clientID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.bind(clientID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
