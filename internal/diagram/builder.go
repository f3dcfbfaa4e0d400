package diagram

import (
	"fmt"

	"github.com/rendis/dataflow/internal/engine"
	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/internal/store"
	"github.com/rendis/dataflow/pkg/schema"
)

// StatusSkipped marks nodes a run never reached.
const StatusSkipped = "skipped"

// Build constructs a DiagramModel from a pipeline and an optional status
// overlay keyed by node ID. It uses engine.BuildGraph for topology, so a
// pipeline the engine would reject cannot be drawn either. lookup resolves
// node kinds and may be nil.
func Build(p *schema.Pipeline, overlay map[string]*StatusOverlay, lookup engine.ExecutorLookup) (*DiagramModel, error) {
	if p == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: pipeline is nil")
	}
	g, err := engine.BuildGraph(p.Nodes, p.Connections)
	if err != nil {
		return nil, fmt.Errorf("diagram: build graph: %w", err)
	}

	nodes := make([]*Node, 0, len(g.Order))
	for _, id := range g.Order {
		inst := g.Nodes[id].Node
		nodes = append(nodes, &Node{
			ID:     id,
			Type:   inst.Type,
			Label:  fmt.Sprintf("%s\n(%s)", id, inst.Type),
			Kind:   kindOf(inst.Type, lookup),
			Status: overlay[id],
		})
	}

	edges := make([]Edge, 0, len(p.Connections))
	for _, c := range p.Connections {
		e := Edge{From: c.Source, To: c.Target}
		if h := c.InputHandle(); h != schema.DefaultHandle {
			e.Label = h
		}
		edges = append(edges, e)
	}

	return &DiagramModel{
		Title:  p.Name,
		Nodes:  nodes,
		Edges:  edges,
		Levels: g.Levels,
	}, nil
}

func kindOf(nodeType string, lookup engine.ExecutorLookup) NodeKind {
	if lookup == nil {
		return NodeKindTransform
	}
	ex, ok := lookup.Get(nodeType)
	if !ok {
		return NodeKindUnknown
	}
	switch ex.Definition().Category {
	case executors.CategoryInput:
		return NodeKindInput
	case executors.CategoryOutput:
		return NodeKindOutput
	case executors.CategoryCode:
		return NodeKindCode
	default:
		return NodeKindTransform
	}
}

// OverlayFromResult maps a finished run onto the diagram. Nodes listed as
// skipped get the skipped status.
func OverlayFromResult(res *engine.ExecutionResult) map[string]*StatusOverlay {
	if res == nil {
		return nil
	}
	overlay := make(map[string]*StatusOverlay, len(res.Nodes)+len(res.Skipped))
	for id, r := range res.Nodes {
		o := &StatusOverlay{
			Status:     string(r.Status),
			DurationMs: r.Duration.Milliseconds(),
			Cached:     r.Cached,
		}
		if r.Output != nil {
			o.RowCount = r.Output.Len()
		}
		if r.Error != nil {
			o.Error = r.Error.Message
		}
		overlay[id] = o
	}
	for _, id := range res.Skipped {
		overlay[id] = &StatusOverlay{Status: StatusSkipped}
	}
	return overlay
}

// OverlayFromRun maps a recorded run from history onto the diagram.
func OverlayFromRun(run *store.Run) map[string]*StatusOverlay {
	if run == nil {
		return nil
	}
	overlay := make(map[string]*StatusOverlay, len(run.Nodes))
	for _, n := range run.Nodes {
		overlay[n.NodeID] = &StatusOverlay{
			Status:     n.Status,
			DurationMs: n.DurationMs,
			RowCount:   n.RowCount,
			Error:      n.Error,
		}
	}
	return overlay
}
