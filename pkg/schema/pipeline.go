package schema

// DefaultHandle is the input slot used when a connection names no target handle.
const DefaultHandle = "input"

// Position is the canvas location of a node. Layout only; ignored by execution.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NodeInstance is a placed, configured node.
type NodeInstance struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Position Position       `json:"position,omitempty" yaml:"position,omitempty"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Status   NodeStatus     `json:"status,omitempty" yaml:"status,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Connection is a directed edge: Target consumes Source's output on TargetHandle.
type Connection struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// InputHandle returns the target handle, defaulting to DefaultHandle.
func (c Connection) InputHandle() string {
	if c.TargetHandle == "" {
		return DefaultHandle
	}
	return c.TargetHandle
}

// Pipeline is the serializable document holding a graph.
// The CLI, MCP tools and scheduler load pipelines from JSON or YAML.
type Pipeline struct {
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []NodeInstance `json:"nodes" yaml:"nodes"`
	Connections []Connection   `json:"connections,omitempty" yaml:"connections,omitempty"`
}

// Node returns the node with the given ID, or nil.
func (p *Pipeline) Node(id string) *NodeInstance {
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i]
		}
	}
	return nil
}
