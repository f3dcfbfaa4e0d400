package diagram

// NodeKind classifies a diagram node by the category of its executor.
type NodeKind string

const (
	NodeKindInput     NodeKind = "input"
	NodeKindTransform NodeKind = "transform"
	NodeKindOutput    NodeKind = "output"
	NodeKindCode      NodeKind = "code"
	// NodeKindUnknown marks a node whose type has no registered executor.
	NodeKindUnknown NodeKind = "unknown"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single pipeline node in the diagram.
type Node struct {
	ID     string
	Type   string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the outcome of a node's last run.
type StatusOverlay struct {
	Status     string // from schema.NodeStatus, or "skipped"
	DurationMs int64
	RowCount   int
	Cached     bool
	Error      string
}

// Edge is a connection; Label names the target input handle when it is not
// the default one.
type Edge struct {
	From  string
	To    string
	Label string
}
