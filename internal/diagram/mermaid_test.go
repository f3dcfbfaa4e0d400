package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMermaid(t *testing.T) {
	model, err := Build(salesPipeline(), nil, builtins(t))
	require.NoError(t, err)

	output := RenderMermaid(model)

	assert.Contains(t, output, "graph TD\n")
	assert.Contains(t, output, "%% Sales Report")
	assert.Contains(t, output, `orders[("orders<br/>example_data")]`)
	assert.Contains(t, output, `big["big<br/>filter"]`)
	assert.Contains(t, output, `chart[/"chart<br/>chart"/]`)
	assert.Contains(t, output, `score{{"score<br/>javascript"}}`)
	assert.Contains(t, output, "orders --> big")
	assert.Contains(t, output, "orders -->|data| score")
	assert.NotContains(t, output, "class orders")
}

func TestRenderMermaidStatusClasses(t *testing.T) {
	model := &DiagramModel{
		Nodes: []*Node{
			{ID: "load-csv", Type: "paste_data", Status: &StatusOverlay{Status: "success"}},
			{ID: "b", Type: "filter", Status: &StatusOverlay{Status: "error"}},
			{ID: "c", Type: "chart", Status: &StatusOverlay{Status: StatusSkipped}},
			{ID: "d", Type: "filter", Status: &StatusOverlay{Status: "idle"}},
		},
		Edges: []Edge{{From: "load-csv", To: "b"}},
	}

	output := RenderMermaid(model)

	assert.Contains(t, output, "load_csv -->")
	assert.Contains(t, output, "class load_csv success")
	assert.Contains(t, output, "class b error")
	assert.Contains(t, output, "class c skipped")
	assert.NotContains(t, output, "class d")
}

func TestMermaidEscapesQuotes(t *testing.T) {
	n := &Node{ID: "q", Type: `say "hi"`, Kind: NodeKindTransform}
	assert.Equal(t, `q["q<br/>say #quot;hi#quot;"]`, mermaidNodeDef(n))
}

func TestMermaidUnknownKind(t *testing.T) {
	n := &Node{ID: "x", Type: "teleport", Kind: NodeKindUnknown}
	assert.Equal(t, `x>"x<br/>teleport"]`, mermaidNodeDef(n))
}
