package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderASCII(t *testing.T) {
	model, err := Build(salesPipeline(), nil, nil)
	require.NoError(t, err)

	output := RenderASCII(model)

	assert.Contains(t, output, "=== Sales Report ===")
	assert.Contains(t, output, "┌")
	assert.Contains(t, output, "┘")
	assert.Contains(t, output, "▼")
	assert.Contains(t, output, "(example_data)")
	assert.Contains(t, output, "orders ─→ big\n")
	assert.Contains(t, output, "orders ─→ score (data)\n")
}

func TestRenderASCIIWithStatus(t *testing.T) {
	model := &DiagramModel{
		Nodes: []*Node{
			{ID: "a", Type: "example_data", Status: &StatusOverlay{Status: "success", RowCount: 5, DurationMs: 100}},
			{ID: "b", Type: "filter", Status: &StatusOverlay{Status: "error"}},
			{ID: "c", Type: "filter", Status: &StatusOverlay{Status: "processing"}},
			{ID: "d", Type: "filter", Status: &StatusOverlay{Status: "warning"}},
			{ID: "e", Type: "chart", Status: &StatusOverlay{Status: StatusSkipped}},
			{ID: "f", Type: "limit", Status: &StatusOverlay{Status: "success", Cached: true}},
		},
		Levels: [][]string{{"a", "f"}, {"b", "c", "d"}, {"e"}},
	}

	output := RenderASCII(model)

	assert.Contains(t, output, "[OK]")
	assert.Contains(t, output, "[FAIL]")
	assert.Contains(t, output, "[RUN]")
	assert.Contains(t, output, "[WARN]")
	assert.Contains(t, output, "[SKIP]")
	assert.Contains(t, output, "[OK] cached")
	assert.Contains(t, output, "5 rows")
	assert.Contains(t, output, "100ms")
	assert.NotContains(t, output, "connections:")
}

func TestRenderASCIIWideLabels(t *testing.T) {
	model := &DiagramModel{
		Nodes:  []*Node{{ID: "売上", Type: "filter"}},
		Levels: [][]string{{"売上"}},
	}
	lines := strings.Split(strings.TrimRight(RenderASCII(model), "\n"), "\n")
	require.Len(t, lines, 4)

	// Every row of the box spans the same number of terminal columns.
	for _, l := range lines[1:] {
		assert.Equal(t, displayWidth(lines[0]), displayWidth(l), l)
	}
}

func TestDisplayWidth(t *testing.T) {
	assert.Equal(t, 5, displayWidth("hello"))
	assert.Equal(t, 4, displayWidth("売上"))
	assert.Equal(t, 0, displayWidth(""))
}
