package diagram

import (
	"fmt"
	"strings"

	"golang.org/x/text/width"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "success":
		return "[OK]"
	case "warning":
		return "[WARN]"
	case "error":
		return "[FAIL]"
	case "processing":
		return "[RUN]"
	case StatusSkipped:
		return "[SKIP]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text diagram: one row of boxes per
// level, followed by the connection list.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := findNode(model.Nodes, nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\nconnections:\n")
		for _, edge := range model.Edges {
			if edge.Label != "" {
				b.WriteString(fmt.Sprintf("  %s ─→ %s (%s)\n", edge.From, edge.To, edge.Label))
				continue
			}
			b.WriteString(fmt.Sprintf("  %s ─→ %s\n", edge.From, edge.To))
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	contentLines := []string{node.ID, "(" + node.Type + ")"}

	if node.Status != nil {
		tag := statusTag(node.Status.Status)
		if node.Status.Cached {
			tag += " cached"
		}
		if tag != "" {
			contentLines = append(contentLines, strings.TrimSpace(tag))
		}
		if node.Status.RowCount > 0 {
			contentLines = append(contentLines, fmt.Sprintf("%d rows", node.Status.RowCount))
		}
		if node.Status.DurationMs > 0 {
			contentLines = append(contentLines, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		if w := displayWidth(line); w > maxLen {
			maxLen = w
		}
	}
	boxWidth := maxLen + 4 // 2 border + 2 padding

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, "┌"+strings.Repeat("─", boxWidth-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-displayWidth(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", boxWidth-2)+"┘")

	return asciiBox{lines: lines, width: boxWidth}
}

// displayWidth counts terminal columns: East Asian wide and fullwidth runes
// take two.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
