package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/rendis/dataflow/internal/engine"
	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

// Output formats accepted by --output.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (table|json|yaml)", format)
	}
}

// printValue writes v as indented JSON or YAML. YAML goes through JSON first
// so both formats share the json field names.
func printValue(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if format != outputYAML {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderResult prints a run summary table followed by a preview of every
// node output, in pipeline order.
func renderResult(w io.Writer, p *schema.Pipeline, res *engine.ExecutionResult, previewRows int) {
	_, _ = fmt.Fprintf(w, "Execution %s: %s (%d/%d nodes, %s)\n",
		res.ExecutionID, res.State, res.Stats.CompletedNodes, res.Stats.TotalNodes,
		res.Stats.TotalTime.Round(time.Millisecond))
	if res.Error != nil {
		_, _ = fmt.Fprintf(w, "Error: %s\n", res.Error.Error())
	}

	order := make([]string, 0, len(res.Nodes))
	for _, n := range p.Nodes {
		if _, ok := res.Nodes[n.ID]; ok {
			order = append(order, n.ID)
		}
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Node", "Type", "Status", "Rows", "Duration", "Detail"})
	for _, id := range order {
		r := res.Nodes[id]
		rows := "-"
		if r.Output != nil {
			rows = fmt.Sprint(r.Output.Len())
		}
		status := string(r.Status)
		if r.Cached {
			status += " (cached)"
		}
		t.AppendRow(table.Row{id, r.NodeType, status, rows, r.Duration.Round(time.Millisecond), nodeDetail(r)})
	}
	for _, id := range res.Skipped {
		typ := ""
		if n := p.Node(id); n != nil {
			typ = n.Type
		}
		t.AppendRow(table.Row{id, typ, "skipped", "-", "-", ""})
	}
	t.Render()

	if previewRows <= 0 {
		return
	}
	for _, id := range order {
		if out := res.Nodes[id].Output; out != nil && len(out.Columns) > 0 {
			_, _ = fmt.Fprintf(w, "\n%s\n", id)
			renderDataset(w, out, previewRows)
		}
	}
}

func nodeDetail(r *engine.NodeResult) string {
	if r.Error != nil {
		return r.Error.Message
	}
	return strings.Join(r.Warnings, "; ")
}

// renderDataset prints up to limit rows of ds.
func renderDataset(w io.Writer, ds *dataset.Dataset, limit int) {
	t := newTable(w)
	header := make(table.Row, len(ds.Columns))
	for i, c := range ds.Columns {
		header[i] = c
	}
	t.AppendHeader(header)

	n := len(ds.Rows)
	if limit > 0 && n > limit {
		n = limit
	}
	for _, row := range ds.Rows[:n] {
		tr := make(table.Row, len(ds.Columns))
		for i := range ds.Columns {
			if i < len(row) {
				tr[i] = dataset.String(row[i])
			}
		}
		t.AppendRow(tr)
	}
	t.Render()
	if n < len(ds.Rows) {
		_, _ = fmt.Fprintf(w, "(%d of %d rows)\n", n, len(ds.Rows))
	} else {
		_, _ = fmt.Fprintf(w, "(%d rows)\n", len(ds.Rows))
	}
}

func renderIssues(w io.Writer, vr *schema.ValidationResult) {
	for _, issue := range vr.Errors {
		_, _ = fmt.Fprintf(w, "error   %s: %s (%s)\n", issue.Path, issue.Message, issue.Code)
	}
	for _, issue := range vr.Warnings {
		_, _ = fmt.Fprintf(w, "warning %s: %s (%s)\n", issue.Path, issue.Message, issue.Code)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
