package executors

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

const pasteDataConfigSchema = `{
  "type": "object",
  "properties": {
    "data": {"type": "string"},
    "format": {"type": "string", "enum": ["auto", "csv", "tsv", "json"], "default": "auto"},
    "hasHeader": {"type": "boolean", "default": true},
    "inferTypes": {"type": "boolean", "default": true}
  },
  "required": ["data"]
}`

// PasteDataExecutor parses pasted CSV, TSV or JSON text into a dataset.
type PasteDataExecutor struct{}

// NewPasteDataExecutor creates a paste data executor.
func NewPasteDataExecutor() *PasteDataExecutor { return &PasteDataExecutor{} }

func (e *PasteDataExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "paste_data",
		Name:         "Paste Data",
		Category:     CategoryInput,
		Description:  "Parse pasted CSV, TSV or JSON text.",
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(pasteDataConfigSchema),
	}
}

func (e *PasteDataExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if strings.TrimSpace(stringParam(ec.Config, "data", "")) == "" {
		result.AddError("config.data", schema.ErrCodeValidation, "Pasted data is required")
	}
	switch stringParam(ec.Config, "format", "auto") {
	case "auto", "csv", "tsv", "json":
	default:
		result.AddError("config.format", schema.ErrCodeValidation, "Format must be one of auto, csv, tsv, json")
	}
	return result
}

func (e *PasteDataExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	text := stringParam(ec.Config, "data", "")
	format := stringParam(ec.Config, "format", "auto")
	if format == "auto" {
		format = detectFormat(text)
	}

	var (
		ds  *dataset.Dataset
		err error
	)
	switch format {
	case "json":
		ds, err = parseJSONText(text)
	case "tsv":
		ds, err = parseDelimited(text, '\t', boolParam(ec.Config, "hasHeader", true), boolParam(ec.Config, "inferTypes", true))
	default:
		ds, err = parseDelimited(text, ',', boolParam(ec.Config, "hasHeader", true), boolParam(ec.Config, "inferTypes", true))
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "parse %s data: %v", format, err).
			WithNode(ec.NodeID).WithCause(err)
	}
	return Succeeded(ds), nil
}

func detectFormat(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return "json"
	}
	firstLine, _, _ := strings.Cut(trimmed, "\n")
	if strings.Contains(firstLine, "\t") {
		return "tsv"
	}
	return "csv"
}

func parseJSONText(text string) (*dataset.Dataset, error) {
	v, err := dataset.ParseJSON([]byte(text))
	if err != nil {
		return nil, err
	}
	return dataset.FromValue(v), nil
}

func parseDelimited(text string, sep rune, hasHeader, inferTypes bool) (*dataset.Dataset, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	if sep == '\t' {
		r.LazyQuotes = true
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no rows found")
	}

	width := 0
	for _, rec := range records {
		if len(rec) > width {
			width = len(rec)
		}
	}

	var columns []string
	if hasHeader {
		columns = uniqueHeaders(records[0], width)
		records = records[1:]
	} else {
		columns = make([]string, width)
		for i := range columns {
			columns[i] = fmt.Sprintf("column_%d", i+1)
		}
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(columns))
		for j := range columns {
			if j >= len(rec) {
				continue
			}
			if inferTypes {
				row[j] = inferCell(rec[j])
			} else {
				row[j] = rec[j]
			}
		}
		rows[i] = row
	}
	return dataset.New(columns, rows), nil
}

// uniqueHeaders fills blank header cells and suffixes duplicates.
func uniqueHeaders(header []string, width int) []string {
	out := make([]string, width)
	seen := map[string]int{}
	for i := 0; i < width; i++ {
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(header[i])
		}
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

// inferCell converts text to number, boolean or null where it parses cleanly.
func inferCell(s string) any {
	t := strings.TrimSpace(s)
	switch strings.ToLower(t) {
	case "":
		return nil
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
