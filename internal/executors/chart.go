package executors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

var chartTypes = map[string]bool{
	"bar": true, "line": true, "pie": true, "doughnut": true, "scatter": true, "area": true,
}

var chartPalette = []string{
	"#4e79a7", "#f28e2b", "#e15759", "#76b7b2", "#59a14f",
	"#edc948", "#b07aa1", "#ff9da7", "#9c755f", "#bab0ac",
}

const chartConfigSchema = `{
  "type": "object",
  "properties": {
    "chartType": {"type": "string", "enum": ["bar","line","pie","doughnut","scatter","area"], "default": "bar"},
    "xAxis": {"type": "string"},
    "yAxis": {"anyOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
    "title": {"type": "string"},
    "stacked": {"type": "boolean", "default": false},
    "showLegend": {"type": "boolean", "default": true}
  },
  "required": ["xAxis", "yAxis"]
}`

// ChartConfig is a renderer-neutral chart description.
type ChartConfig struct {
	Type    string         `json:"type"`
	Data    ChartData      `json:"data"`
	Options map[string]any `json:"options"`
}

// ChartData holds category labels and one series per Y column.
type ChartData struct {
	Labels   []string      `json:"labels"`
	Datasets []ChartSeries `json:"datasets"`
}

// ChartSeries is one plotted series.
type ChartSeries struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
	// BackgroundColor is a single color, or one color per point for pie and
	// doughnut charts.
	BackgroundColor any    `json:"backgroundColor"`
	BorderColor     string `json:"borderColor"`
	Fill            bool   `json:"fill,omitempty"`
}

// ChartExecutor turns a dataset and axis selection into a ChartConfig. The
// input dataset passes through unchanged as the node output.
type ChartExecutor struct{}

// NewChartExecutor creates a chart executor.
func NewChartExecutor() *ChartExecutor { return &ChartExecutor{} }

func (e *ChartExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "chart",
		Name:         "Chart",
		Category:     CategoryOutput,
		Description:  "Build a chart configuration from X and Y axis columns.",
		Inputs:       []string{schema.DefaultHandle},
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(chartConfigSchema),
	}
}

func (e *ChartExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	ds := requireInput(ec, result)

	chartType := stringParam(ec.Config, "chartType", "bar")
	if !chartTypes[chartType] {
		result.AddError("config.chartType", schema.ErrCodeValidation, fmt.Sprintf("Invalid chart type %q", chartType))
	}

	x := stringParam(ec.Config, "xAxis", "")
	if x == "" {
		result.AddError("config.xAxis", schema.ErrCodeValidation, "X-axis column is required")
	} else if ds != nil && !ds.HasColumn(x) {
		result.AddError("config.xAxis", schema.ErrCodeValidation, fmt.Sprintf("X-axis column %q not found in input dataset", x))
	}

	ys := stringListParam(ec.Config, "yAxis")
	if len(ys) == 0 {
		result.AddError("config.yAxis", schema.ErrCodeValidation, "At least one Y-axis column is required")
	}
	for i, y := range ys {
		if ds != nil && !ds.HasColumn(y) {
			result.AddError(fmt.Sprintf("config.yAxis[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("Y-axis column %q not found in input dataset", y))
		}
	}
	return result
}

func (e *ChartExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	in := ec.PrimaryInput()
	chartType := stringParam(ec.Config, "chartType", "bar")
	xIdx := in.ColumnIndex(stringParam(ec.Config, "xAxis", ""))
	ys := stringListParam(ec.Config, "yAxis")
	perPointColors := chartType == "pie" || chartType == "doughnut"

	labels := make([]string, len(in.Rows))
	for i, row := range in.Rows {
		labels[i] = dataset.String(cellAt(row, xIdx))
	}

	var warnings []string
	series := make([]ChartSeries, 0, len(ys))
	for s, y := range ys {
		yIdx := in.ColumnIndex(y)
		data := make([]float64, len(in.Rows))
		coerced := 0
		for i, row := range in.Rows {
			f, ok := dataset.AsNumber(cellAt(row, yIdx))
			if !ok {
				coerced++
			}
			data[i] = f
		}
		if coerced > 0 {
			warnings = append(warnings,
				fmt.Sprintf("Y-axis column %q has %d non-numeric values; they were charted as 0", y, coerced))
		}

		color := chartPalette[s%len(chartPalette)]
		var bg any = color
		if perPointColors {
			colors := make([]string, len(data))
			for i := range colors {
				colors[i] = chartPalette[i%len(chartPalette)]
			}
			bg = colors
		}
		series = append(series, ChartSeries{
			Label:           y,
			Data:            data,
			BackgroundColor: bg,
			BorderColor:     color,
			Fill:            chartType == "area",
		})
	}

	renderType := chartType
	if chartType == "area" {
		renderType = "line"
	}
	cfg := &ChartConfig{
		Type:    renderType,
		Data:    ChartData{Labels: labels, Datasets: series},
		Options: chartOptions(ec.Config, perPointColors),
	}

	return &Result{
		Success:  true,
		Output:   in.Clone(),
		Artifact: cfg,
		Warnings: warnings,
	}, nil
}

func chartOptions(config map[string]any, radial bool) map[string]any {
	title := stringParam(config, "title", "")
	opts := map[string]any{
		"responsive": true,
		"plugins": map[string]any{
			"title":  map[string]any{"display": title != "", "text": title},
			"legend": map[string]any{"display": boolParam(config, "showLegend", true)},
		},
	}
	if !radial {
		stacked := boolParam(config, "stacked", false)
		opts["scales"] = map[string]any{
			"x": map[string]any{"stacked": stacked},
			"y": map[string]any{"stacked": stacked, "beginAtZero": true},
		}
	}
	return opts
}
