package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rendis/dataflow/pkg/dataset"
	"github.com/rendis/dataflow/pkg/schema"
)

type sampleTable struct {
	columns []string
	rows    [][]any
}

// sampleTables are the built-in datasets. Rows are fixed so runs are
// reproducible.
var sampleTables = map[string]sampleTable{
	"employees": {
		columns: []string{"id", "name", "department", "salary", "hire_date", "active"},
		rows: [][]any{
			{1, "Alice Johnson", "Engineering", 95000, "2019-03-15", true},
			{2, "Bob Smith", "Marketing", 65000, "2020-07-01", true},
			{3, "Carol White", "Engineering", 105000, "2017-11-20", true},
			{4, "David Brown", "Sales", 55000, "2021-01-10", false},
			{5, "Eve Davis", "Engineering", 88000, "2022-05-03", true},
			{6, "Frank Miller", "Sales", 61000, "2018-09-27", true},
			{7, "Grace Lee", "HR", 58000, "2020-02-14", true},
			{8, "Henry Wilson", "Marketing", 72000, "2016-06-30", false},
			{9, "Ivy Chen", "HR", 63000, "2023-04-18", true},
			{10, "Jack Taylor", "Sales", 67000, "2019-12-02", true},
		},
	},
	"sales": {
		columns: []string{"date", "region", "product", "units", "revenue"},
		rows: [][]any{
			{"2024-01-05", "North", "Widget", 120, 2400.0},
			{"2024-01-05", "South", "Gadget", 80, 3200.0},
			{"2024-01-12", "East", "Widget", 95, 1900.0},
			{"2024-01-12", "West", "Gizmo", 40, 2800.0},
			{"2024-01-19", "North", "Gadget", 60, 2400.0},
			{"2024-01-19", "South", "Widget", 150, 3000.0},
			{"2024-01-26", "East", "Gizmo", 35, 2450.0},
			{"2024-01-26", "West", "Widget", 110, 2200.0},
			{"2024-02-02", "North", "Gizmo", 55, 3850.0},
			{"2024-02-02", "South", "Gadget", 70, 2800.0},
			{"2024-02-09", "East", "Gadget", 90, 3600.0},
			{"2024-02-09", "West", "Gizmo", 45, 3150.0},
		},
	},
	"products": {
		columns: []string{"sku", "name", "category", "price", "in_stock"},
		rows: [][]any{
			{"P-100", "Widget", "Hardware", 20.0, true},
			{"P-101", "Gadget", "Hardware", 40.0, true},
			{"P-102", "Gizmo", "Hardware", 70.0, false},
			{"P-200", "Starter Plan", "Software", 9.99, true},
			{"P-201", "Pro Plan", "Software", 29.99, true},
			{"P-300", "Setup Service", "Services", 150.0, nil},
		},
	},
	"weather": {
		columns: []string{"date", "city", "temperature", "humidity", "conditions"},
		rows: [][]any{
			{"2024-07-01", "Lisbon", 28.5, 55, "Sunny"},
			{"2024-07-01", "Oslo", 19.0, 70, "Cloudy"},
			{"2024-07-01", "Madrid", 34.2, 30, "Sunny"},
			{"2024-07-02", "Lisbon", 26.1, 60, "Cloudy"},
			{"2024-07-02", "Oslo", 17.4, 82, "Rain"},
			{"2024-07-02", "Madrid", 35.8, 28, "Sunny"},
			{"2024-07-03", "Lisbon", 24.9, 66, "Rain"},
			{"2024-07-03", "Oslo", nil, 75, "Cloudy"},
			{"2024-07-03", "Madrid", 33.0, 33, "Sunny"},
		},
	},
}

// SampleDatasetNames lists the built-in dataset names, sorted.
func SampleDatasetNames() []string {
	names := make([]string, 0, len(sampleTables))
	for name := range sampleTables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const exampleDataConfigSchema = `{
  "type": "object",
  "properties": {
    "dataset": {"type": "string", "enum": ["employees", "products", "sales", "weather"], "default": "employees"},
    "rowCount": {"type": "integer", "minimum": 0}
  }
}`

// ExampleDataExecutor produces one of the built-in sample datasets.
type ExampleDataExecutor struct{}

// NewExampleDataExecutor creates an example data executor.
func NewExampleDataExecutor() *ExampleDataExecutor { return &ExampleDataExecutor{} }

func (e *ExampleDataExecutor) Definition() NodeDefinition {
	return NodeDefinition{
		Type:         "example_data",
		Name:         "Example Data",
		Category:     CategoryInput,
		Description:  "Emit a built-in sample dataset (employees, products, sales, weather).",
		Outputs:      []string{"output"},
		ConfigSchema: json.RawMessage(exampleDataConfigSchema),
	}
}

func (e *ExampleDataExecutor) Validate(ec *ExecutionContext) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	name := stringParam(ec.Config, "dataset", "employees")
	if _, ok := sampleTables[name]; !ok {
		result.AddError("config.dataset", schema.ErrCodeValidation,
			fmt.Sprintf("Unknown example dataset %q; available: %v", name, SampleDatasetNames()))
	}
	if intParam(ec.Config, "rowCount", 0) < 0 {
		result.AddError("config.rowCount", schema.ErrCodeValidation, "Row count must not be negative")
	}
	return result
}

func (e *ExampleDataExecutor) Execute(_ context.Context, ec *ExecutionContext) (*Result, error) {
	if err := failed(ec.NodeID, e.Validate(ec)); err != nil {
		return nil, err
	}
	table := sampleTables[stringParam(ec.Config, "dataset", "employees")]

	n := len(table.rows)
	if limit := intParam(ec.Config, "rowCount", 0); limit > 0 && limit < n {
		n = limit
	}
	rows := make([][]any, n)
	for i := 0; i < n; i++ {
		rows[i] = append([]any{}, table.rows[i]...)
	}
	return Succeeded(dataset.New(append([]string{}, table.columns...), rows)), nil
}
