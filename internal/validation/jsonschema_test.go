package validation

import (
	"testing"

	"github.com/rendis/dataflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSV(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func TestNewJSONSchemaValidator(t *testing.T) {
	v := newJSV(t)
	assert.NotNil(t, v.pipelineSchema)
}

func TestValidatePipeline_Nil(t *testing.T) {
	err := newJSV(t).ValidatePipeline(nil)
	require.Error(t, err)

	dfErr, ok := err.(*schema.DataflowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, dfErr.Code)
	assert.Contains(t, dfErr.Message, "nil")
}

func TestValidatePipeline_MinimalValid(t *testing.T) {
	err := newJSV(t).ValidatePipeline(&schema.Pipeline{
		Nodes: []schema.NodeInstance{{ID: "data", Type: "example_data"}},
	})
	assert.NoError(t, err)
}

func TestValidatePipeline_FullValid(t *testing.T) {
	p := &schema.Pipeline{
		Name:        "salaries",
		Description: "engineering salaries by department",
		Nodes: []schema.NodeInstance{
			{ID: "data", Type: "example_data", Position: schema.Position{X: 10, Y: 20},
				Config: map[string]any{"dataset": "employees", "rowCount": 5}},
			{ID: "filter", Type: "filter", Status: schema.NodeStatusIdle,
				Config: map[string]any{"conditions": []any{map[string]any{"column": "department", "operator": "equals", "value": "Engineering"}}}},
		},
		Connections: []schema.Connection{
			{ID: "c1", Source: "data", Target: "filter", SourceHandle: "output", TargetHandle: "input"},
		},
	}
	assert.NoError(t, newJSV(t).ValidatePipeline(p))
}

func TestValidatePipeline_NoNodes(t *testing.T) {
	err := newJSV(t).ValidatePipeline(&schema.Pipeline{Nodes: []schema.NodeInstance{}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestValidatePipeline_NodeMissingType(t *testing.T) {
	err := newJSV(t).ValidatePipeline(&schema.Pipeline{
		Nodes: []schema.NodeInstance{{ID: "a"}},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestValidatePipeline_BadStatus(t *testing.T) {
	err := newJSV(t).ValidatePipeline(&schema.Pipeline{
		Nodes: []schema.NodeInstance{{ID: "a", Type: "sort", Status: "running"}},
	})
	require.Error(t, err)

	dfErr, ok := err.(*schema.DataflowError)
	require.True(t, ok)
	assert.Contains(t, dfErr.Details, "violations")
}

func TestValidatePipeline_ConnectionMissingTarget(t *testing.T) {
	err := newJSV(t).ValidatePipeline(&schema.Pipeline{
		Nodes:       []schema.NodeInstance{{ID: "a", Type: "sort"}},
		Connections: []schema.Connection{{Source: "a"}},
	})
	require.Error(t, err)
}

func TestValidatePipeline_DuplicateNodeIDs(t *testing.T) {
	err := newJSV(t).ValidatePipeline(&schema.Pipeline{
		Nodes: []schema.NodeInstance{{ID: "a", Type: "sort"}, {ID: "a", Type: "limit"}},
	})
	require.Error(t, err)

	dfErr, ok := err.(*schema.DataflowError)
	require.True(t, ok)
	assert.Contains(t, dfErr.Message, "duplicate")
}

const limitSchema = `{
  "type": "object",
  "properties": {
    "limit": {"type": "integer", "minimum": 0},
    "offset": {"type": "integer", "minimum": 0}
  },
  "required": ["limit"]
}`

func TestValidateConfig_EmptySchema(t *testing.T) {
	assert.NoError(t, newJSV(t).ValidateConfig(map[string]any{"anything": true}, nil))
}

func TestValidateConfig_Valid(t *testing.T) {
	v := newJSV(t)
	assert.NoError(t, v.ValidateConfig(map[string]any{"limit": 10}, []byte(limitSchema)))
	assert.NoError(t, v.ValidateConfig(map[string]any{"limit": 10.0, "offset": 2}, []byte(limitSchema)))
}

func TestValidateConfig_NilConfigChecksRequired(t *testing.T) {
	err := newJSV(t).ValidateConfig(nil, []byte(limitSchema))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestValidateConfig_TypeMismatch(t *testing.T) {
	err := newJSV(t).ValidateConfig(map[string]any{"limit": "ten"}, []byte(limitSchema))
	require.Error(t, err)

	dfErr, ok := err.(*schema.DataflowError)
	require.True(t, ok)
	violations, ok := dfErr.Details["violations"].([]string)
	require.True(t, ok)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "/limit")
}

func TestValidateConfig_MultipleViolations(t *testing.T) {
	err := newJSV(t).ValidateConfig(map[string]any{"limit": -1, "offset": "x"}, []byte(limitSchema))
	require.Error(t, err)

	dfErr, ok := err.(*schema.DataflowError)
	require.True(t, ok)
	assert.Contains(t, dfErr.Message, "2 errors")
}

func TestValidateConfig_InvalidSchema(t *testing.T) {
	err := newJSV(t).ValidateConfig(map[string]any{}, []byte(`{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config schema")
}

func TestValidateConfig_CachesCompiledSchema(t *testing.T) {
	v := newJSV(t)
	require.NoError(t, v.ValidateConfig(map[string]any{"limit": 1}, []byte(limitSchema)))
	require.NoError(t, v.ValidateConfig(map[string]any{"limit": 2}, []byte(limitSchema)))
	assert.Len(t, v.cache, 1)
}
