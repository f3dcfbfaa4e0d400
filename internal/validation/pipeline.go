package validation

import "github.com/rendis/dataflow/pkg/schema"

// PipelineValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node types, connection refs, handles, node configs)
// 3. Graph (cycles, disconnected nodes)
type PipelineValidator struct {
	jsonSchema *JSONSchemaValidator
	nodeTypes  NodeTypeLookup
}

// NewPipelineValidator creates a PipelineValidator.
// lookup may be nil to skip node type and config checks.
func NewPipelineValidator(lookup NodeTypeLookup) (*PipelineValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &PipelineValidator{jsonSchema: jsv, nodeTypes: lookup}, nil
}

// Validate runs all stages and returns an aggregated result.
// Structural errors short-circuit the later stages.
func (pv *PipelineValidator) Validate(p *schema.Pipeline) *schema.ValidationResult {
	if p == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "pipeline is nil")
		return r
	}

	result := validateStructural(pv.jsonSchema, p)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(p, pv.nodeTypes, pv.jsonSchema))

	// Dangling connections make the graph meaningless.
	if result.Valid() {
		result.Merge(validateGraph(p))
	}
	return result
}

// ValidatePipeline satisfies the Validator interface.
func (pv *PipelineValidator) ValidatePipeline(p *schema.Pipeline) error {
	return pv.Validate(p).ToError()
}

// ValidateConfig delegates to the underlying JSONSchemaValidator.
func (pv *PipelineValidator) ValidateConfig(config map[string]any, configSchema []byte) error {
	return pv.jsonSchema.ValidateConfig(config, configSchema)
}

func validateStructural(v *JSONSchemaValidator, p *schema.Pipeline) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err := v.ValidatePipeline(p); err != nil {
		addViolations(result, "/", err)
	}
	return result
}

var _ Validator = (*PipelineValidator)(nil)
