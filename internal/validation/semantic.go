package validation

import (
	"fmt"
	"slices"

	"github.com/rendis/dataflow/pkg/schema"
)

// validateSemantic checks references the schema cannot see: node types known
// to the registry, connection endpoints, target handles and config schemas.
func validateSemantic(p *schema.Pipeline, lookup NodeTypeLookup, configs *JSONSchemaValidator) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeTypes := make(map[string]string, len(p.Nodes))
	for _, n := range p.Nodes {
		nodeTypes[n.ID] = n.Type
	}

	for i, n := range p.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if lookup == nil {
			continue
		}
		ex, ok := lookup.Get(n.Type)
		if !ok {
			result.AddError(path+".type", schema.ErrCodeNodeDefinitionNotFound,
				fmt.Sprintf("node type %q not registered", n.Type))
			continue
		}
		if configs == nil {
			continue
		}
		if err := configs.ValidateConfig(n.Config, ex.Definition().ConfigSchema); err != nil {
			addViolations(result, path+".config", err)
		}
	}

	taken := make(map[string]string)
	for i, c := range p.Connections {
		path := fmt.Sprintf("connections[%d]", i)

		if _, ok := nodeTypes[c.Source]; !ok {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", c.Source))
		}
		targetType, ok := nodeTypes[c.Target]
		if !ok {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", c.Target))
			continue
		}

		handle := c.InputHandle()
		slot := c.Target + "." + handle
		if prev, dup := taken[slot]; dup {
			result.AddError(path+".targetHandle", schema.ErrCodeValidation,
				fmt.Sprintf("handle %q of node %q already receives %q", handle, c.Target, prev))
		} else {
			taken[slot] = c.Source
		}

		if lookup == nil {
			continue
		}
		ex, known := lookup.Get(targetType)
		if !known {
			continue
		}
		inputs := ex.Definition().Inputs
		switch {
		case len(inputs) == 0:
			result.AddWarning(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("node type %q takes no inputs; connection from %q is ignored", targetType, c.Source))
		case !slices.Contains(inputs, handle):
			result.AddError(path+".targetHandle", schema.ErrCodeValidation,
				fmt.Sprintf("node type %q has no input handle %q", targetType, handle))
		}
	}

	return result
}

// addViolations expands a schema error into one entry per violation.
func addViolations(result *schema.ValidationResult, path string, err error) {
	de, ok := err.(*schema.DataflowError)
	if !ok {
		result.AddError(path, schema.ErrCodeValidation, err.Error())
		return
	}
	if violations, ok := de.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError(path, de.Code, v)
		}
		return
	}
	result.AddError(path, de.Code, de.Message)
}
