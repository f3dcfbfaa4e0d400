package validation

import (
	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/pkg/schema"
)

// Validator checks pipeline documents and node configs before execution.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidatePipeline(p *schema.Pipeline) error
	ValidateConfig(config map[string]any, configSchema []byte) error
}

// NodeTypeLookup resolves node types to executors. Satisfied by *executors.Registry.
type NodeTypeLookup interface {
	Get(nodeType string) (executors.Executor, bool)
}
