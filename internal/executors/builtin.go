package executors

import "fmt"

// BuiltinConfig configures the built-in executors that need settings.
type BuiltinConfig struct {
	HTTP HTTPConfig
}

// RegisterBuiltins registers all built-in node types with the registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	all := make([]Executor, 0, 16)

	// Inputs.
	all = append(all,
		NewExampleDataExecutor(),
		NewPasteDataExecutor(),
		NewHTTPRequestExecutor(cfg.HTTP),
	)

	// Transforms.
	all = append(all,
		NewFilterExecutor(),
		NewSortExecutor(),
		NewGroupExecutor(),
		NewSelectExecutor(),
		NewLimitExecutor(),
		NewMergeExecutor(),
		NewCalculateExecutor(),
		NewJQExecutor(),
	)
	where, err := NewWhereExecutor()
	if err != nil {
		return fmt.Errorf("where executor: %w", err)
	}
	all = append(all, where)

	// Outputs and code.
	all = append(all, NewChartExecutor(), NewJavaScriptExecutor())

	for _, ex := range all {
		reg.Register(ex.Definition().Type, ex)
	}
	return nil
}
