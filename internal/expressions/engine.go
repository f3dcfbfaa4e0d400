package expressions

import "context"

// Engine evaluates expressions against row-scoped data.
// Three implementations: CEL (row predicates), GoJQ (record reshaping),
// Expr (computed columns).
type Engine interface {
	Name() string
	// Compile checks an expression without evaluating it.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
