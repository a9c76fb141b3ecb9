package expressions

import "context"

// Engine evaluates expressions over run state.
// Three implementations: CEL (edge predicates), GoJQ (field paths), Expr (policies).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
