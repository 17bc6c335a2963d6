// Package expressions evaluates the restricted expression languages used by
// workflows: CEL for edge guards, expr for state assignments and jq for
// value bindings.
package expressions

import "context"

// Engine evaluates an expression against a JSON-like data map.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
