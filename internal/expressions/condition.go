package expressions

import (
	"context"
	"log/slog"
	"strings"
)

// ConditionEvaluator decides whether an edge guard matches the run scope.
// Guard failures never abort a run: a guard that does not compile, fails at
// evaluation or yields a non-boolean is treated as not matching.
type ConditionEvaluator struct {
	cel    *CELEngine
	logger *slog.Logger
}

// NewConditionEvaluator creates an evaluator backed by a CEL engine.
func NewConditionEvaluator(engine *CELEngine, logger *slog.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConditionEvaluator{cel: engine, logger: logger}
}

// Match evaluates condition against scope. guarded is false when the
// condition is empty, in which case matched is always false and the edge is
// a default edge.
func (c *ConditionEvaluator) Match(ctx context.Context, condition string, scope map[string]any) (matched, guarded bool) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return false, false
	}

	out, err := c.cel.Evaluate(ctx, condition, scope)
	if err != nil {
		c.logger.WarnContext(ctx, "guard evaluation failed, treating as no match",
			slog.String("condition", condition),
			slog.String("error", err.Error()),
		)
		return false, true
	}

	b, ok := out.(bool)
	if !ok {
		c.logger.WarnContext(ctx, "guard did not produce a boolean, treating as no match",
			slog.String("condition", condition),
			slog.Any("result", out),
		)
		return false, true
	}
	return b, true
}
