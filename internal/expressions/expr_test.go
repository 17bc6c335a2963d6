package expressions

import (
	"context"
	"testing"

	"github.com/rendis/chatflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEngine_Assignments(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	data := map[string]any{
		"state": map[string]any{
			"attempts": 2,
			"name":     "ana",
			"items":    []any{1, 2, 3, 4},
		},
		"input": map[string]any{"choice": "b"},
	}

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"arithmetic", `state.attempts + 1`, 3},
		{"string function", `upper(state.name)`, "ANA"},
		{"nil coalescing", `state.missing ?? "default"`, "default"},
		{"filter builtin", `len(filter(state.items, # > 2))`, 2},
		{"input access", `input.choice == "b"`, true},
		{"literal map", `{"done": true}`, map[string]any{"done": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestExprEngine_CachedProgramToleratesShapeChanges(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, `state.value`, map[string]any{"state": map[string]any{"value": 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, out)

	out, err = e.Evaluate(ctx, `state.value`, map[string]any{"state": map[string]any{"value": "text"}})
	require.NoError(t, err)
	assert.Equal(t, "text", out)
}

func TestExprEngine_Errors(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(ctx, `state.(`, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(ctx, `1 / state.zero`, map[string]any{"state": map[string]any{"zero": "x"}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.Evaluate(cancelled, `1`, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCancelled))
}
