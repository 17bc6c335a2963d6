package steps

import (
	"context"

	"github.com/rendis/chatflow/pkg/schema"
)

// processWidget binds widget data from the run scope, streams it and
// suspends when the widget needs the user.
func processWidget(ctx context.Context, in Input, c Collaborators) (*Result, error) {
	var p schema.WidgetParams
	if err := in.Node.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.Slug == "" {
		return nil, schema.NewError(schema.ErrCodeGraphValidation, "widget node has no widget slug").
			WithNode(in.Node.Slug)
	}

	suspend, err := streamWidget(ctx, in, c, p, in.Run.Scope())
	if err != nil {
		return nil, err
	}
	return &Result{ShouldSuspend: suspend}, nil
}

// streamWidget evaluates bindings, sends the widget to the transport and the
// event sink, and reports whether the run must suspend.
func streamWidget(ctx context.Context, in Input, c Collaborators, p schema.WidgetParams, scope map[string]any) (bool, error) {
	data := make(map[string]any, len(p.Bindings))
	for field, expr := range p.Bindings {
		v, err := c.Values.Bindings.Evaluate(ctx, expr, scope)
		if err != nil {
			return false, schema.AsFlowError(err, schema.ErrCodeExecution).
				WithNode(in.Node.Slug).
				WithDetails(map[string]any{"widget": p.Slug, "field": field})
		}
		data[field] = v
	}

	w := WidgetDescription{
		Slug:        p.Slug,
		NodeSlug:    in.Node.Slug,
		Title:       c.title(in.Node),
		Definition:  p.Definition,
		Data:        data,
		Interactive: p.Interactive,
	}

	c.emit(ctx, in.Invocation, schema.StreamWidget, w)

	if c.Widgets == nil {
		return w.Interactive, nil
	}
	if err := c.Widgets.Stream(ctx, in.Invocation, w); err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution, "stream widget %q: %s", p.Slug, err.Error()).
			WithNode(in.Node.Slug).WithCause(err)
	}
	return c.Widgets.ShouldSuspend(w), nil
}
