package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/chatflow/internal/runstate"
	"github.com/rendis/chatflow/internal/steps"
	"github.com/rendis/chatflow/pkg/schema"
)

// pushCall enters the workflow named by call. The nested run keeps the
// caller's state and history; call.Input, when set, replaces state.input.
func (r *Runner) pushCall(ctx context.Context, ex *execution, node *schema.Node, call *steps.SubWorkflowCall) error {
	rc := ex.rc
	if rc.Depth() >= r.cfg.MaxCallDepth {
		return schema.NewErrorf(schema.ErrCodeRecursionLimit,
			"call depth limit %d reached calling %s", r.cfg.MaxCallDepth, call.WorkflowSlug).
			WithNode(node.Slug).
			WithDetails(map[string]any{"depth": rc.Depth(), "limit": r.cfg.MaxCallDepth})
	}

	child, err := r.resolve(ctx, ex, call.WorkflowSlug, call.Version)
	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeNotFound)
		if fe.NodeSlug == "" {
			fe.WithNode(node.Slug)
		}
		return fe
	}
	start, _ := child.Start()

	frame := schema.CallFrame{
		WorkflowSlug:    rc.WorkflowSlug,
		WorkflowVersion: rc.WorkflowVersion,
		CallerSlug:      node.Slug,
		StateSnapshot:   runstate.DeepCopy(rc.State),
	}
	if call.ReturnTo != "" {
		frame.ReturnEdge = &schema.Edge{Source: node.Slug, Target: call.ReturnTo}
	}
	rc.CallStack = append(rc.CallStack, frame)

	if call.Input != nil {
		rc.State[runstate.KeyInput] = runstate.DeepCopyValue(call.Input)
	}
	rc.WorkflowSlug = child.Slug
	rc.WorkflowVersion = child.Version
	rc.CurrentSlug = start.Slug
	ex.def = child

	r.appendEvent(ctx, ex, node.Slug, schema.EventCallPushed, map[string]any{
		"workflow_slug": child.Slug,
		"depth":         rc.Depth(),
	})
	r.logger.DebugContext(ctx, "entered nested workflow",
		slog.String("caller", node.Slug), slog.String("workflow", child.Slug), slog.Int("depth", rc.Depth()))
	return nil
}

// popCall leaves a nested workflow that reached an end node. The nested
// state is deep-merged over the caller's state as it was at the call, nested
// values winning; the caller's own input is restored. Traversal continues at
// the frame's return edge or through normal edge selection from the caller.
func (r *Runner) popCall(ctx context.Context, ex *execution) error {
	rc := ex.rc
	top := len(rc.CallStack) - 1
	frame := rc.CallStack[top]
	nested := rc.WorkflowSlug

	parent, err := r.resolve(ctx, ex, frame.WorkflowSlug, frame.WorkflowVersion)
	if err != nil {
		return err
	}
	caller, ok := parent.Node(frame.CallerSlug)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeGraphValidation,
			"caller node %q not found in workflow %s", frame.CallerSlug, parent.Slug)
	}

	merged := runstate.DeepMerge(frame.StateSnapshot, rc.State)
	if in, had := frame.StateSnapshot[runstate.KeyInput]; had {
		merged[runstate.KeyInput] = runstate.DeepCopyValue(in)
	} else {
		delete(merged, runstate.KeyInput)
	}
	rc.State = merged
	rc.CallStack = rc.CallStack[:top]
	rc.WorkflowSlug = parent.Slug
	rc.WorkflowVersion = parent.Version
	rc.CurrentSlug = caller.Slug
	ex.def = parent

	r.appendEvent(ctx, ex, caller.Slug, schema.EventCallPopped, map[string]any{
		"workflow_slug": nested,
		"depth":         rc.Depth(),
	})

	if frame.ReturnEdge != nil {
		target := frame.ReturnEdge.Target
		if _, ok := parent.Node(target); !ok {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"return target %q not found in workflow %s", target, parent.Slug).WithNode(caller.Slug)
		}
		r.take(ctx, ex, caller.Slug, target, modeReturn)
		return nil
	}
	return r.advance(ctx, ex, caller, "")
}
