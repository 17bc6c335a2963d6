package steps

import (
	"context"

	"github.com/rendis/chatflow/internal/runstate"
	"github.com/rendis/chatflow/pkg/schema"
)

// Execute dispatches in.Node to the processor of its kind. Every kind is
// handled explicitly; an unknown kind is a GRAPH_VALIDATION error.
func Execute(ctx context.Context, in Input, c Collaborators) (*Result, error) {
	switch in.Node.Kind {
	case schema.NodeKindStart:
		return processStart(in), nil
	case schema.NodeKindAgent:
		return processAgent(ctx, in, c)
	case schema.NodeKindVoiceAgent:
		return processVoiceAgent(ctx, in, c)
	case schema.NodeKindOutboundCall:
		return processOutboundCall(ctx, in, c)
	case schema.NodeKindVectorStoreIngest:
		return processVectorStoreIngest(ctx, in, c)
	case schema.NodeKindWidget:
		return processWidget(ctx, in, c)
	case schema.NodeKindSetState:
		return processSetState(ctx, in, c)
	case schema.NodeKindSubWorkflow:
		return processSubWorkflow(ctx, in, c)
	case schema.NodeKindEnd:
		return &Result{}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeGraphValidation, "unknown node kind %q", in.Node.Kind).
			WithNode(in.Node.Slug)
	}
}

// processStart records the run input in state the first time through.
func processStart(in Input) *Result {
	res := &Result{}
	if _, ok := in.Run.State[runstate.KeyInput]; !ok {
		input := runstate.DeepCopy(in.Run.Input)
		if input == nil {
			input = map[string]any{}
		}
		res.StateUpdates = append(res.StateUpdates, StateUpdate{Path: runstate.KeyInput, Value: input})
	}
	return res
}

// processSetState evaluates assignments in order against a working copy of
// state, so later assignments observe earlier ones.
func processSetState(ctx context.Context, in Input, c Collaborators) (*Result, error) {
	var p schema.SetStateParams
	if err := in.Node.DecodeParams(&p); err != nil {
		return nil, err
	}

	work := runstate.DeepCopy(in.Run.State)
	if work == nil {
		work = map[string]any{}
	}
	res := &Result{}
	for _, a := range p.Assignments {
		scope := map[string]any{
			"state": work,
			"input": in.Run.Input,
			"last":  in.Run.LastStep.AsMap(),
		}
		val, err := c.Values.Assignments.Evaluate(ctx, a.Expression, scope)
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeExecution).WithNode(in.Node.Slug)
		}
		if err := runstate.SetPath(work, a.Target, runstate.DeepCopyValue(val)); err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeExecution).WithNode(in.Node.Slug)
		}
		res.StateUpdates = append(res.StateUpdates, StateUpdate{Path: a.Target, Value: val})
	}
	return res, nil
}

// processSubWorkflow maps the caller scope into the nested run input and
// hands the call to the runner.
func processSubWorkflow(ctx context.Context, in Input, c Collaborators) (*Result, error) {
	var p schema.SubWorkflowParams
	if err := in.Node.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.WorkflowSlug == "" {
		return nil, schema.NewError(schema.ErrCodeGraphValidation, "sub_workflow node has no workflow_slug").
			WithNode(in.Node.Slug)
	}

	call := &SubWorkflowCall{WorkflowSlug: p.WorkflowSlug, Version: p.Version, ReturnTo: p.ReturnTo}
	if p.InputPath != "" {
		v, err := c.Values.Bindings.Evaluate(ctx, p.InputPath, in.Run.Scope())
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeExecution).WithNode(in.Node.Slug)
		}
		call.Input = v
	}
	return &Result{Call: call}, nil
}
