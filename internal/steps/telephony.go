package steps

import (
	"context"
	"fmt"

	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/pkg/schema"
)

// processVoiceAgent starts a realtime voice session. A pending outcome
// suspends the run until the session result is delivered on resume.
func processVoiceAgent(ctx context.Context, in Input, c Collaborators) (*Result, error) {
	var p schema.VoiceAgentParams
	if err := in.Node.DecodeParams(&p); err != nil {
		return nil, err
	}
	if c.Telephony == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no telephony collaborator configured").WithNode(in.Node.Slug)
	}

	instructions, err := expressions.RenderTemplate(p.Instructions, in.Run.Scope())
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeExecution).WithNode(in.Node.Slug)
	}

	outcome, err := c.Telephony.StartVoiceSession(ctx, in.Invocation, VoiceRequest{
		AgentKey:     p.AgentKey,
		Voice:        p.Voice,
		Instructions: instructions,
		Settings:     p.Settings,
		History:      in.Run.History,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentInvocation, "voice agent %q failed: %s", p.AgentKey, err.Error()).
			WithNode(in.Node.Slug).WithCause(err)
	}

	if outcome == nil {
		outcome = &VoiceOutcome{}
	}
	res := voiceResult(outcome, true)
	c.emit(ctx, in.Invocation, schema.StreamVoiceSession, map[string]any{
		"session_id": outcome.SessionID,
		"agent_key":  p.AgentKey,
		"pending":    outcome.Pending,
	})
	return res, nil
}

// processOutboundCall places a phone call. The run waits for the call only
// when the node asks to await completion.
func processOutboundCall(ctx context.Context, in Input, c Collaborators) (*Result, error) {
	var p schema.OutboundCallParams
	if err := in.Node.DecodeParams(&p); err != nil {
		return nil, err
	}
	if c.Telephony == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no telephony collaborator configured").WithNode(in.Node.Slug)
	}

	to := p.ToNumber
	if p.ToNumberPath != "" {
		v, err := c.Values.Bindings.Evaluate(ctx, p.ToNumberPath, in.Run.Scope())
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeExecution).WithNode(in.Node.Slug)
		}
		if v != nil {
			to = fmt.Sprint(v)
		}
	}
	if to == "" {
		return nil, schema.NewError(schema.ErrCodeExecution, "outbound call has no destination number").WithNode(in.Node.Slug)
	}

	outcome, err := c.Telephony.PlaceCall(ctx, in.Invocation, CallRequest{
		AgentKey:        p.AgentKey,
		ToNumber:        to,
		FromNumber:      p.FromNumber,
		AwaitCompletion: p.AwaitCompletion,
		Settings:        p.Settings,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentInvocation, "outbound call to %s failed: %s", to, err.Error()).
			WithNode(in.Node.Slug).WithCause(err)
	}

	if outcome == nil {
		outcome = &VoiceOutcome{}
	}
	res := voiceResult(outcome, p.AwaitCompletion)
	c.emit(ctx, in.Invocation, schema.StreamOutboundCall, map[string]any{
		"session_id": outcome.SessionID,
		"to_number":  to,
		"pending":    outcome.Pending,
	})
	return res, nil
}

func voiceResult(outcome *VoiceOutcome, await bool) *Result {
	return &Result{
		OutputText:       outcome.Summary,
		OutputStructured: outcome.Structured,
		Messages:         outcome.Transcript,
		ShouldSuspend:    outcome.Pending && await,
	}
}
