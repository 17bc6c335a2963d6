package steps

import (
	"context"

	"github.com/google/uuid"
	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/internal/runstate"
	"github.com/rendis/chatflow/pkg/schema"
)

// processAgent invokes the agent runner and folds its text, structured
// output and images into the step result. A structured-output parse failure
// is a SERIALIZATION diagnostic, not an error: the raw text is kept.
func processAgent(ctx context.Context, in Input, c Collaborators) (*Result, error) {
	var p schema.AgentParams
	if err := in.Node.DecodeParams(&p); err != nil {
		return nil, err
	}
	if p.AgentKey == "" {
		return nil, schema.NewError(schema.ErrCodeGraphValidation, "agent node has no agent_key").WithNode(in.Node.Slug)
	}
	if c.Agents == nil {
		return nil, schema.NewError(schema.ErrCodeAgentInvocation, "no agent runner configured").WithNode(in.Node.Slug)
	}

	scope := in.Run.Scope()
	instructions, err := expressions.RenderTemplate(p.Instructions, scope)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeExecution).WithNode(in.Node.Slug)
	}

	resp, err := c.Agents.Invoke(ctx, AgentRequest{
		Invocation:   in.Invocation,
		AgentKey:     p.AgentKey,
		Provider:     p.Provider,
		Model:        p.Model,
		Instructions: instructions,
		OutputSchema: p.OutputSchema,
		Settings:     p.Settings,
		History:      c.Normalizer.ToProvider(in.Run.History, p.Provider),
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentInvocation, "agent %q failed: %s", p.AgentKey, err.Error()).
			WithNode(in.Node.Slug).WithCause(err)
	}
	if resp == nil {
		resp = &AgentResponse{}
	}

	res := &Result{OutputText: resp.Text, OutputStructured: resp.Structured}

	if len(p.OutputSchema) > 0 && res.OutputStructured == nil && resp.Text != "" {
		parsed, perr := c.Parser.Parse(resp.Text, p.OutputSchema)
		if perr != nil {
			res.diagnose(schema.ErrCodeSerialization, perr.Error())
		} else {
			res.OutputStructured = parsed
		}
	}

	urls, err := consumeImages(ctx, in, c, resp.ImageArtifacts)
	if err != nil {
		return nil, err
	}
	res.GeneratedImageURLs = urls
	if len(urls) > 0 {
		res.OutputText = c.Formatter.Append(res.OutputText, c.Formatter.Format(urls))
	}

	if res.OutputText != "" {
		res.Messages = append(res.Messages, schema.AssistantText("msg_"+uuid.NewString(), res.OutputText))
	}
	c.emit(ctx, in.Invocation, schema.StreamAssistantMessage, map[string]any{
		"title":      c.title(in.Node),
		"text":       res.OutputText,
		"structured": res.OutputStructured,
		"image_urls": urls,
	})

	if p.Ingest != nil {
		ingest(ctx, in, c, *p.Ingest, outputScope(scope, res), res)
	}

	if p.Widget != nil {
		suspend, err := streamWidget(ctx, in, c, *p.Widget, outputScope(scope, res))
		if err != nil {
			return nil, err
		}
		res.ShouldSuspend = suspend
	}

	if resp.Handoff != "" && c.Graph != nil && c.Graph.HasEdge(in.Node.Slug, resp.Handoff) {
		res.NextEdgeHint = resp.Handoff
	}

	return res, nil
}

// consumeImages turns the node's artifacts into URLs. The result is never nil
// so the runner always replaces the previous step's image URLs.
func consumeImages(ctx context.Context, in Input, c Collaborators, artifacts []ImageArtifact) ([]string, error) {
	if len(artifacts) == 0 {
		return []string{}, nil
	}
	if c.Images == nil {
		urls := make([]string, 0, len(artifacts))
		for _, a := range artifacts {
			if a.URL != "" {
				urls = append(urls, a.URL)
			}
		}
		return urls, nil
	}
	urls, err := c.Images.Consume(ctx, in.Invocation, artifacts)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "consume image artifacts: %s", err.Error()).
			WithNode(in.Node.Slug).WithCause(err)
	}
	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

// outputScope extends the run scope with the output of the current step
// under "output", for bindings evaluated before the runner applies it.
func outputScope(scope map[string]any, res *Result) map[string]any {
	out := make(map[string]any, len(scope)+1)
	for k, v := range scope {
		out[k] = v
	}
	out["output"] = map[string]any{
		"text":       res.OutputText,
		"structured": runstate.DeepCopyValue(res.OutputStructured),
	}
	return out
}
