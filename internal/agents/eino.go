package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	eino "github.com/cloudwego/eino/schema"

	"github.com/rendis/chatflow/internal/steps"
	"github.com/rendis/chatflow/pkg/schema"
)

// EinoInvoker runs agents on an eino chat model. It does not retry; a model
// error is returned as is and the step fails.
type EinoInvoker struct {
	model    model.BaseChatModel
	registry *Registry
	logger   *slog.Logger
}

var _ steps.AgentInvoker = (*EinoInvoker)(nil)

// NewEinoInvoker creates an invoker over m. A nil registry accepts any agent
// key.
func NewEinoInvoker(m model.BaseChatModel, registry *Registry, logger *slog.Logger) *EinoInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &EinoInvoker{model: m, registry: registry, logger: logger}
}

// Invoke sends the agent's instructions and the conversation to the model.
// Image parts of the reply become image artifacts.
func (e *EinoInvoker) Invoke(ctx context.Context, req steps.AgentRequest) (*steps.AgentResponse, error) {
	var spec Spec
	if e.registry != nil {
		s, ok := e.registry.Get(req.AgentKey)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent %q is not registered", req.AgentKey)
		}
		spec = s
	}

	msgs := make([]*eino.Message, 0, len(req.History)+1)
	if system := systemPrompt(spec, req); system != "" {
		msgs = append(msgs, eino.SystemMessage(system))
	}
	msgs = append(msgs, ToEinoMessages(req.History)...)

	started := time.Now()
	out, err := e.model.Generate(ctx, msgs, options(spec, req)...)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	e.logger.DebugContext(ctx, "agent replied",
		slog.String("agent", req.AgentKey),
		slog.String("thread_id", req.Invocation.ThreadID),
		slog.String("node", req.Invocation.NodeSlug),
		slog.Duration("duration", time.Since(started)),
	)

	resp := &steps.AgentResponse{Text: out.Content}
	for i, part := range out.MultiContent {
		switch part.Type {
		case eino.ChatMessagePartTypeText:
			if resp.Text == "" {
				resp.Text = part.Text
			}
		case eino.ChatMessagePartTypeImageURL:
			if part.ImageURL != nil && part.ImageURL.URL != "" {
				resp.ImageArtifacts = append(resp.ImageArtifacts, steps.ImageArtifact{
					ID:       fmt.Sprintf("%s-%d", req.Invocation.NodeSlug, i),
					URL:      part.ImageURL.URL,
					MimeType: part.ImageURL.MIMEType,
				})
			}
		}
	}
	return resp, nil
}

// systemPrompt joins the agent's base instructions with the node's.
func systemPrompt(spec Spec, req steps.AgentRequest) string {
	var parts []string
	for _, s := range []string{spec.Instructions, req.Instructions} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(req.OutputSchema) > 0 {
		parts = append(parts, "Reply with a single JSON document matching this JSON Schema:\n"+string(req.OutputSchema))
	}
	return strings.Join(parts, "\n\n")
}

// options maps node settings onto model options. Node values override the
// agent spec.
func options(spec Spec, req steps.AgentRequest) []model.Option {
	var opts []model.Option
	switch {
	case req.Model != "":
		opts = append(opts, model.WithModel(req.Model))
	case spec.Model != "":
		opts = append(opts, model.WithModel(spec.Model))
	}

	if t, ok := number(req.Settings["temperature"]); ok {
		opts = append(opts, model.WithTemperature(float32(t)))
	} else if spec.Temperature != nil {
		opts = append(opts, model.WithTemperature(*spec.Temperature))
	}
	if n, ok := number(req.Settings["max_tokens"]); ok {
		opts = append(opts, model.WithMaxTokens(int(n)))
	}
	return opts
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ToEinoMessages converts canonical messages to eino messages. Text blocks
// become content, image blocks multi-content parts, tool calls and tool
// results their eino counterparts.
func ToEinoMessages(history []schema.Message) []*eino.Message {
	out := make([]*eino.Message, 0, len(history))
	for _, m := range history {
		var (
			texts    []string
			images   []eino.ChatMessagePart
			calls    []eino.ToolCall
			toolMsgs []*eino.Message
		)
		for _, b := range m.Content {
			switch {
			case b.Type.IsText():
				texts = append(texts, b.Text)
			case b.Type == schema.BlockInputImage:
				images = append(images, eino.ChatMessagePart{
					Type:     eino.ChatMessagePartTypeImageURL,
					ImageURL: &eino.ChatMessageImageURL{URL: b.ImageURL},
				})
			case b.Type == schema.BlockToolCall:
				calls = append(calls, eino.ToolCall{
					ID:       b.ToolCallID,
					Function: eino.FunctionCall{Name: b.Name, Arguments: b.Arguments},
				})
			case b.Type == schema.BlockToolResult:
				result := schema.Message{Content: b.Content}
				toolMsgs = append(toolMsgs, eino.ToolMessage(result.Text(), b.ToolCallID))
			}
		}

		content := strings.Join(texts, "\n")
		if content != "" || len(images) > 0 || len(calls) > 0 {
			msg := &eino.Message{Role: roleOf(m.Role), Content: content, ToolCalls: calls}
			if len(images) > 0 {
				if content != "" {
					msg.MultiContent = append(msg.MultiContent, eino.ChatMessagePart{Type: eino.ChatMessagePartTypeText, Text: content})
				}
				msg.MultiContent = append(msg.MultiContent, images...)
				msg.Content = ""
			}
			out = append(out, msg)
		}
		out = append(out, toolMsgs...)
	}
	return out
}

func roleOf(r schema.Role) eino.RoleType {
	switch r {
	case schema.RoleSystem:
		return eino.System
	case schema.RoleAssistant:
		return eino.Assistant
	case schema.RoleTool:
		return eino.Tool
	default:
		return eino.User
	}
}
