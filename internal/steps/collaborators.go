package steps

import (
	"context"
	"encoding/json"

	"github.com/rendis/chatflow/internal/conversation"
	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/pkg/schema"
)

// AgentRequest is the input of one agent invocation.
type AgentRequest struct {
	Invocation   Invocation
	AgentKey     string
	Provider     string
	Model        string
	Instructions string
	OutputSchema json.RawMessage
	Settings     map[string]any
	History      []schema.Message // shaped for Provider
}

// ImageArtifact is an image produced by an agent during a node execution.
type ImageArtifact struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"-"`
}

// AgentResponse is what the agent runner returns.
type AgentResponse struct {
	Text           string
	Structured     any
	ImageArtifacts []ImageArtifact
	Handoff        string // slug of the node the agent handed off to, if any
}

// AgentInvoker runs a language-model agent. Retries are the invoker's own
// business; the engine never retries.
type AgentInvoker interface {
	Invoke(ctx context.Context, req AgentRequest) (*AgentResponse, error)
}

// ImageConsumer stores the image artifacts of a node and returns their
// public URLs in order.
type ImageConsumer interface {
	Consume(ctx context.Context, inv Invocation, artifacts []ImageArtifact) ([]string, error)
}

// OutputParser parses agent text against a structured-output contract.
type OutputParser interface {
	Parse(text string, contract json.RawMessage) (any, error)
}

// Recorder writes the audit trail of executed steps.
type Recorder interface {
	RecordStep(ctx context.Context, rec schema.StepRecord) error
}

// ImageFormatter renders image URLs into assistant text.
type ImageFormatter interface {
	Format(urls []string) string
	Append(text, formatted string) string
}

// IngestDocument is one document sent to a vector store.
type IngestDocument struct {
	StoreSlug string         `json:"store_slug"`
	DocID     string         `json:"doc_id"`
	Document  any            `json:"document"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// VectorStore ingests documents. Failures are reported but never abort a run.
type VectorStore interface {
	Ingest(ctx context.Context, inv Invocation, doc IngestDocument) error
}

// WidgetDescription is a widget ready to be rendered by the client.
type WidgetDescription struct {
	Slug        string         `json:"slug"`
	NodeSlug    string         `json:"node_slug"`
	Title       string         `json:"title,omitempty"`
	Definition  map[string]any `json:"definition,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Interactive bool           `json:"interactive"`
}

// WidgetTransport streams widgets to the client and decides whether the run
// must wait for the user.
type WidgetTransport interface {
	Stream(ctx context.Context, inv Invocation, w WidgetDescription) error
	ShouldSuspend(w WidgetDescription) bool
}

// EventEmitter receives stream events.
type EventEmitter interface {
	Emit(ctx context.Context, ev schema.StreamEvent)
}

// VoiceRequest starts a realtime voice session.
type VoiceRequest struct {
	AgentKey     string
	Voice        string
	Instructions string
	Settings     map[string]any
	History      []schema.Message
}

// CallRequest places an outbound phone call.
type CallRequest struct {
	AgentKey        string
	ToNumber        string
	FromNumber      string
	AwaitCompletion bool
	Settings        map[string]any
}

// VoiceOutcome is the result of a voice session or call. Pending means the
// session is still running and the run should wait for its result.
type VoiceOutcome struct {
	SessionID  string
	Transcript []schema.Message
	Summary    string
	Structured any
	Pending    bool
}

// Telephony handles voice sessions and outbound calls. Media transport is
// entirely the collaborator's concern.
type Telephony interface {
	StartVoiceSession(ctx context.Context, inv Invocation, req VoiceRequest) (*VoiceOutcome, error)
	PlaceCall(ctx context.Context, inv Invocation, req CallRequest) (*VoiceOutcome, error)
}

// Graph gives processors read access to the definition being executed.
type Graph interface {
	Namespace(n *schema.Node) string
	Title(n *schema.Node) string
	HasEdge(source, target string) bool
}

// Values holds the expression engines processors evaluate with.
type Values struct {
	Bindings    expressions.Engine // jq
	Assignments expressions.Engine // expr
}

// Collaborators are the capabilities injected into processors. Agents and
// Graph are required by the kinds that use them; the rest are optional.
type Collaborators struct {
	Agents      AgentInvoker
	Images      ImageConsumer
	Parser      OutputParser
	Recorder    Recorder
	Formatter   ImageFormatter
	VectorStore VectorStore
	Widgets     WidgetTransport
	Events      EventEmitter
	Telephony   Telephony
	Graph       Graph
	Values      Values
	Normalizer  *conversation.Normalizer
}

// WithDefaults fills the optional collaborators that have a built-in
// implementation.
func (c Collaborators) WithDefaults() Collaborators {
	if c.Formatter == nil {
		c.Formatter = MarkdownImages{}
	}
	if c.Parser == nil {
		c.Parser = &JSONParser{}
	}
	if c.Normalizer == nil {
		c.Normalizer = conversation.NewNormalizer("")
	}
	if c.Values.Bindings == nil {
		c.Values.Bindings = expressions.NewGoJQEngine()
	}
	if c.Values.Assignments == nil {
		c.Values.Assignments = expressions.NewExprEngine()
	}
	return c
}

func (c Collaborators) emit(ctx context.Context, inv Invocation, typ string, payload any) {
	if c.Events == nil {
		return
	}
	c.Events.Emit(ctx, schema.StreamEvent{
		ThreadID: inv.ThreadID,
		RunID:    inv.RunID,
		NodeSlug: inv.NodeSlug,
		Type:     typ,
		Payload:  payload,
	})
}

func (c Collaborators) title(n *schema.Node) string {
	if c.Graph == nil {
		if n.DisplayName != "" {
			return n.DisplayName
		}
		return Humanize(n.Slug)
	}
	return c.Graph.Title(n)
}
