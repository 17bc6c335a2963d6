package schema

import "encoding/json"

// WorkflowDefinition is an immutable, validated workflow version supplied by
// the authoring collaborator.
type WorkflowDefinition struct {
	Slug     string         `json:"slug" yaml:"slug"`
	Version  string         `json:"version,omitempty" yaml:"version,omitempty"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes    []Node         `json:"nodes" yaml:"nodes"`
	Edges    []Edge         `json:"edges,omitempty" yaml:"edges,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Node is a typed unit of work in the graph.
type Node struct {
	Slug        string          `json:"slug" yaml:"slug"`
	Kind        NodeKind        `json:"kind" yaml:"kind"`
	DisplayName string          `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	IsEnabled   bool            `json:"is_enabled" yaml:"is_enabled"`
	Parameters  json.RawMessage `json:"parameters,omitempty" yaml:"-"`
	ParentSlug  string          `json:"parent_slug,omitempty" yaml:"parent_slug,omitempty"`
}

// UnmarshalJSON decodes a node. is_enabled defaults to true when absent.
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	aux := plain{IsEnabled: true}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*n = Node(aux)
	return nil
}

// Edge is a directed transition. Declaration order is the tie-break when
// several edges leave the same node.
type Edge struct {
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// NodeKind enumerates the kinds of nodes in a workflow.
type NodeKind string

const (
	NodeKindStart             NodeKind = "start"
	NodeKindAgent             NodeKind = "agent"
	NodeKindVoiceAgent        NodeKind = "voice_agent"
	NodeKindOutboundCall      NodeKind = "outbound_call"
	NodeKindVectorStoreIngest NodeKind = "vector_store_ingest"
	NodeKindWidget            NodeKind = "widget"
	NodeKindSetState          NodeKind = "set_state"
	NodeKindSubWorkflow       NodeKind = "sub_workflow"
	NodeKindEnd               NodeKind = "end"
)

// NodeKinds lists every recognized kind in declaration order.
var NodeKinds = []NodeKind{
	NodeKindStart,
	NodeKindAgent,
	NodeKindVoiceAgent,
	NodeKindOutboundCall,
	NodeKindVectorStoreIngest,
	NodeKindWidget,
	NodeKindSetState,
	NodeKindSubWorkflow,
	NodeKindEnd,
}

// Known reports whether k is one of the recognized node kinds.
func (k NodeKind) Known() bool {
	for _, known := range NodeKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Node returns the node with the given slug.
func (d *WorkflowDefinition) Node(slug string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].Slug == slug {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Start returns the single start node.
func (d *WorkflowDefinition) Start() (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].Kind == NodeKindStart {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing returns the edges leaving slug in declaration order.
func (d *WorkflowDefinition) Outgoing(slug string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.Source == slug {
			out = append(out, e)
		}
	}
	return out
}

// DecodeParams unmarshals the node's kind-specific parameters into v.
// Absent parameters leave v untouched.
func (n *Node) DecodeParams(v any) error {
	if len(n.Parameters) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Parameters, v); err != nil {
		return NewErrorf(ErrCodeGraphValidation, "invalid %s parameters: %s", n.Kind, err.Error()).
			WithNode(n.Slug).WithCause(err)
	}
	return nil
}

// --- Kind-specific parameters ---

// AgentParams configures agent nodes.
type AgentParams struct {
	AgentKey     string          `json:"agent_key"`
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"` // structured-output contract
	Ingest       *IngestParams   `json:"vector_store,omitempty"`
	Widget       *WidgetParams   `json:"widget,omitempty"`
	Settings     map[string]any  `json:"settings,omitempty"`
}

// VoiceAgentParams configures voice_agent nodes.
type VoiceAgentParams struct {
	AgentKey     string         `json:"agent_key"`
	Voice        string         `json:"voice,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"`
}

// OutboundCallParams configures outbound_call nodes.
type OutboundCallParams struct {
	AgentKey        string         `json:"agent_key,omitempty"`
	ToNumber        string         `json:"to_number,omitempty"`
	ToNumberPath    string         `json:"to_number_path,omitempty"` // jq over run state
	FromNumber      string         `json:"from_number,omitempty"`
	AwaitCompletion bool           `json:"await_completion,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
}

// IngestParams configures vector_store_ingest nodes and the optional
// ingestion block of agent nodes. Paths are jq expressions over the scope.
type IngestParams struct {
	StoreSlug    string `json:"store_slug"`
	DocIDPath    string `json:"doc_id_path,omitempty"`
	DocumentPath string `json:"document_path,omitempty"`
	MetadataPath string `json:"metadata_path,omitempty"`
}

// WidgetParams configures widget nodes and the optional widget block of
// agent nodes.
type WidgetParams struct {
	Slug        string            `json:"slug"`
	Definition  map[string]any    `json:"definition,omitempty"`
	Bindings    map[string]string `json:"bindings,omitempty"` // field -> jq expression
	Interactive bool              `json:"interactive,omitempty"`
}

// SetStateParams configures set_state nodes.
type SetStateParams struct {
	Assignments []Assignment `json:"assignments"`
}

// Assignment writes the value of Expression to the dotted Target path in state.
type Assignment struct {
	Target     string `json:"target"`
	Expression string `json:"expression"`
}

// SubWorkflowParams configures sub_workflow nodes.
type SubWorkflowParams struct {
	WorkflowSlug string `json:"workflow_slug"`
	Version      string `json:"version,omitempty"`
	InputPath    string `json:"input_path,omitempty"` // jq over the caller scope
	ReturnTo     string `json:"return_to,omitempty"`  // explicit target after the nested run
}
