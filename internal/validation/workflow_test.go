package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rendis/chatflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRegistry map[string]bool

func (m mapRegistry) Has(key string) bool { return m[key] }

func newValidator(t *testing.T, agents AgentRegistry) *WorkflowValidator {
	t.Helper()
	v, err := NewWorkflowValidator(agents)
	require.NoError(t, err)
	return v
}

func node(slug string, kind schema.NodeKind, params string) schema.Node {
	n := schema.Node{Slug: slug, Kind: kind, IsEnabled: true}
	if params != "" {
		n.Parameters = json.RawMessage(params)
	}
	return n
}

func linearDef(middle schema.Node) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Slug: "flow",
		Nodes: []schema.Node{
			node("start", schema.NodeKindStart, ""),
			middle,
			node("end", schema.NodeKindEnd, ""),
		},
		Edges: []schema.Edge{
			{Source: "start", Target: middle.Slug},
			{Source: middle.Slug, Target: "end"},
		},
	}
}

func hasMessage(issues []schema.ValidationIssue, substr string) bool {
	for _, is := range issues {
		if strings.Contains(is.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidate_ValidDefinition(t *testing.T) {
	v := newValidator(t, mapRegistry{"support": true})
	def := linearDef(node("triage", schema.NodeKindAgent, `{"agent_key":"support"}`))

	r := v.Validate(def)
	assert.True(t, r.Valid(), "%+v", r.Errors)
	assert.Empty(t, r.Warnings)
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidate_UnknownAgentKeyFailsBeforeRun(t *testing.T) {
	v := newValidator(t, mapRegistry{"support": true})
	def := linearDef(node("agent", schema.NodeKindAgent, `{"agent_key":"voice"}`))

	err := v.ValidateDefinition(def)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeGraphValidation))
	assert.Contains(t, err.Error(), `agent "voice" is not in the supported agent registry`)
}

func TestValidate_NilRegistrySkipsAgentCheck(t *testing.T) {
	v := newValidator(t, nil)
	def := linearDef(node("agent", schema.NodeKindAgent, `{"agent_key":"anything"}`))
	assert.True(t, v.Validate(def).Valid())
}

func TestValidate_Structural(t *testing.T) {
	v := newValidator(t, nil)

	r := v.Validate(nil)
	assert.False(t, r.Valid())

	r = v.Validate(&schema.WorkflowDefinition{Slug: "empty"})
	assert.False(t, r.Valid())

	def := linearDef(node("bad slug!", schema.NodeKindSetState, ""))
	r = v.Validate(def)
	assert.False(t, r.Valid())
}

func TestValidate_Semantic(t *testing.T) {
	v := newValidator(t, mapRegistry{"a": true})

	tests := []struct {
		name   string
		mutate func(d *schema.WorkflowDefinition)
		want   string
	}{
		{"two starts", func(d *schema.WorkflowDefinition) {
			d.Nodes = append(d.Nodes, node("start2", schema.NodeKindStart, ""))
		}, "exactly one start node required, found 2"},
		{"no start", func(d *schema.WorkflowDefinition) {
			d.Nodes[0].Kind = schema.NodeKindSetState
		}, "found 0"},
		{"duplicate slug", func(d *schema.WorkflowDefinition) {
			d.Nodes = append(d.Nodes, node("mid", schema.NodeKindEnd, ""))
		}, "duplicate node slug"},
		{"unknown kind", func(d *schema.WorkflowDefinition) {
			d.Nodes[1].Kind = "python"
		}, "unknown node kind"},
		{"end with outgoing edge", func(d *schema.WorkflowDefinition) {
			d.Edges = append(d.Edges, schema.Edge{Source: "end", Target: "mid"})
		}, "cannot have outgoing edges"},
		{"dangling target", func(d *schema.WorkflowDefinition) {
			d.Edges = append(d.Edges, schema.Edge{Source: "mid", Target: "ghost"})
		}, `non-existent node "ghost"`},
		{"bad guard", func(d *schema.WorkflowDefinition) {
			d.Edges[1].Condition = "state.x =="
		}, "invalid guard"},
		{"macro guard", func(d *schema.WorkflowDefinition) {
			d.Edges[1].Condition = "has(state.x)"
		}, "invalid guard"},
		{"missing parent", func(d *schema.WorkflowDefinition) {
			d.Nodes[1].ParentSlug = "nowhere"
		}, "non-existent node \"nowhere\""},
		{"bad parameters", func(d *schema.WorkflowDefinition) {
			d.Nodes[1].Parameters = json.RawMessage(`{"assignments":"nope"}`)
		}, "invalid set_state parameters"},
		{"empty assignment", func(d *schema.WorkflowDefinition) {
			d.Nodes[1].Parameters = json.RawMessage(`{"assignments":[{"target":"x"}]}`)
		}, "target and expression are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := linearDef(node("mid", schema.NodeKindSetState,
				`{"assignments":[{"target":"x","expression":"1"}]}`))
			tt.mutate(def)
			r := v.Validate(def)
			assert.False(t, r.Valid())
			assert.True(t, hasMessage(r.Errors, tt.want), "want %q in %+v", tt.want, r.Errors)
		})
	}
}

func TestValidate_KindParameters(t *testing.T) {
	v := newValidator(t, mapRegistry{"a": true})

	tests := []struct {
		name string
		node schema.Node
		want string
	}{
		{"agent needs key", node("n", schema.NodeKindAgent, `{}`), "agent_key is required"},
		{"voice agent unknown key", node("n", schema.NodeKindVoiceAgent, `{"agent_key":"b"}`), "not in the supported agent registry"},
		{"outbound needs number", node("n", schema.NodeKindOutboundCall, `{}`), "to_number"},
		{"ingest needs store", node("n", schema.NodeKindVectorStoreIngest, `{}`), "store_slug is required"},
		{"widget needs slug", node("n", schema.NodeKindWidget, `{}`), "widget slug is required"},
		{"sub workflow needs slug", node("n", schema.NodeKindSubWorkflow, `{}`), "workflow_slug is required"},
		{"agent ingest block", node("n", schema.NodeKindAgent, `{"agent_key":"a","vector_store":{}}`), "store_slug is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.Validate(linearDef(tt.node))
			assert.True(t, hasMessage(r.Errors, tt.want), "want %q in %+v", tt.want, r.Errors)
		})
	}
}

func TestValidate_GraphWarnings(t *testing.T) {
	v := newValidator(t, nil)
	def := &schema.WorkflowDefinition{
		Slug: "flow",
		Nodes: []schema.Node{
			node("start", schema.NodeKindStart, ""),
			node("loop", schema.NodeKindWidget, `{"slug":"w"}`),
			node("orphan", schema.NodeKindEnd, ""),
		},
		Edges: []schema.Edge{
			{Source: "start", Target: "loop"},
			{Source: "loop", Target: "loop"},
		},
	}

	r := v.Validate(def)
	assert.True(t, r.Valid(), "cycles and orphans are not errors")
	assert.True(t, hasMessage(r.Warnings, `"orphan" is unreachable`))
	assert.True(t, hasMessage(r.Warnings, "no end node is reachable"))

	def.Edges = def.Edges[:1]
	r = v.Validate(def)
	assert.True(t, hasMessage(r.Warnings, "has no outgoing edges"))
}

func TestValidateValue(t *testing.T) {
	v := newValidator(t, nil)
	contract := []byte(`{"type":"object","required":["intent"],"properties":{"intent":{"type":"string"},"score":{"type":"number"}}}`)

	assert.NoError(t, v.ValidateValue(map[string]any{"intent": "refund", "score": 0.5}, contract))
	assert.NoError(t, v.ValidateValue("anything", nil))

	err := v.ValidateValue(map[string]any{"score": "high"}, contract)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = v.ValidateValue(map[string]any{}, []byte(`{"type": 12}`))
	require.Error(t, err)
}
