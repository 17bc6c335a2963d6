package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		Slug: "support",
		Nodes: []Node{
			{Slug: "start", Kind: NodeKindStart, IsEnabled: true},
			{Slug: "triage", Kind: NodeKindAgent, IsEnabled: true,
				Parameters: json.RawMessage(`{"agent_key":"triage","instructions":"route the user"}`)},
			{Slug: "done", Kind: NodeKindEnd, IsEnabled: true},
		},
		Edges: []Edge{
			{Source: "start", Target: "triage"},
			{Source: "triage", Target: "done", Condition: "state.ok"},
			{Source: "triage", Target: "start"},
		},
	}
}

func TestWorkflowDefinition_Lookup(t *testing.T) {
	def := testDefinition()

	start, ok := def.Start()
	require.True(t, ok)
	assert.Equal(t, "start", start.Slug)

	n, ok := def.Node("triage")
	require.True(t, ok)
	assert.Equal(t, NodeKindAgent, n.Kind)

	_, ok = def.Node("missing")
	assert.False(t, ok)

	out := def.Outgoing("triage")
	require.Len(t, out, 2)
	assert.Equal(t, "done", out[0].Target, "declaration order preserved")
	assert.Equal(t, "start", out[1].Target)
	assert.Empty(t, def.Outgoing("done"))
}

func TestNodeKind_Known(t *testing.T) {
	for _, k := range NodeKinds {
		assert.True(t, k.Known(), k)
	}
	assert.False(t, NodeKind("python").Known())
}

func TestNode_DecodeParams(t *testing.T) {
	def := testDefinition()
	n, _ := def.Node("triage")

	var p AgentParams
	require.NoError(t, n.DecodeParams(&p))
	assert.Equal(t, "triage", p.AgentKey)
	assert.Equal(t, "route the user", p.Instructions)

	empty := Node{Slug: "x", Kind: NodeKindWidget}
	var w WidgetParams
	require.NoError(t, empty.DecodeParams(&w))

	bad := Node{Slug: "bad", Kind: NodeKindAgent, Parameters: json.RawMessage(`{"agent_key":`)}
	err := bad.DecodeParams(&p)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeGraphValidation))
	assert.Equal(t, "bad", AsFlowError(err, "").NodeSlug)
}

func TestNode_UnmarshalDefaultsEnabled(t *testing.T) {
	var def WorkflowDefinition
	require.NoError(t, json.Unmarshal([]byte(`{
		"slug": "s",
		"nodes": [
			{"slug": "a", "kind": "start"},
			{"slug": "b", "kind": "widget", "is_enabled": false, "parameters": {"slug": "w"}}
		]
	}`), &def))

	assert.True(t, def.Nodes[0].IsEnabled)
	assert.False(t, def.Nodes[1].IsEnabled)
	assert.JSONEq(t, `{"slug": "w"}`, string(def.Nodes[1].Parameters))
}
