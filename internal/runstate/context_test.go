package runstate

import (
	"testing"

	"github.com/rendis/chatflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunContext_SnapshotRoundTrip(t *testing.T) {
	rc := New("thread-1")
	rc.RunID = "run-1"
	rc.WorkflowSlug = "support"
	rc.CurrentSlug = "pick"
	rc.PendingSlug = "pick"
	rc.State["topic"] = map[string]any{"name": "billing"}
	rc.AppendMessages(schema.UserText("m1", "hello"))
	rc.CallStack = []schema.CallFrame{{
		WorkflowSlug:  "parent",
		CallerSlug:    "call",
		ReturnEdge:    &schema.Edge{Source: "call", Target: "after"},
		StateSnapshot: map[string]any{"a": "b"},
	}}
	rc.LastStep = &schema.StepContext{Slug: "triage", Kind: schema.NodeKindAgent, OutputText: "ok"}

	snap := rc.Snapshot(schema.RunStatusSuspended)
	assert.Equal(t, schema.RunStatusSuspended, snap.Status)
	assert.False(t, snap.UpdatedAt.IsZero())

	// snapshot is detached from the live context
	rc.State["topic"].(map[string]any)["name"] = "changed"
	rc.History[0].Content[0].Text = "changed"
	rc.CallStack[0].ReturnEdge.Target = "changed"
	assert.Equal(t, "billing", snap.State["topic"].(map[string]any)["name"])
	assert.Equal(t, "hello", snap.History[0].Content[0].Text)
	assert.Equal(t, "after", snap.CallStack[0].ReturnEdge.Target)

	restored := FromSnapshot(snap)
	assert.Equal(t, "pick", restored.CurrentSlug)
	assert.Equal(t, "pick", restored.PendingSlug)
	assert.Equal(t, 1, restored.Depth())
	assert.Equal(t, snap.History, restored.History)
	require.NotNil(t, restored.LastStep)
	assert.Equal(t, "triage", restored.LastStep.Slug)
	assert.NotNil(t, restored.Input)
}

func TestRunContext_Scope(t *testing.T) {
	rc := New("t")
	rc.State["x"] = 1
	rc.Input = nil

	scope := rc.Scope()
	assert.Equal(t, rc.State, scope["state"])
	assert.Equal(t, map[string]any{}, scope["input"])
	assert.Equal(t, map[string]any{}, scope["last"])
}
