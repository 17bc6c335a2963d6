package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rendis/chatflow/internal/steps"
	"github.com/rendis/chatflow/pkg/schema"
)

type memEvents struct {
	mu     sync.Mutex
	err    error
	events []schema.RunEvent
}

func (m *memEvents) AppendEvent(_ context.Context, ev *schema.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	ev.Sequence = int64(len(m.events) + 1)
	ev.Timestamp = time.Now().UTC()
	m.events = append(m.events, *ev)
	return nil
}

func (m *memEvents) all() []schema.RunEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.RunEvent(nil), m.events...)
}

func (m *memEvents) types() []string {
	var out []string
	for _, ev := range m.all() {
		out = append(out, ev.Type)
	}
	return out
}

// memSnapshots round-trips snapshots through the wire encoding so tests see
// what a real store would return.
type memSnapshots struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{data: make(map[string][]byte)}
}

func (m *memSnapshots) Save(_ context.Context, s *schema.RuntimeSnapshot) error {
	data, err := schema.EncodeSnapshot(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.ThreadID] = data
	m.saves++
	return nil
}

func (m *memSnapshots) Load(_ context.Context, threadID string) (*schema.RuntimeSnapshot, error) {
	m.mu.Lock()
	data, ok := m.data[threadID]
	m.mu.Unlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "snapshot %s not found", threadID)
	}
	return schema.DecodeSnapshot(data)
}

func (m *memSnapshots) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, threadID)
	return nil
}

func (m *memSnapshots) ListFinished(context.Context, time.Time) ([]string, error) {
	return nil, nil
}

func (m *memSnapshots) get(t *testing.T, threadID string) *schema.RuntimeSnapshot {
	t.Helper()
	s, err := m.Load(context.Background(), threadID)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

type agentFunc func(ctx context.Context, req steps.AgentRequest) (*steps.AgentResponse, error)

// scriptedAgents answers by agent key and records the order of calls.
type scriptedAgents struct {
	mu    sync.Mutex
	byKey map[string]agentFunc
	calls []string
}

func newScriptedAgents() *scriptedAgents {
	return &scriptedAgents{byKey: make(map[string]agentFunc)}
}

func (a *scriptedAgents) on(key string, fn agentFunc) *scriptedAgents {
	a.byKey[key] = fn
	return a
}

func (a *scriptedAgents) reply(key, text string) *scriptedAgents {
	return a.on(key, func(context.Context, steps.AgentRequest) (*steps.AgentResponse, error) {
		return &steps.AgentResponse{Text: text}, nil
	})
}

func (a *scriptedAgents) Invoke(ctx context.Context, req steps.AgentRequest) (*steps.AgentResponse, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req.AgentKey)
	fn, ok := a.byKey[req.AgentKey]
	a.mu.Unlock()
	if !ok {
		return &steps.AgentResponse{Text: req.AgentKey + " says hi"}, nil
	}
	return fn(ctx, req)
}

func (a *scriptedAgents) invoked() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

type countingWidgets struct {
	mu       sync.Mutex
	streamed []string
}

func (w *countingWidgets) Stream(_ context.Context, _ steps.Invocation, d steps.WidgetDescription) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.streamed = append(w.streamed, d.NodeSlug)
	return nil
}

func (w *countingWidgets) ShouldSuspend(d steps.WidgetDescription) bool { return d.Interactive }

type memRecorder struct {
	mu   sync.Mutex
	recs []schema.StepRecord
}

func (m *memRecorder) RecordStep(_ context.Context, rec schema.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) slugs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.recs))
	for i, r := range m.recs {
		out[i] = r.NodeSlug
	}
	return out
}

type streamCollector struct {
	mu     sync.Mutex
	events []schema.StreamEvent
}

func (s *streamCollector) Emit(_ context.Context, ev schema.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *streamCollector) has(typ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

type mapDefinitions map[string]*schema.WorkflowDefinition

func (m mapDefinitions) Get(_ context.Context, slug, _ string) (*schema.WorkflowDefinition, error) {
	def, ok := m[slug]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", slug)
	}
	return def, nil
}

// --- definition builders ---

func workflow(slug string, nodes []schema.Node, edges ...schema.Edge) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{Slug: slug, Version: "1", Nodes: nodes, Edges: edges}
}

func node(t *testing.T, slug string, kind schema.NodeKind, params any) schema.Node {
	t.Helper()
	n := schema.Node{Slug: slug, Kind: kind, IsEnabled: true}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			t.Fatal(err)
		}
		n.Parameters = data
	}
	return n
}

func agentNode(t *testing.T, slug, key string) schema.Node {
	return node(t, slug, schema.NodeKindAgent, schema.AgentParams{AgentKey: key})
}

func setStateNode(t *testing.T, slug string, assignments ...schema.Assignment) schema.Node {
	return node(t, slug, schema.NodeKindSetState, schema.SetStateParams{Assignments: assignments})
}

func edge(source, target string) schema.Edge {
	return schema.Edge{Source: source, Target: target}
}

func guarded(source, target, condition string) schema.Edge {
	return schema.Edge{Source: source, Target: target, Condition: condition}
}

func assign(target, expression string) schema.Assignment {
	return schema.Assignment{Target: target, Expression: expression}
}
