package steps

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rendis/chatflow/internal/runstate"
	"github.com/rendis/chatflow/pkg/schema"
)

type fakeAgents struct {
	resp *AgentResponse
	err  error
	reqs []AgentRequest
}

func (f *fakeAgents) Invoke(_ context.Context, req AgentRequest) (*AgentResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

type fakeImages struct {
	prefix string
	err    error
	inv    []Invocation
}

func (f *fakeImages) Consume(_ context.Context, inv Invocation, artifacts []ImageArtifact) ([]string, error) {
	f.inv = append(f.inv, inv)
	if f.err != nil {
		return nil, f.err
	}
	urls := make([]string, len(artifacts))
	for i, a := range artifacts {
		urls[i] = f.prefix + a.ID
	}
	return urls, nil
}

type fakeVectorStore struct {
	err  error
	docs []IngestDocument
}

func (f *fakeVectorStore) Ingest(_ context.Context, _ Invocation, doc IngestDocument) error {
	f.docs = append(f.docs, doc)
	return f.err
}

type fakeWidgets struct {
	suspend  bool
	err      error
	streamed []WidgetDescription
}

func (f *fakeWidgets) Stream(_ context.Context, _ Invocation, w WidgetDescription) error {
	f.streamed = append(f.streamed, w)
	return f.err
}

func (f *fakeWidgets) ShouldSuspend(w WidgetDescription) bool { return f.suspend || w.Interactive }

type fakeEvents struct {
	mu     sync.Mutex
	events []schema.StreamEvent
}

func (f *fakeEvents) Emit(_ context.Context, ev schema.StreamEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type fakeTelephony struct {
	outcome *VoiceOutcome
	err     error
	voice   []VoiceRequest
	calls   []CallRequest
}

func (f *fakeTelephony) StartVoiceSession(_ context.Context, _ Invocation, req VoiceRequest) (*VoiceOutcome, error) {
	f.voice = append(f.voice, req)
	return f.outcome, f.err
}

func (f *fakeTelephony) PlaceCall(_ context.Context, _ Invocation, req CallRequest) (*VoiceOutcome, error) {
	f.calls = append(f.calls, req)
	return f.outcome, f.err
}

type rejectingContracts struct{}

func (rejectingContracts) ValidateValue(any, []byte) error {
	return errors.New("missing required field")
}

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func testInput(n *schema.Node, rc *runstate.RunContext) Input {
	if rc == nil {
		rc = runstate.New("thread-1")
		rc.RunID = "run-1"
	}
	return Input{
		Node: n,
		Run:  rc,
		Invocation: Invocation{
			ThreadID:     rc.ThreadID,
			RunID:        rc.RunID,
			WorkflowSlug: "flow",
			NodeSlug:     n.Slug,
		},
	}
}
