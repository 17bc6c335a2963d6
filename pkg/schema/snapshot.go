package schema

import (
	"time"

	"github.com/bytedance/sonic"
)

// RuntimeSnapshot is the persisted, resumable capture of a run.
type RuntimeSnapshot struct {
	ThreadID        string         `json:"thread_id"`
	RunID           string         `json:"run_id"`
	WorkflowSlug    string         `json:"workflow_slug"`
	WorkflowVersion string         `json:"workflow_version,omitempty"`
	CurrentSlug     string         `json:"current_slug"`
	PendingSlug     string         `json:"pending_slug,omitempty"` // node that asked to suspend
	PendingHint     string         `json:"pending_hint,omitempty"` // edge target handed off by the pending node
	Status          RunStatus      `json:"status"`
	State           map[string]any `json:"state"`
	History         []Message      `json:"history"`
	CallStack       []CallFrame    `json:"call_stack,omitempty"`
	LastStep        *StepContext   `json:"last_step,omitempty"`
	Error           *FlowError     `json:"error,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CallFrame records the caller of a nested workflow.
type CallFrame struct {
	WorkflowSlug    string         `json:"workflow_slug"`
	WorkflowVersion string         `json:"workflow_version,omitempty"`
	CallerSlug      string         `json:"caller_slug"`
	ReturnEdge      *Edge          `json:"return_edge,omitempty"`
	StateSnapshot   map[string]any `json:"state_snapshot"`
}

// StepContext summarizes the most recent completed step.
type StepContext struct {
	Slug             string   `json:"slug"`
	Kind             NodeKind `json:"kind"`
	OutputText       string   `json:"output_text,omitempty"`
	OutputStructured any      `json:"output_structured,omitempty"`
}

// AsMap exposes the step context to expressions.
func (c *StepContext) AsMap() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return map[string]any{
		"slug":              c.Slug,
		"kind":              string(c.Kind),
		"output_text":       c.OutputText,
		"output_structured": c.OutputStructured,
	}
}

// EncodeSnapshot serializes a snapshot for persistence.
func EncodeSnapshot(s *RuntimeSnapshot) ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(s)
	if err != nil {
		return nil, NewErrorf(ErrCodeStore, "encode snapshot: %s", err.Error()).WithCause(err)
	}
	return data, nil
}

// DecodeSnapshot restores a snapshot produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*RuntimeSnapshot, error) {
	var s RuntimeSnapshot
	if err := sonic.ConfigStd.Unmarshal(data, &s); err != nil {
		return nil, NewErrorf(ErrCodeStore, "decode snapshot: %s", err.Error()).WithCause(err)
	}
	if s.State == nil {
		s.State = map[string]any{}
	}
	return &s, nil
}
