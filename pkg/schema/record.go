package schema

import (
	"encoding/json"
	"time"
)

// RunEvent is an append-only entry of a run's audit log.
type RunEvent struct {
	ID        int64           `json:"id,omitempty"`
	ThreadID  string          `json:"thread_id"`
	RunID     string          `json:"run_id"`
	NodeSlug  string          `json:"node_slug,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Sequence  int64           `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
}

// Diagnostic is a non-fatal problem observed while executing a step.
type Diagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StepRecord is the audit-trail entry written for every executed step.
type StepRecord struct {
	ID          string          `json:"id"`
	ThreadID    string          `json:"thread_id"`
	RunID       string          `json:"run_id"`
	NodeSlug    string          `json:"node_slug"`
	Kind        NodeKind        `json:"kind"`
	Title       string          `json:"title,omitempty"`
	OutputText  string          `json:"output_text,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	CreatedAt   time.Time       `json:"created_at"`
}
