package schema

import "time"

// StreamEvent is a progress, delta or widget event emitted during execution.
type StreamEvent struct {
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id,omitempty"`
	NodeSlug  string    `json:"node_slug,omitempty"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
