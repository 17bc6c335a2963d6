// Package streaming fans stream events out to live subscribers.
package streaming

import (
	"context"

	"github.com/rendis/chatflow/pkg/schema"
)

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ThreadID   string   `json:"thread_id,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event schema.StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan schema.StreamEvent, func(), error)
}
