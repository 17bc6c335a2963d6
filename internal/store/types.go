package store

import (
	"time"

	"github.com/rendis/chatflow/pkg/schema"
)

// EventFilter narrows EventsByType queries.
type EventFilter struct {
	ThreadID string
	RunID    string
	NodeSlug string
	Since    *time.Time
	Limit    int
}

// RunSummary is the outcome of one run reconstructed from the event log.
type RunSummary struct {
	RunID          string           `json:"run_id"`
	Status         schema.RunStatus `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        *time.Time       `json:"ended_at,omitempty"`
	StepsCompleted int              `json:"steps_completed"`
	StepsFailed    int              `json:"steps_failed"`
	LastNode       string           `json:"last_node,omitempty"`
}
