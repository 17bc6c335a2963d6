package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/chatflow/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-thread sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *schema.RunEvent) error {
	if event.ThreadID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run event requires a thread id")
	}
	return el.store.AppendEvent(ctx, event)
}

// Events returns events for a thread with sequence > since, ordered by sequence ASC.
func (el *EventLog) Events(ctx context.Context, threadID string, since int64) ([]*schema.RunEvent, error) {
	return el.store.Events(ctx, threadID, since)
}

// EventsByType returns events of a specific type matching the filter.
func (el *EventLog) EventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*schema.RunEvent, error) {
	return el.store.EventsByType(ctx, eventType, filter)
}

// ReplayRuns folds the event log of a thread into one summary per run, in
// start order. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayRuns(ctx context.Context, threadID string) ([]RunSummary, error) {
	events, err := el.store.Events(ctx, threadID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in thread %s: expected %d, got %d", threadID, expected, e.Sequence)
		}
	}

	var runs []RunSummary
	index := make(map[string]int)
	for _, e := range events {
		i, ok := index[e.RunID]
		if !ok {
			runs = append(runs, RunSummary{RunID: e.RunID, Status: schema.RunStatusPending, StartedAt: e.Timestamp})
			i = len(runs) - 1
			index[e.RunID] = i
		}
		r := &runs[i]

		switch e.Type {
		case schema.EventRunStarted, schema.EventRunResumed:
			r.Status = schema.RunStatusRunning
			r.EndedAt = nil
		case schema.EventRunSuspended:
			r.Status = schema.RunStatusSuspended
		case schema.EventRunCompleted:
			r.Status = schema.RunStatusCompleted
			r.EndedAt = timePtr(e.Timestamp)
		case schema.EventRunFailed:
			r.Status = schema.RunStatusFailed
			r.EndedAt = timePtr(e.Timestamp)
		case schema.EventStepCompleted:
			r.StepsCompleted++
			r.LastNode = e.NodeSlug
		case schema.EventStepFailed:
			r.StepsFailed++
			r.LastNode = e.NodeSlug
		}
	}
	return runs, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
