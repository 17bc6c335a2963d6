package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/chatflow/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_AppendEvent_MonotonicSequence(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := &schema.RunEvent{ThreadID: "thread-1", RunID: "run-1", NodeSlug: "a", Type: schema.EventStepStarted}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.False(t, e.Timestamp.IsZero())
	}

	// Sequences are per thread.
	other := &schema.RunEvent{ThreadID: "thread-2", RunID: "run-2", Type: schema.EventRunStarted}
	require.NoError(t, el.AppendEvent(ctx, other))
	assert.Equal(t, int64(1), other.Sequence)
}

func TestEventLog_AppendEvent_RequiresThread(t *testing.T) {
	el, _ := newTestEventLog(t)
	err := el.AppendEvent(context.Background(), &schema.RunEvent{Type: schema.EventRunStarted})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestEventLog_ConcurrentAppend(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = el.AppendEvent(ctx, &schema.RunEvent{ThreadID: "thread-1", RunID: "run-1", Type: schema.EventStepCompleted})
		}()
	}
	wg.Wait()

	events, err := el.Events(ctx, "thread-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventLog_EventsSinceAndPayload(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	require.NoError(t, el.AppendEvent(ctx, &schema.RunEvent{ThreadID: "t", RunID: "r", Type: schema.EventRunStarted}))
	require.NoError(t, el.AppendEvent(ctx, &schema.RunEvent{
		ThreadID: "t", RunID: "r", NodeSlug: "route", Type: schema.EventTransitionTaken,
		Payload: json.RawMessage(`{"to":"billing"}`),
	}))

	events, err := el.Events(ctx, "t", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "route", events[0].NodeSlug)
	assert.JSONEq(t, `{"to":"billing"}`, string(events[0].Payload))
}

func TestEventLog_EventsByType(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	for _, slug := range []string{"a", "b", "a"} {
		require.NoError(t, el.AppendEvent(ctx, &schema.RunEvent{ThreadID: "t", RunID: "r", NodeSlug: slug, Type: schema.EventStepCompleted}))
	}
	require.NoError(t, el.AppendEvent(ctx, &schema.RunEvent{ThreadID: "t", RunID: "r", NodeSlug: "a", Type: schema.EventStepFailed}))

	got, err := el.EventsByType(ctx, schema.EventStepCompleted, EventFilter{ThreadID: "t", NodeSlug: "a"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = el.EventsByType(ctx, schema.EventStepCompleted, EventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEventLog_ReplayRuns(t *testing.T) {
	el, _ := newTestEventLog(t)
	ctx := context.Background()

	appendAll := func(runID string, events ...schema.RunEvent) {
		for i := range events {
			e := events[i]
			e.ThreadID, e.RunID = "thread-1", runID
			require.NoError(t, el.AppendEvent(ctx, &e))
		}
	}
	appendAll("run-1",
		schema.RunEvent{Type: schema.EventRunStarted},
		schema.RunEvent{Type: schema.EventStepCompleted, NodeSlug: "start"},
		schema.RunEvent{Type: schema.EventStepCompleted, NodeSlug: "picker"},
		schema.RunEvent{Type: schema.EventRunSuspended, NodeSlug: "picker"},
		schema.RunEvent{Type: schema.EventRunResumed, NodeSlug: "picker"},
		schema.RunEvent{Type: schema.EventStepCompleted, NodeSlug: "done"},
		schema.RunEvent{Type: schema.EventRunCompleted},
	)
	appendAll("run-2",
		schema.RunEvent{Type: schema.EventRunStarted},
		schema.RunEvent{Type: schema.EventStepFailed, NodeSlug: "assistant"},
		schema.RunEvent{Type: schema.EventRunFailed},
	)

	runs, err := el.ReplayRuns(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, schema.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 3, runs[0].StepsCompleted)
	assert.Equal(t, "done", runs[0].LastNode)
	assert.NotNil(t, runs[0].EndedAt)

	assert.Equal(t, schema.RunStatusFailed, runs[1].Status)
	assert.Equal(t, 1, runs[1].StepsFailed)
	assert.Equal(t, "assistant", runs[1].LastNode)

	empty, err := el.ReplayRuns(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEventLog_ReplayRuns_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	require.NoError(t, el.AppendEvent(ctx, &schema.RunEvent{ThreadID: "t", RunID: "r", Type: schema.EventRunStarted}))
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO run_events (thread_id, run_id, event_type, timestamp, sequence) VALUES (?, ?, ?, ?, ?)`,
		"t", "r", schema.EventRunCompleted, time.Now().UTC(), 3)
	require.NoError(t, err)

	_, err = el.ReplayRuns(ctx, "t")
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}
