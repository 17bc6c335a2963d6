package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/rendis/chatflow/internal/store"
	"github.com/rendis/chatflow/pkg/schema"
)

// TransitionHook is called before or after a run status transition.
type TransitionHook func(threadID string, from, to schema.RunStatus) error

type hookKey struct {
	from, to schema.RunStatus
}

// ValidRunTransitions defines the allowed run status transitions. A failed
// run may be resumed manually from its last successful snapshot.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:   {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:   {schema.RunStatusSuspended, schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusSuspended: {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusFailed:    {schema.RunStatusRunning},
	schema.RunStatusCompleted: {},
}

// RunFSM validates run status transitions and appends the matching run
// event. A nil appender disables event emission.
type RunFSM struct {
	mu       sync.Mutex
	appender store.EventAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender store.EventAppender) *RunFSM {
	return &RunFSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to and appends the run event for to. ev
// carries the thread, run and node the event belongs to; its Type is set
// here. payload is optional.
func (f *RunFSM) Transition(ctx context.Context, ev schema.RunEvent, from, to schema.RunStatus, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"thread_id": ev.ThreadID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(ev.ThreadID, from, to); err != nil {
			return err
		}
	}

	if f.appender != nil {
		ev.Type = runEventType(from, to)
		if payload != nil {
			data, err := sonic.ConfigStd.Marshal(payload)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeSerialization, "encode run event payload: %s", err.Error()).WithCause(err)
			}
			ev.Payload = data
		}
		if err := f.appender.AppendEvent(ctx, &ev); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(ev.ThreadID, from, to); err != nil {
			return err
		}
	}
	return nil
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to schema.RunStatus) bool {
	return slices.Contains(ValidRunTransitions[from], to)
}

func runEventType(from, to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		if from == schema.RunStatusPending {
			return schema.EventRunStarted
		}
		return schema.EventRunResumed
	case schema.RunStatusSuspended:
		return schema.EventRunSuspended
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	default:
		return schema.EventRunFailed
	}
}
