package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunResumed   = "run_resumed"
	EventRunSuspended = "run_suspended"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"

	EventTransitionTaken = "transition_taken"
	EventCallPushed      = "call_pushed"
	EventCallPopped      = "call_popped"
)

// Stream event types emitted by step processors.
const (
	StreamAssistantMessage = "assistant_message"
	StreamWidget           = "widget"
	StreamIngestFailed     = "ingest_failed"
	StreamVoiceSession     = "voice_session"
	StreamOutboundCall     = "outbound_call"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}
