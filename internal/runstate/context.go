// Package runstate holds the mutable context of a single workflow run: the
// shared state map, the conversation history and the call stack.
package runstate

import (
	"time"

	"github.com/rendis/chatflow/pkg/schema"
)

// Well-known state keys written by the runner.
const (
	KeyInput                  = "input"
	KeyLastOutputText         = "last_output_text"
	KeyLastOutputStructured   = "last_output_structured"
	KeyLastGeneratedImageURLs = "last_generated_image_urls"
	KeyOutputs                = "outputs"
)

// RunContext is the execution context of one run. It is owned by a single
// runner goroutine and must not be shared.
type RunContext struct {
	ThreadID        string
	RunID           string
	WorkflowSlug    string
	WorkflowVersion string
	CurrentSlug     string
	PendingSlug     string
	PendingHint     string
	State           map[string]any
	History         []schema.Message
	CallStack       []schema.CallFrame
	LastStep        *schema.StepContext

	// Input is the caller input of the current invocation (request input or
	// resume payload). It is visible to guards but not persisted.
	Input map[string]any
}

// New creates an empty context for a fresh run.
func New(threadID string) *RunContext {
	return &RunContext{
		ThreadID: threadID,
		State:    make(map[string]any),
		Input:    make(map[string]any),
	}
}

// FromSnapshot restores a context verbatim from a persisted snapshot. The
// returned context shares no mutable data with the snapshot.
func FromSnapshot(s *schema.RuntimeSnapshot) *RunContext {
	rc := &RunContext{
		ThreadID:        s.ThreadID,
		RunID:           s.RunID,
		WorkflowSlug:    s.WorkflowSlug,
		WorkflowVersion: s.WorkflowVersion,
		CurrentSlug:     s.CurrentSlug,
		PendingSlug:     s.PendingSlug,
		PendingHint:     s.PendingHint,
		State:           DeepCopy(s.State),
		History:         CopyHistory(s.History),
		Input:           make(map[string]any),
	}
	if rc.State == nil {
		rc.State = make(map[string]any)
	}
	for _, f := range s.CallStack {
		rc.CallStack = append(rc.CallStack, copyFrame(f))
	}
	if s.LastStep != nil {
		last := *s.LastStep
		last.OutputStructured = DeepCopyValue(last.OutputStructured)
		rc.LastStep = &last
	}
	return rc
}

// Snapshot captures the context with the given status. The snapshot is an
// independent copy.
func (rc *RunContext) Snapshot(status schema.RunStatus) *schema.RuntimeSnapshot {
	s := &schema.RuntimeSnapshot{
		ThreadID:        rc.ThreadID,
		RunID:           rc.RunID,
		WorkflowSlug:    rc.WorkflowSlug,
		WorkflowVersion: rc.WorkflowVersion,
		CurrentSlug:     rc.CurrentSlug,
		PendingSlug:     rc.PendingSlug,
		PendingHint:     rc.PendingHint,
		Status:          status,
		State:           DeepCopy(rc.State),
		History:         CopyHistory(rc.History),
		UpdatedAt:       time.Now().UTC(),
	}
	for _, f := range rc.CallStack {
		s.CallStack = append(s.CallStack, copyFrame(f))
	}
	if rc.LastStep != nil {
		last := *rc.LastStep
		last.OutputStructured = DeepCopyValue(last.OutputStructured)
		s.LastStep = &last
	}
	return s
}

// AppendMessages appends to the history. History is never truncated.
func (rc *RunContext) AppendMessages(msgs ...schema.Message) {
	rc.History = append(rc.History, msgs...)
}

// Depth is the number of active sub-workflow frames.
func (rc *RunContext) Depth() int {
	return len(rc.CallStack)
}

// Scope exposes the context to guard and binding expressions as the
// variables state, input and last.
func (rc *RunContext) Scope() map[string]any {
	input := rc.Input
	if input == nil {
		input = map[string]any{}
	}
	return map[string]any{
		"state": rc.State,
		"input": input,
		"last":  rc.LastStep.AsMap(),
	}
}

// CopyHistory deep-copies a message sequence.
func CopyHistory(in []schema.Message) []schema.Message {
	if in == nil {
		return nil
	}
	out := make([]schema.Message, len(in))
	for i, m := range in {
		out[i] = schema.Message{ID: m.ID, Role: m.Role, Content: copyBlocks(m.Content)}
	}
	return out
}

func copyBlocks(in []schema.ContentBlock) []schema.ContentBlock {
	if in == nil {
		return nil
	}
	out := make([]schema.ContentBlock, len(in))
	for i, b := range in {
		out[i] = b
		out[i].Content = copyBlocks(b.Content)
	}
	return out
}

func copyFrame(f schema.CallFrame) schema.CallFrame {
	cp := f
	cp.StateSnapshot = DeepCopy(f.StateSnapshot)
	if f.ReturnEdge != nil {
		e := *f.ReturnEdge
		cp.ReturnEdge = &e
	}
	return cp
}
