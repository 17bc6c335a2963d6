// Package steps implements one processor per node kind. Processors read the
// run context and talk to collaborators; they never mutate the context
// themselves. The runner applies the returned Result.
package steps

import (
	"github.com/rendis/chatflow/internal/runstate"
	"github.com/rendis/chatflow/pkg/schema"
)

// Invocation identifies the run and node a collaborator call belongs to. It
// is passed explicitly to every collaborator so correlation never depends on
// goroutine or thread-local state.
type Invocation struct {
	ThreadID     string `json:"thread_id"`
	RunID        string `json:"run_id"`
	WorkflowSlug string `json:"workflow_slug"`
	NodeSlug     string `json:"node_slug"`
	Depth        int    `json:"depth"`
}

// Input is what a processor receives for one node execution.
type Input struct {
	Node       *schema.Node
	Run        *runstate.RunContext // read only
	Invocation Invocation
}

// StateUpdate assigns Value at the dotted Path of run state.
type StateUpdate struct {
	Path  string
	Value any
}

// SubWorkflowCall asks the runner to execute a nested workflow.
type SubWorkflowCall struct {
	WorkflowSlug string
	Version      string
	Input        any
	ReturnTo     string
}

// Result is the outcome of one processor invocation. It is consumed by the
// runner immediately and then discarded.
type Result struct {
	OutputText       string
	OutputStructured any

	// GeneratedImageURLs replaces the run's last generated image URLs when
	// non-nil. A non-nil empty slice clears them.
	GeneratedImageURLs []string

	ShouldSuspend bool
	NextEdgeHint  string // target slug preferred over guard evaluation

	Messages     []schema.Message
	StateUpdates []StateUpdate
	Call         *SubWorkflowCall
	Diagnostics  []schema.Diagnostic
}

// HasOutput reports whether the step produced conversational output.
func (r *Result) HasOutput() bool {
	return r.OutputText != "" || r.OutputStructured != nil
}

func (r *Result) diagnose(code, message string) {
	r.Diagnostics = append(r.Diagnostics, schema.Diagnostic{Code: code, Message: message})
}
