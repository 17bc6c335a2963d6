// Package engine drives workflow runs: it walks the graph one node at a
// time, applies step results to the run context, selects transitions,
// manages nested workflow calls and persists a snapshot after every step.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rendis/chatflow/internal/conversation"
	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/internal/logging"
	"github.com/rendis/chatflow/internal/metrics"
	"github.com/rendis/chatflow/internal/runstate"
	"github.com/rendis/chatflow/internal/steps"
	"github.com/rendis/chatflow/internal/store"
	"github.com/rendis/chatflow/pkg/schema"
)

// Defaults for Config.
const (
	DefaultMaxCallDepth = 8
	DefaultMaxSteps     = 256
)

// Config holds the runner limits.
type Config struct {
	MaxCallDepth int // nested workflow frames
	MaxSteps     int // executed nodes per Run or Resume invocation
}

func (c Config) withDefaults() Config {
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = DefaultMaxCallDepth
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	return c
}

// DefinitionProvider resolves workflows called by sub_workflow nodes.
type DefinitionProvider interface {
	Get(ctx context.Context, slug, version string) (*schema.WorkflowDefinition, error)
}

// DefinitionValidator is the authoring-side validation the runner repeats
// before executing a definition.
type DefinitionValidator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}

// Deps are the runner's infrastructure collaborators. Only Snapshots is
// required.
type Deps struct {
	Snapshots   store.SnapshotStore
	Events      store.EventAppender
	Definitions DefinitionProvider
	Initializer *conversation.Initializer
	Validator   DefinitionValidator
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

// Request starts a run on a thread.
type Request struct {
	ThreadID     string
	SourceItemID string
	Message      *conversation.UserMessage
	History      []conversation.ThreadItem
	Input        map[string]any
}

// RunResult is what Run and Resume return. A run that fails is reported
// through Status and Error, not through the Go error.
type RunResult struct {
	ThreadID         string            `json:"thread_id"`
	RunID            string            `json:"run_id"`
	WorkflowSlug     string            `json:"workflow_slug"`
	Status           schema.RunStatus  `json:"status"`
	CurrentSlug      string            `json:"current_slug,omitempty"`
	PendingSlug      string            `json:"pending_slug,omitempty"`
	OutputText       string            `json:"output_text,omitempty"`
	OutputStructured any               `json:"output_structured,omitempty"`
	State            map[string]any    `json:"state,omitempty"`
	History          []schema.Message  `json:"history,omitempty"`
	Error            *schema.FlowError `json:"error,omitempty"`
	Steps            int               `json:"steps"`
	Stopped          bool              `json:"stopped,omitempty"` // suspended by Stop or cancellation
}

// ThreadStatus is the persisted state of a thread plus whether a run is
// executing on it in this process.
type ThreadStatus struct {
	Snapshot *schema.RuntimeSnapshot `json:"snapshot"`
	Active   bool                    `json:"active"`
}

// Runner executes workflow runs. Runs on different threads execute
// concurrently; a thread has at most one active run.
type Runner struct {
	deps   Deps
	collab steps.Collaborators
	cfg    Config
	fsm    *RunFSM
	guards *expressions.ConditionEvaluator
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	runID string
	stop  atomic.Bool
}

// NewRunner creates a Runner. collab carries the processor collaborators;
// its Graph is replaced per definition.
func NewRunner(deps Deps, collab steps.Collaborators, cfg Config) (*Runner, error) {
	if deps.Snapshots == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "runner requires a snapshot store")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Initializer == nil {
		deps.Initializer = conversation.NewInitializer(conversation.CanonicalConverter{}, 0, deps.Logger)
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	return &Runner{
		deps:   deps,
		collab: collab.WithDefaults(),
		cfg:    cfg.withDefaults(),
		fsm:    NewRunFSM(deps.Events),
		guards: expressions.NewConditionEvaluator(cel, deps.Logger),
		logger: deps.Logger.With(slog.String("component", "runner")),
		active: make(map[string]*activeRun),
	}, nil
}

// FSM exposes the run state machine so callers can register hooks.
func (r *Runner) FSM() *RunFSM { return r.fsm }

// Run starts a fresh run of def on req.ThreadID. A thread whose last run is
// still resumable must be resumed instead.
func (r *Runner) Run(ctx context.Context, def *schema.WorkflowDefinition, req Request) (*RunResult, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if req.ThreadID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "thread id is required")
	}
	if err := r.checkDefinition(def); err != nil {
		return nil, err
	}
	start, _ := def.Start()

	prev, err := r.deps.Snapshots.Load(ctx, req.ThreadID)
	switch {
	case err == nil && !prev.Status.Terminal():
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"thread %s has a %s run; resume it instead", req.ThreadID, prev.Status)
	case err != nil && !schema.IsCode(err, schema.ErrCodeNotFound):
		return nil, schema.AsFlowError(err, schema.ErrCodeStore)
	}

	handle, err := r.acquire(req.ThreadID)
	if err != nil {
		return nil, err
	}
	defer r.release(req.ThreadID)

	rc, err := r.deps.Initializer.Build(ctx, conversation.Request{
		ThreadID:     req.ThreadID,
		SourceItemID: req.SourceItemID,
		Message:      req.Message,
		History:      req.History,
		Input:        req.Input,
	})
	if err != nil {
		return nil, err
	}
	rc.RunID = uuid.NewString()
	rc.WorkflowSlug = def.Slug
	rc.WorkflowVersion = def.Version
	rc.CurrentSlug = start.Slug
	handle.runID = rc.RunID

	ex := &execution{rc: rc, root: def, def: def, status: schema.RunStatusPending, handle: handle}
	ctx = logging.WithRunID(logging.WithThreadID(ctx, rc.ThreadID), rc.RunID)

	if err := r.transition(ctx, ex, schema.RunStatusRunning, nil); err != nil {
		return nil, err
	}
	r.deps.Metrics.RunStarted()
	r.emit(ctx, ex, "", schema.EventRunStarted, map[string]any{"workflow_slug": def.Slug})
	r.logger.InfoContext(ctx, "run started", slog.String("workflow", def.Slug))

	if err := r.save(ctx, ex); err != nil {
		return r.fail(ctx, ex, err), nil
	}
	return r.drive(ctx, ex), nil
}

// Resume continues a suspended (or failed) run of threadID. def is the
// workflow the thread was started with; nested workflows on the call stack
// are resolved through the definition provider. input is exposed to guards
// as `input` and, when the run was suspended by a node, merged into state
// under that node's slug. The suspending node is not executed again.
//
// A persisted running snapshot with no active run in this runner belongs to
// an interrupted process and is resumed like a stopped run.
func (r *Runner) Resume(ctx context.Context, threadID string, def *schema.WorkflowDefinition, input map[string]any) (*RunResult, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	handle, err := r.acquire(threadID)
	if err != nil {
		return nil, err
	}
	defer r.release(threadID)

	snap, err := r.deps.Snapshots.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	status := snap.Status
	if status == schema.RunStatusRunning {
		// The thread is not active here, so the process that ran it stopped
		// mid-run. Continue like a stopped run, at the node after the last
		// saved step.
		r.logger.WarnContext(ctx, "recovering interrupted run",
			slog.String("thread_id", threadID), slog.String("current_slug", snap.CurrentSlug))
		status = schema.RunStatusSuspended
		snap.PendingSlug = ""
		snap.PendingHint = ""
	}
	if !CanTransition(status, schema.RunStatusRunning) {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"thread %s cannot be resumed from status %s", threadID, snap.Status)
	}
	rootSlug := snap.WorkflowSlug
	if len(snap.CallStack) > 0 {
		rootSlug = snap.CallStack[0].WorkflowSlug
	}
	if rootSlug != def.Slug {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"thread %s runs workflow %s, not %s", threadID, rootSlug, def.Slug)
	}
	if err := r.checkDefinition(def); err != nil {
		return nil, err
	}

	rc, err := r.deps.Initializer.Build(ctx, conversation.Request{ThreadID: threadID, Snapshot: snap, Input: input})
	if err != nil {
		return nil, err
	}
	handle.runID = rc.RunID

	ex := &execution{rc: rc, root: def, status: status, handle: handle, lastSaved: snap}
	ctx = logging.WithRunID(logging.WithThreadID(ctx, threadID), rc.RunID)

	ex.def, err = r.resolve(ctx, ex, rc.WorkflowSlug, rc.WorkflowVersion)
	if err != nil {
		return nil, err
	}

	if err := r.transition(ctx, ex, schema.RunStatusRunning, map[string]any{"pending_slug": rc.PendingSlug}); err != nil {
		return nil, err
	}
	r.deps.Metrics.RunStarted()
	r.emit(ctx, ex, rc.PendingSlug, schema.EventRunResumed, map[string]any{"pending_slug": rc.PendingSlug})
	r.logger.InfoContext(ctx, "run resumed",
		slog.String("workflow", rc.WorkflowSlug), slog.String("pending_slug", rc.PendingSlug))

	if pending := rc.PendingSlug; pending != "" {
		if err := r.continuePending(ctx, ex, pending, input); err != nil {
			return r.fail(ctx, ex, err), nil
		}
		if err := r.save(ctx, ex); err != nil {
			return r.fail(ctx, ex, err), nil
		}
	}
	return r.drive(ctx, ex), nil
}

// continuePending records the resume input for the node that suspended the
// run and moves past it without executing it again.
func (r *Runner) continuePending(ctx context.Context, ex *execution, pending string, input map[string]any) error {
	rc := ex.rc
	node, ok := ex.def.Node(pending)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeGraphValidation, "suspended node %q is not in workflow %s", pending, ex.def.Slug)
	}
	if len(input) > 0 {
		existing, _ := rc.State[pending].(map[string]any)
		rc.State[pending] = runstate.DeepMerge(existing, input)
	}
	hint := rc.PendingHint
	rc.PendingSlug = ""
	rc.PendingHint = ""
	return r.advance(ctx, ex, node, hint)
}

// Stop asks the active run of threadID to suspend at its next step
// boundary. The step in flight is allowed to finish. Reports whether a run
// was active.
func (r *Runner) Stop(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.active[threadID]
	if ok {
		h.stop.Store(true)
	}
	return ok
}

// Status returns the persisted snapshot of threadID.
func (r *Runner) Status(ctx context.Context, threadID string) (*ThreadStatus, error) {
	snap, err := r.deps.Snapshots.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	_, active := r.active[threadID]
	r.mu.Unlock()
	return &ThreadStatus{Snapshot: snap, Active: active}, nil
}

func (r *Runner) acquire(threadID string) (*activeRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[threadID]; busy {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "thread %s already has an active run", threadID)
	}
	h := &activeRun{}
	r.active[threadID] = h
	return h, nil
}

func (r *Runner) release(threadID string) {
	r.mu.Lock()
	delete(r.active, threadID)
	r.mu.Unlock()
}

// checkDefinition repeats the authoring validation when a validator is
// configured and always requires a start node.
func (r *Runner) checkDefinition(def *schema.WorkflowDefinition) error {
	if r.deps.Validator != nil {
		if err := r.deps.Validator.ValidateDefinition(def); err != nil {
			return schema.AsFlowError(err, schema.ErrCodeGraphValidation)
		}
	}
	if _, ok := def.Start(); !ok {
		return schema.NewErrorf(schema.ErrCodeGraphValidation, "workflow %s has no start node", def.Slug)
	}
	return nil
}

// resolve returns the definition for slug: the root definition when it
// matches, otherwise the provider's.
func (r *Runner) resolve(ctx context.Context, ex *execution, slug, version string) (*schema.WorkflowDefinition, error) {
	if slug == ex.root.Slug && (version == "" || version == ex.root.Version) {
		return ex.root, nil
	}
	if r.deps.Definitions == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not available: no definition provider", slug)
	}
	def, err := r.deps.Definitions.Get(ctx, slug, version)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeNotFound)
	}
	if err := r.checkDefinition(def); err != nil {
		return nil, err
	}
	return def, nil
}
