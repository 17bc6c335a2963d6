package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/rendis/chatflow/internal/logging"
	"github.com/rendis/chatflow/internal/metrics"
	"github.com/rendis/chatflow/internal/runstate"
	"github.com/rendis/chatflow/internal/steps"
	"github.com/rendis/chatflow/pkg/schema"
)

// Edge selection modes, also used as metric labels.
const (
	modeHint    = "hint"
	modeGuard   = "guard"
	modeDefault = "default"
	modeReturn  = "return"
)

// execution is the in-flight state of one Run or Resume invocation.
type execution struct {
	rc        *runstate.RunContext
	root      *schema.WorkflowDefinition // workflow the thread was started with
	def       *schema.WorkflowDefinition // workflow of rc.CurrentSlug
	status    schema.RunStatus
	handle    *activeRun
	lastSaved *schema.RuntimeSnapshot
	steps     int
	stopped   bool
}

// drive runs the loop until the run completes, suspends or fails.
func (r *Runner) drive(ctx context.Context, ex *execution) *RunResult {
	rc := ex.rc
	for {
		if ex.handle.stop.Load() || ctx.Err() != nil {
			return r.stop(ctx, ex)
		}
		if ex.steps >= r.cfg.MaxSteps {
			return r.fail(ctx, ex, schema.NewErrorf(schema.ErrCodeExecution,
				"run exceeded %d steps", r.cfg.MaxSteps).WithNode(rc.CurrentSlug))
		}

		node, ok := ex.def.Node(rc.CurrentSlug)
		if !ok {
			return r.fail(ctx, ex, schema.NewErrorf(schema.ErrCodeGraphValidation,
				"node %q not found in workflow %s", rc.CurrentSlug, ex.def.Slug))
		}
		ex.steps++

		if node.Kind == schema.NodeKindEnd {
			if rc.Depth() == 0 {
				return r.complete(ctx, ex)
			}
			if err := r.popCall(ctx, ex); err != nil {
				return r.fail(ctx, ex, err)
			}
		} else if !node.IsEnabled && node.Kind != schema.NodeKindStart {
			r.skip(ctx, ex, node)
			if err := r.advance(ctx, ex, node, ""); err != nil {
				return r.fail(ctx, ex, err)
			}
		} else {
			res, err := r.step(ctx, ex, node)
			if err != nil {
				if ctx.Err() != nil {
					return r.stop(ctx, ex)
				}
				return r.fail(ctx, ex, err)
			}
			switch {
			case res.Call != nil:
				err = r.pushCall(ctx, ex, node, res.Call)
			case res.ShouldSuspend:
				return r.suspend(ctx, ex, node.Slug, res.NextEdgeHint)
			default:
				err = r.advance(ctx, ex, node, res.NextEdgeHint)
			}
			if err != nil {
				return r.fail(ctx, ex, err)
			}
		}

		if err := r.save(ctx, ex); err != nil {
			return r.fail(ctx, ex, err)
		}
	}
}

// step executes node and applies its result to the run context.
func (r *Runner) step(ctx context.Context, ex *execution, node *schema.Node) (*steps.Result, error) {
	rc := ex.rc
	ctx = logging.WithNodeSlug(ctx, node.Slug)
	kind := string(node.Kind)

	c := r.collab
	graph := steps.DefinitionGraph{Def: ex.def}
	c.Graph = graph
	inv := steps.Invocation{
		ThreadID:     rc.ThreadID,
		RunID:        rc.RunID,
		WorkflowSlug: rc.WorkflowSlug,
		NodeSlug:     node.Slug,
		Depth:        rc.Depth(),
	}

	r.appendEvent(ctx, ex, node.Slug, schema.EventStepStarted, map[string]any{"kind": kind})
	r.emit(ctx, ex, node.Slug, schema.EventStepStarted, map[string]any{"kind": kind, "title": graph.Title(node)})

	started := time.Now()
	res, err := steps.Execute(ctx, steps.Input{Node: node, Run: rc, Invocation: inv}, c)
	if err == nil {
		err = r.apply(ex, node, graph, res)
	}
	elapsed := time.Since(started)

	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeExecution)
		if fe.NodeSlug == "" {
			fe.WithNode(node.Slug)
		}
		r.deps.Metrics.StepObserved(kind, metrics.OutcomeFailed, elapsed)
		r.appendEvent(ctx, ex, node.Slug, schema.EventStepFailed, map[string]any{"code": fe.Code, "message": fe.Message})
		r.logger.WarnContext(ctx, "step failed",
			slog.String("kind", kind), slog.String("code", fe.Code), slog.String("error", fe.Message))
		return nil, fe
	}

	outcome := metrics.OutcomeCompleted
	if res.ShouldSuspend {
		outcome = metrics.OutcomeSuspended
	}
	r.deps.Metrics.StepObserved(kind, outcome, elapsed)
	for _, d := range res.Diagnostics {
		r.deps.Metrics.Diagnostic(d.Code)
	}

	r.record(ctx, ex, node, graph, res, elapsed)
	r.appendEvent(ctx, ex, node.Slug, schema.EventStepCompleted, map[string]any{
		"kind":        kind,
		"duration_ms": elapsed.Milliseconds(),
		"suspend":     res.ShouldSuspend,
	})
	r.emit(ctx, ex, node.Slug, schema.EventStepCompleted, map[string]any{"kind": kind, "output_text": res.OutputText})
	r.logger.DebugContext(ctx, "step completed", slog.String("kind", kind), slog.Duration("duration", elapsed))
	return res, nil
}

// apply merges a step result into the run context.
func (r *Runner) apply(ex *execution, node *schema.Node, graph steps.DefinitionGraph, res *steps.Result) error {
	rc := ex.rc
	rc.AppendMessages(res.Messages...)

	for _, u := range res.StateUpdates {
		if err := runstate.SetPath(rc.State, u.Path, runstate.DeepCopyValue(u.Value)); err != nil {
			return schema.AsFlowError(err, schema.ErrCodeExecution).WithNode(node.Slug)
		}
	}

	if res.GeneratedImageURLs != nil {
		rc.State[runstate.KeyLastGeneratedImageURLs] = runstate.DeepCopyValue(res.GeneratedImageURLs)
	}

	if !res.HasOutput() {
		return nil
	}
	structured := runstate.DeepCopyValue(res.OutputStructured)
	rc.State[runstate.KeyLastOutputText] = res.OutputText
	rc.State[runstate.KeyLastOutputStructured] = structured

	outputs, _ := rc.State[runstate.KeyOutputs].(map[string]any)
	if outputs == nil {
		outputs = make(map[string]any)
		rc.State[runstate.KeyOutputs] = outputs
	}
	outputs[graph.Namespace(node)] = map[string]any{
		"text":       res.OutputText,
		"structured": runstate.DeepCopyValue(structured),
	}

	rc.LastStep = &schema.StepContext{
		Slug:             node.Slug,
		Kind:             node.Kind,
		OutputText:       res.OutputText,
		OutputStructured: runstate.DeepCopyValue(structured),
	}
	return nil
}

// record writes the audit-trail entry of a step. Recorder failures are
// logged and never fail the run.
func (r *Runner) record(ctx context.Context, ex *execution, node *schema.Node, graph steps.DefinitionGraph, res *steps.Result, elapsed time.Duration) {
	if r.collab.Recorder == nil {
		return
	}
	rec := schema.StepRecord{
		ID:          uuid.NewString(),
		ThreadID:    ex.rc.ThreadID,
		RunID:       ex.rc.RunID,
		NodeSlug:    node.Slug,
		Kind:        node.Kind,
		Title:       graph.Title(node),
		OutputText:  res.OutputText,
		Diagnostics: res.Diagnostics,
		DurationMs:  elapsed.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if res.OutputStructured != nil {
		data, err := sonic.ConfigStd.Marshal(res.OutputStructured)
		if err == nil {
			rec.Output = data
		}
	}
	if err := r.collab.Recorder.RecordStep(ctx, rec); err != nil {
		r.logger.WarnContext(ctx, "step record failed", slog.String("node", node.Slug), slog.String("error", err.Error()))
	}
}

func (r *Runner) skip(ctx context.Context, ex *execution, node *schema.Node) {
	r.deps.Metrics.StepObserved(string(node.Kind), metrics.OutcomeSkipped, 0)
	r.appendEvent(ctx, ex, node.Slug, schema.EventStepSkipped, map[string]any{"kind": string(node.Kind)})
	r.logger.DebugContext(logging.WithNodeSlug(ctx, node.Slug), "disabled node passed through")
}

// advance moves the run to the next node after node.
func (r *Runner) advance(ctx context.Context, ex *execution, node *schema.Node, hint string) error {
	target, mode, err := r.selectEdge(ctx, ex, node, hint)
	if err != nil {
		return err
	}
	r.take(ctx, ex, node.Slug, target, mode)
	return nil
}

func (r *Runner) take(ctx context.Context, ex *execution, from, to, mode string) {
	r.deps.Metrics.TransitionTaken(mode)
	r.appendEvent(ctx, ex, from, schema.EventTransitionTaken, map[string]any{"from": from, "to": to, "mode": mode})
	ex.rc.CurrentSlug = to
}

// selectEdge picks the outgoing edge of node: a hint naming one of the
// targets wins, then the first edge whose guard holds, then the first
// unguarded edge, in declaration order.
func (r *Runner) selectEdge(ctx context.Context, ex *execution, node *schema.Node, hint string) (string, string, error) {
	edges := ex.def.Outgoing(node.Slug)

	if hint != "" {
		for _, e := range edges {
			if e.Target == hint {
				return e.Target, modeHint, nil
			}
		}
		r.logger.WarnContext(ctx, "edge hint ignored: no such edge",
			slog.String("node", node.Slug), slog.String("hint", hint))
	}

	scope := ex.rc.Scope()
	fallback := ""
	for _, e := range edges {
		matched, guarded := r.guards.Match(ctx, e.Condition, scope)
		if !guarded {
			if fallback == "" {
				fallback = e.Target
			}
			continue
		}
		if matched {
			return e.Target, modeGuard, nil
		}
	}
	if fallback != "" {
		return fallback, modeDefault, nil
	}
	return "", "", schema.NewErrorf(schema.ErrCodeNoMatchingTransition,
		"no outgoing edge of %q matched", node.Slug).
		WithNode(node.Slug).
		WithDetails(map[string]any{"edges": len(edges)})
}

func (r *Runner) transition(ctx context.Context, ex *execution, to schema.RunStatus, payload any) error {
	ev := schema.RunEvent{ThreadID: ex.rc.ThreadID, RunID: ex.rc.RunID, NodeSlug: ex.rc.CurrentSlug}
	if err := r.fsm.Transition(ctx, ev, ex.status, to, payload); err != nil {
		return err
	}
	ex.status = to
	return nil
}

// save persists the current context as the last successful snapshot.
func (r *Runner) save(ctx context.Context, ex *execution) error {
	snap := ex.rc.Snapshot(ex.status)
	if err := r.deps.Snapshots.Save(ctx, snap); err != nil {
		return schema.AsFlowError(err, schema.ErrCodeStore)
	}
	ex.lastSaved = snap
	return nil
}

// suspend persists the run waiting on pending. An empty pending means the
// run was stopped between steps and resumes at its current node. hint is the
// handoff target of the pending node, taken when the run resumes.
func (r *Runner) suspend(ctx context.Context, ex *execution, pending, hint string) *RunResult {
	ex.rc.PendingSlug = pending
	ex.rc.PendingHint = hint
	if err := r.transition(ctx, ex, schema.RunStatusSuspended, map[string]any{"pending_slug": pending}); err != nil {
		return r.fail(ctx, ex, err)
	}
	if err := r.save(ctx, ex); err != nil {
		return r.fail(ctx, ex, err)
	}
	r.deps.Metrics.RunFinished(ex.root.Slug, string(schema.RunStatusSuspended))
	r.emit(ctx, ex, pending, schema.EventRunSuspended, map[string]any{"pending_slug": pending, "stopped": ex.stopped})
	r.logger.InfoContext(ctx, "run suspended",
		slog.String("current_slug", ex.rc.CurrentSlug), slog.String("pending_slug", pending), slog.Bool("stopped", ex.stopped))
	return r.result(ex)
}

// stop suspends a run that was stopped or whose context was cancelled.
// Persistence outlives the cancelled context.
func (r *Runner) stop(ctx context.Context, ex *execution) *RunResult {
	ex.stopped = true
	return r.suspend(context.WithoutCancel(ctx), ex, "", "")
}

func (r *Runner) complete(ctx context.Context, ex *execution) *RunResult {
	if err := r.transition(ctx, ex, schema.RunStatusCompleted, nil); err != nil {
		return r.fail(ctx, ex, err)
	}
	if err := r.save(ctx, ex); err != nil {
		return r.fail(ctx, ex, err)
	}
	r.deps.Metrics.RunFinished(ex.root.Slug, string(schema.RunStatusCompleted))
	r.emit(ctx, ex, ex.rc.CurrentSlug, schema.EventRunCompleted, nil)
	r.logger.InfoContext(ctx, "run completed", slog.Int("steps", ex.steps))
	return r.result(ex)
}

// fail marks the run failed. The persisted snapshot is the last successful
// one with its status set to failed, so the run can be inspected or resumed
// from there.
func (r *Runner) fail(ctx context.Context, ex *execution, err error) *RunResult {
	ctx = context.WithoutCancel(ctx)
	fe := schema.AsFlowError(err, schema.ErrCodeExecution)

	if CanTransition(ex.status, schema.RunStatusFailed) {
		payload := map[string]any{"code": fe.Code, "message": fe.Message, "node_slug": fe.NodeSlug}
		if terr := r.transition(ctx, ex, schema.RunStatusFailed, payload); terr != nil {
			r.logger.ErrorContext(ctx, "failed to record run failure", slog.String("error", terr.Error()))
		}
	}
	ex.status = schema.RunStatusFailed

	var snap schema.RuntimeSnapshot
	if ex.lastSaved != nil {
		snap = *ex.lastSaved
	} else {
		snap = *ex.rc.Snapshot(schema.RunStatusFailed)
	}
	snap.Status = schema.RunStatusFailed
	snap.Error = fe
	snap.UpdatedAt = time.Now().UTC()
	if serr := r.deps.Snapshots.Save(ctx, &snap); serr != nil {
		r.logger.ErrorContext(ctx, "failed to persist failed snapshot", slog.String("error", serr.Error()))
	}

	r.deps.Metrics.RunFinished(ex.root.Slug, string(schema.RunStatusFailed))
	r.emit(ctx, ex, fe.NodeSlug, schema.EventRunFailed, map[string]any{"code": fe.Code, "message": fe.Message})
	r.logger.ErrorContext(ctx, "run failed",
		slog.String("code", fe.Code), slog.String("node", fe.NodeSlug), slog.String("error", fe.Message))

	res := r.result(ex)
	res.Error = fe
	return res
}

func (r *Runner) result(ex *execution) *RunResult {
	rc := ex.rc
	text, _ := rc.State[runstate.KeyLastOutputText].(string)
	return &RunResult{
		ThreadID:         rc.ThreadID,
		RunID:            rc.RunID,
		WorkflowSlug:     ex.root.Slug,
		Status:           ex.status,
		CurrentSlug:      rc.CurrentSlug,
		PendingSlug:      rc.PendingSlug,
		OutputText:       text,
		OutputStructured: runstate.DeepCopyValue(rc.State[runstate.KeyLastOutputStructured]),
		State:            runstate.DeepCopy(rc.State),
		History:          runstate.CopyHistory(rc.History),
		Steps:            ex.steps,
		Stopped:          ex.stopped,
	}
}

// appendEvent writes a step-level run event. Failures are logged; only
// status transitions treat the event log as required.
func (r *Runner) appendEvent(ctx context.Context, ex *execution, node, typ string, payload map[string]any) {
	if r.deps.Events == nil {
		return
	}
	ev := &schema.RunEvent{ThreadID: ex.rc.ThreadID, RunID: ex.rc.RunID, NodeSlug: node, Type: typ}
	if payload != nil {
		data, err := sonic.ConfigStd.Marshal(payload)
		if err == nil {
			ev.Payload = data
		}
	}
	if err := r.deps.Events.AppendEvent(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "run event dropped", slog.String("type", typ), slog.String("error", err.Error()))
	}
}

func (r *Runner) emit(ctx context.Context, ex *execution, node, typ string, payload any) {
	if r.collab.Events == nil {
		return
	}
	r.collab.Events.Emit(ctx, schema.StreamEvent{
		ThreadID: ex.rc.ThreadID,
		RunID:    ex.rc.RunID,
		NodeSlug: node,
		Type:     typ,
		Payload:  payload,
	})
}
