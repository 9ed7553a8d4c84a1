package executor

import (
	"context"
	"time"

	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/template"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// stageScope is the template environment of one stage pipeline: the item's
// matrix values plus the stage entries recorded so far. Nested composite
// stages derive child scopes with their own stage maps.
type stageScope struct {
	run    *run
	matrix map[string]any
	stages map[string]any
	errs   []errors.Entry
}

// env builds the evaluation environment for the next stage dispatch.
func (s *stageScope) env() map[string]any {
	return s.run.baseEnv(s.matrix, s.stages)
}

func (s *stageScope) child(matrix map[string]any) *stageScope {
	return &stageScope{run: s.run, matrix: matrix, stages: map[string]any{}}
}

// baseEnv assembles the namespaces templates resolve against.
func (r *run) baseEnv(matrix, stages map[string]any) map[string]any {
	if matrix == nil {
		matrix = map[string]any{}
	}
	if stages == nil {
		stages = map[string]any{}
	}
	r.mu.Lock()
	params := r.res.Context["params"]
	r.mu.Unlock()
	env := map[string]any{
		"params": params,
		"jobs":   r.snapshotJobs(),
		"matrix": matrix,
		"stages": stages,
		"result": r.resultView(),
	}
	// Scheduled runs address the release directly (release.logical_date).
	if p, ok := params.(map[string]any); ok {
		if rel, ok := p["release"]; ok {
			env["release"] = rel
		}
	}
	return env
}

// stageOutcome is one stage's terminal state before context recording.
type stageOutcome struct {
	status  workflow.Status
	outputs map[string]any
	err     *errors.FlowError
	// extra keys merge into the recorded stage entry (composite stages
	// expose branch/item sub-contexts here).
	extra map[string]any
}

func failed(err *errors.FlowError) stageOutcome {
	return stageOutcome{status: workflow.StatusFailed, err: err}
}

func succeeded(outputs map[string]any) stageOutcome {
	if outputs == nil {
		outputs = map[string]any{}
	}
	return stageOutcome{status: workflow.StatusSuccess, outputs: outputs}
}

// executeSequence runs stages in strict order. A FAILED or CANCEL stage
// stops the sequence; the aggregate is the sequence status.
func (r *run) executeSequence(ctx context.Context, scope *stageScope, stages []workflow.Stage) workflow.Status {
	var all []workflow.Status
	for i := range stages {
		out := r.executeStage(ctx, scope, &stages[i])
		all = append(all, out.status)
		if out.status == workflow.StatusFailed || out.status == workflow.StatusCancel {
			break
		}
	}
	return workflow.Aggregate(all)
}

// executeStage applies the shared stage contract: skip-if, retry with
// backoff around resolve+dispatch, on_error absorption, and context
// recording under the stage's ref.
func (r *run) executeStage(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	ref := st.Ref()
	if ctx.Err() != nil {
		out := stageOutcome{status: workflow.StatusCancel, err: errors.Cancelled(ref)}
		r.record(scope, st, out)
		return out
	}

	if st.If != "" {
		ok, err := r.exec.tmpl.EvalBool(ctx, st.If, scope.env())
		if err != nil {
			out := failed(errors.Wrap(errors.KindStage, err, "stage %q condition", ref))
			out = r.absorb(st, out)
			r.record(scope, st, out)
			return out
		}
		if !ok {
			out := stageOutcome{status: workflow.StatusSkip}
			r.record(scope, st, out)
			r.tr.Info("stage skipped", map[string]any{"stage": ref})
			return out
		}
	}

	var out stageOutcome
	for attempt := 0; ; attempt++ {
		out = r.attemptStage(ctx, scope, st)
		if out.status != workflow.StatusFailed || attempt >= st.Retry {
			break
		}
		if ctx.Err() != nil {
			// No retry after cancellation.
			out = stageOutcome{status: workflow.StatusCancel, err: errors.Cancelled(ref)}
			break
		}
		delay := backoff(attempt)
		r.tr.Warn("stage retrying", map[string]any{
			"stage": ref, "attempt": attempt + 1, "delay": delay.String(),
		})
		if !r.exec.sleep(ctx, delay) {
			out = stageOutcome{status: workflow.StatusCancel, err: errors.Cancelled(ref)}
			break
		}
	}

	out = r.absorb(st, out)
	r.record(scope, st, out)
	return out
}

// absorb applies on_error to a FAILED outcome. The error stays recorded
// either way; only the reported status changes.
func (r *run) absorb(st *workflow.Stage, out stageOutcome) stageOutcome {
	if out.status != workflow.StatusFailed {
		return out
	}
	switch st.OnError {
	case workflow.OnErrorSkip:
		out.status = workflow.StatusSkip
	case workflow.OnErrorIgnore:
		out.status = workflow.StatusSuccess
		out.outputs = map[string]any{}
	}
	return out
}

// record publishes the stage entry into the scope and traces the outcome.
// Negative terminal errors also bubble into the scope's error list.
func (r *run) record(scope *stageScope, st *workflow.Stage, out stageOutcome) {
	ref := st.Ref()
	entry := map[string]any{"status": string(out.status)}
	if out.outputs != nil {
		entry["outputs"] = out.outputs
	} else {
		entry["outputs"] = map[string]any{}
	}
	if out.err != nil {
		entry["errors"] = errors.ToEntry(out.err)
	}
	for k, v := range out.extra {
		entry[k] = v
	}
	scope.stages[ref] = entry

	if out.err != nil &&
		(out.status == workflow.StatusFailed || out.status == workflow.StatusCancel) {
		scope.errs = append(scope.errs, errors.ToEntry(out.err))
		r.tr.Error("stage failed", map[string]any{
			"stage": ref, "status": string(out.status), "error": out.err.Message,
		})
		return
	}
	r.tr.Info("stage finished", map[string]any{
		"stage": ref, "status": string(out.status),
	})
}

// attemptStage resolves nothing itself; it applies the stage timeout and
// dispatches to the variant handler. Variant handlers resolve their own
// templated fields against a fresh environment snapshot.
func (r *run) attemptStage(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	actx := ctx
	if st.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, time.Duration(st.Timeout*float64(time.Second)))
		defer cancel()
	}

	var out stageOutcome
	switch st.Kind() {
	case workflow.KindEmpty:
		out = r.runEmpty(actx, scope, st)
	case workflow.KindBash:
		out = r.runBash(actx, scope, st)
	case workflow.KindScript:
		out = r.runScript(actx, scope, st)
	case workflow.KindCall:
		out = r.runCall(actx, scope, st)
	case workflow.KindTrigger:
		out = r.runTrigger(actx, scope, st)
	case workflow.KindParallel:
		out = r.runParallel(actx, scope, st)
	case workflow.KindForeach:
		out = r.runForeach(actx, scope, st)
	case workflow.KindCase:
		out = r.runCase(actx, scope, st)
	case workflow.KindUntil:
		out = r.runUntil(actx, scope, st)
	case workflow.KindRaise:
		out = r.runRaise(actx, scope, st)
	default:
		out = failed(errors.Stage(string(st.Kind()), "unhandled stage kind"))
	}

	// A run that died with the attempt context distinguishes timeout from
	// external cancellation.
	if out.status == workflow.StatusFailed || out.status == workflow.StatusCancel {
		if actx.Err() != nil {
			out.status = workflow.StatusCancel
			if ctx.Err() == nil {
				out.err = errors.Timeout(st.Ref(), st.Timeout)
			} else {
				out.err = errors.Cancelled(st.Ref())
			}
		}
	}
	return out
}

// runEmpty traces the echo text and optionally sleeps.
func (r *run) runEmpty(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	if st.Echo != "" {
		v, err := r.exec.tmpl.Resolve(ctx, st.Echo, scope.env())
		if err != nil {
			return failed(errors.Wrap(errors.KindStage, err, "stage %q echo", st.Ref()))
		}
		r.tr.Info(template.Stringify(v), map[string]any{"stage": st.Ref(), "echo": true})
	}
	if st.Sleep > 0 {
		if !r.exec.sleep(ctx, time.Duration(st.Sleep*float64(time.Second))) {
			return stageOutcome{status: workflow.StatusCancel, err: errors.Cancelled(st.Ref())}
		}
	}
	return succeeded(nil)
}

// runRaise resolves the message and fails with it.
func (r *run) runRaise(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	v, err := r.exec.tmpl.Resolve(ctx, st.Raise, scope.env())
	if err != nil {
		return failed(errors.Wrap(errors.KindStage, err, "stage %q raise", st.Ref()))
	}
	return failed(errors.Stage("RaiseStage", "%s", template.Stringify(v)))
}
