package executor

import (
	"context"

	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// runScript hands the source plus a locals snapshot of the current
// environment to the injected ScriptRunner; names the runner returns
// become the stage outputs.
func (r *run) runScript(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	if r.exec.scripts == nil {
		return failed(errors.Stage("script", "stage %q: no script runner configured", st.Ref()))
	}
	env := scope.env()
	source, err := r.exec.tmpl.Resolve(ctx, st.Run, env)
	if err != nil {
		return failed(errors.Wrap(errors.KindStage, err, "stage %q source", st.Ref()))
	}
	src, _ := source.(string)

	outputs, err := r.exec.scripts.Run(ctx, src, env)
	if err != nil {
		if ctx.Err() != nil {
			return stageOutcome{status: workflow.StatusCancel, err: errors.Cancelled(st.Ref())}
		}
		return failed(errors.Wrap(errors.KindStage, err, "stage %q script", st.Ref()))
	}
	return succeeded(outputs)
}

// runCall resolves the with-arguments and invokes the registered function;
// the registry validates them against the declared signature.
func (r *run) runCall(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	env := scope.env()
	args := make(map[string]any, len(st.With))
	for k, raw := range st.With {
		v, err := r.exec.tmpl.Resolve(ctx, raw, env)
		if err != nil {
			return failed(errors.Wrap(errors.KindStage, err, "stage %q with %q", st.Ref(), k))
		}
		args[k] = v
	}

	outputs, err := r.exec.reg.Call(ctx, st.Uses, args)
	if err != nil {
		if ctx.Err() != nil {
			return stageOutcome{status: workflow.StatusCancel, err: errors.Cancelled(st.Ref())}
		}
		return failed(errors.Wrap(errors.KindStage, err, "stage %q call %q", st.Ref(), st.Uses))
	}
	return succeeded(outputs)
}

// runTrigger executes the named target workflow as a child run, linking it
// via parent_run_id and propagating its terminal status.
func (r *run) runTrigger(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	if r.exec.lookup == nil {
		return failed(errors.Stage("trigger", "stage %q: no workflow lookup configured", st.Ref()))
	}
	if r.depth >= maxTriggerDepth {
		return failed(errors.Stage("trigger",
			"stage %q: trigger depth %d exceeded", st.Ref(), maxTriggerDepth))
	}

	env := scope.env()
	name, err := r.exec.tmpl.Resolve(ctx, st.Trigger, env)
	if err != nil {
		return failed(errors.Wrap(errors.KindStage, err, "stage %q target", st.Ref()))
	}
	target, ok := name.(string)
	if !ok || target == "" {
		return failed(errors.Stage("trigger", "stage %q: target did not resolve to a name", st.Ref()))
	}

	params := make(map[string]any, len(st.Params))
	for k, raw := range st.Params {
		v, err := r.exec.tmpl.Resolve(ctx, raw, env)
		if err != nil {
			return failed(errors.Wrap(errors.KindStage, err, "stage %q param %q", st.Ref(), k))
		}
		params[k] = v
	}

	wf, err := r.exec.lookup(target)
	if err != nil {
		return failed(errors.Wrap(errors.KindStage, err, "stage %q: resolve workflow %q", st.Ref(), target))
	}

	child := r.exec.Execute(ctx, wf, ExecuteOptions{
		Params:      params,
		ParentRunID: r.res.RunID,
		depth:       r.depth + 1,
	})
	outputs := map[string]any{
		"run_id": child.RunID,
		"status": string(child.Status),
	}
	switch child.Status {
	case workflow.StatusFailed:
		return stageOutcome{
			status:  workflow.StatusFailed,
			outputs: outputs,
			err:     errors.Stage("trigger", "workflow %q failed", target),
		}
	case workflow.StatusCancel:
		return stageOutcome{
			status:  workflow.StatusCancel,
			outputs: outputs,
			err:     errors.Cancelled(st.Ref()),
		}
	default:
		return succeeded(outputs)
	}
}
