package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// itemState accumulates one strategy item's execution.
type itemState struct {
	item   workflow.Item
	status workflow.Status
	stages map[string]any
	errs   []errors.Entry
}

// executeJob runs one job: skip-if, matrix expansion, the per-item stage
// pipeline with fail-fast, lattice aggregation and context merge.
func (r *run) executeJob(ctx context.Context, job *workflow.Job) workflow.Status {
	r.tr.Info("job started", map[string]any{"job": job.ID})

	if job.If != "" {
		env := r.baseEnv(nil, nil)
		ok, err := r.exec.tmpl.EvalBool(ctx, job.If, env)
		if err != nil {
			fe := errors.Wrap(errors.KindJob, err, "job %q condition", job.ID)
			r.mergeJob(job.ID, map[string]any{
				"status": string(workflow.StatusFailed),
				"errors": errors.ToEntry(fe),
			}, []errors.Entry{errors.ToEntry(fe)})
			return workflow.StatusFailed
		}
		if !ok {
			r.mergeJob(job.ID, map[string]any{"status": string(workflow.StatusSkip)}, nil)
			r.tr.Info("job skipped by condition", map[string]any{"job": job.ID})
			return workflow.StatusSkip
		}
	}

	items := job.Strategy.Expand()
	states := r.executeItems(ctx, job, items)

	all := make([]workflow.Status, len(states))
	var errs []errors.Entry
	for i, st := range states {
		all[i] = st.status
		errs = append(errs, st.errs...)
	}
	status := workflow.Aggregate(all)

	entry := map[string]any{"status": string(status)}
	if len(states) == 1 && states[0].item.ID == "" {
		entry["stages"] = states[0].stages
		entry["outputs"] = lastOutputs(job.Stages, states[0].stages)
	} else {
		strategies := make(map[string]any, len(states))
		outputs := make(map[string]any, len(states))
		for _, st := range states {
			strategies[st.item.ID] = map[string]any{
				"status": string(st.status),
				"matrix": st.item.Values,
				"stages": st.stages,
			}
			outputs[st.item.ID] = lastOutputs(job.Stages, st.stages)
		}
		entry["strategies"] = strategies
		entry["outputs"] = outputs
	}
	r.mergeJob(job.ID, entry, errs)

	r.tr.Info("job finished", map[string]any{
		"job": job.ID, "status": string(status), "items": len(states),
	})
	return status
}

// executeItems runs strategy items concurrently, capped by the strategy's
// max_parallel within the configured job pool bound. With fail_fast, the
// first FAILED item cancels its siblings.
func (r *run) executeItems(ctx context.Context, job *workflow.Job, items []workflow.Item) []*itemState {
	limit := job.Strategy.MaxParallel
	if limit <= 0 || limit > r.exec.cfg.MaxJobParallel {
		limit = r.exec.cfg.MaxJobParallel
	}
	failFast := job.Strategy.FailFastEnabled()

	itemCtx, cancelItems := context.WithCancel(ctx)
	defer cancelItems()

	sem := semaphore.NewWeighted(int64(limit))
	states := make([]*itemState, len(items))
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := sem.Acquire(itemCtx, 1); err != nil {
				states[i] = cancelledItem(items[i])
				return
			}
			defer sem.Release(1)

			r.exec.dispatcher.Dispatch(itemCtx, job.RunsOn, func(ctx context.Context) {
				states[i] = r.executeItem(ctx, job, items[i])
			})
			if states[i].status == workflow.StatusFailed && failFast {
				cancelItems()
			}
		}(i)
	}
	wg.Wait()
	return states
}

// executeItem runs the job's stage sequence for one matrix combination.
func (r *run) executeItem(ctx context.Context, job *workflow.Job, item workflow.Item) *itemState {
	if ctx.Err() != nil {
		return cancelledItem(item)
	}
	st := &itemState{item: item, stages: map[string]any{}}
	scope := &stageScope{run: r, matrix: item.Values, stages: st.stages}
	st.status = r.executeSequence(ctx, scope, job.Stages)
	st.errs = scope.errs
	return st
}

func cancelledItem(item workflow.Item) *itemState {
	scope := "item"
	if item.ID != "" {
		scope = "item " + item.ID
	}
	return &itemState{
		item:   item,
		status: workflow.StatusCancel,
		stages: map[string]any{},
		errs:   []errors.Entry{errors.ToEntry(errors.Cancelled(scope))},
	}
}

// lastOutputs picks the outputs of the last top-level stage that recorded
// an entry, which is the job's conventional output surface.
func lastOutputs(stages []workflow.Stage, recorded map[string]any) map[string]any {
	for i := len(stages) - 1; i >= 0; i-- {
		entry, ok := recorded[stages[i].Ref()].(map[string]any)
		if !ok {
			continue
		}
		if out, ok := entry["outputs"].(map[string]any); ok {
			return out
		}
	}
	return map[string]any{}
}
