package executor

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/template"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// branchState is one parallel branch or foreach item after execution.
type branchState struct {
	status workflow.Status
	scope  *stageScope
}

func (b branchState) entry() map[string]any {
	return map[string]any{
		"status": string(b.status),
		"stages": b.scope.stages,
	}
}

// runParallel executes each branch's stage sequence concurrently, capped
// by max_parallel. A FAILED branch cancels its siblings when the enclosing
// job is fail-fast; the stage status is the lattice over branches.
func (r *run) runParallel(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	names := make([]string, 0, len(st.Parallel))
	for name := range st.Parallel {
		names = append(names, name)
	}
	sort.Strings(names)

	limit := st.MaxParallel
	if limit <= 0 || limit > r.exec.cfg.MaxJobParallel {
		limit = r.exec.cfg.MaxJobParallel
	}

	branchCtx, cancelBranches := context.WithCancel(ctx)
	defer cancelBranches()

	sem := semaphore.NewWeighted(int64(limit))
	states := make(map[string]*branchState, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			child := scope.child(scope.matrix)
			b := &branchState{scope: child}
			if err := sem.Acquire(branchCtx, 1); err != nil {
				b.status = workflow.StatusCancel
			} else {
				b.status = r.executeSequence(branchCtx, child, st.Parallel[name])
				sem.Release(1)
			}
			mu.Lock()
			states[name] = b
			mu.Unlock()
			if b.status == workflow.StatusFailed {
				cancelBranches()
			}
		}(name)
	}
	wg.Wait()
	for _, name := range names {
		scope.errs = append(scope.errs, states[name].scope.errs...)
	}

	return r.foldBranches(st, statesToMap(states), branchStatuses(names, states), "parallel")
}

// runForeach evaluates the expression to a sequence and runs the nested
// stages once per element with matrix.item (and matrix.index) bound. Up to
// `concurrent` elements run in parallel.
func (r *run) runForeach(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	v, err := r.exec.tmpl.Resolve(ctx, st.Foreach, scope.env())
	if err != nil {
		return failed(errors.Wrap(errors.KindStage, err, "stage %q foreach", st.Ref()))
	}
	elems, err := asSequence(v)
	if err != nil {
		return failed(errors.Stage("foreach", "stage %q: %v", st.Ref(), err))
	}

	limit := st.Concurrent
	if limit <= 0 {
		limit = 1
	}

	itemCtx, cancelRest := context.WithCancel(ctx)
	defer cancelRest()

	sem := semaphore.NewWeighted(int64(limit))
	keys := make([]string, len(elems))
	used := make(map[string]bool, len(elems))
	states := make(map[string]*branchState, len(elems))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, elem := range elems {
		key := template.Stringify(elem)
		if st.UseIndexAsKey {
			key = template.Stringify(i)
		}
		// Duplicate elements would overwrite each other's records; suffix
		// the index until the key is free.
		for used[key] {
			key = key + "-" + template.Stringify(i)
		}
		used[key] = true
		keys[i] = key

		wg.Add(1)
		go func(i int, elem any, key string) {
			defer wg.Done()
			matrix := make(map[string]any, len(scope.matrix)+2)
			for k, mv := range scope.matrix {
				matrix[k] = mv
			}
			matrix["item"] = elem
			matrix["index"] = i

			child := scope.child(matrix)
			b := &branchState{scope: child}
			if err := sem.Acquire(itemCtx, 1); err != nil {
				b.status = workflow.StatusCancel
			} else {
				b.status = r.executeSequence(itemCtx, child, st.Stages)
				sem.Release(1)
			}
			mu.Lock()
			states[key] = b
			mu.Unlock()
			if b.status == workflow.StatusFailed {
				cancelRest()
			}
		}(i, elem, key)
	}
	wg.Wait()
	for _, key := range keys {
		if b, ok := states[key]; ok {
			scope.errs = append(scope.errs, b.scope.errs...)
		}
	}

	return r.foldBranches(st, statesToMap(states), branchStatuses(keys, states), "items")
}

// foldBranches aggregates branch states into the composite stage outcome.
func (r *run) foldBranches(st *workflow.Stage,
	entries map[string]any, all []workflow.Status, key string) stageOutcome {

	status := workflow.Aggregate(all)
	out := stageOutcome{
		status:  status,
		outputs: map[string]any{},
		extra:   map[string]any{key: entries},
	}
	switch status {
	case workflow.StatusFailed:
		out.err = errors.Stage(string(st.Kind()), "stage %q: a branch failed", st.Ref())
	case workflow.StatusCancel:
		out.err = errors.Cancelled(st.Ref())
	}
	return out
}

func statesToMap(states map[string]*branchState) map[string]any {
	out := make(map[string]any, len(states))
	for name, b := range states {
		out[name] = b.entry()
	}
	return out
}

func branchStatuses(keys []string, states map[string]*branchState) []workflow.Status {
	all := make([]workflow.Status, 0, len(keys))
	for _, k := range keys {
		if b, ok := states[k]; ok {
			all = append(all, b.status)
		}
	}
	return all
}

// asSequence accepts a slice directly, or a map iterated in sorted key
// order yielding its values.
func asSequence(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = x[k]
		}
		return out, nil
	default:
		return nil, errors.Stage("foreach", "expression yielded %T, want a sequence", v)
	}
}

// runCase evaluates the selector and executes the first matching arm; `_`
// is the default arm. Arm stages record into the enclosing scope.
func (r *run) runCase(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	v, err := r.exec.tmpl.Resolve(ctx, st.Case, scope.env())
	if err != nil {
		return failed(errors.Wrap(errors.KindStage, err, "stage %q case", st.Ref()))
	}
	got := template.Stringify(v)

	for i := range st.Match {
		arm := &st.Match[i]
		if arm.Case == "_" || template.Stringify(arm.Case) == got {
			status := r.executeSequence(ctx, scope, arm.Stages)
			out := stageOutcome{status: status, outputs: map[string]any{"matched": template.Stringify(arm.Case)}}
			if status == workflow.StatusFailed {
				out.err = errors.Stage("case", "stage %q: matched arm failed", st.Ref())
			}
			if status == workflow.StatusCancel {
				out.err = errors.Cancelled(st.Ref())
			}
			return out
		}
	}

	if st.SkipNotMatch {
		return stageOutcome{status: workflow.StatusSkip}
	}
	return failed(errors.Stage("CaseNoMatch", "stage %q: no arm matches %q", st.Ref(), got))
}

// runUntil loops the nested stages, evaluating the condition after each
// pass. Iterations overwrite the same stage entries, so the condition sees
// the latest outputs. Exhausting max_loop is FAILED.
func (r *run) runUntil(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	maxLoop := st.MaxLoop
	if maxLoop <= 0 {
		maxLoop = 10
	}

	for i := 0; i < maxLoop; i++ {
		if ctx.Err() != nil {
			return stageOutcome{status: workflow.StatusCancel, err: errors.Cancelled(st.Ref())}
		}
		status := r.executeSequence(ctx, scope, st.Stages)
		if status == workflow.StatusFailed {
			return failed(errors.Stage("until", "stage %q: pass %d failed", st.Ref(), i+1))
		}
		if status == workflow.StatusCancel {
			return stageOutcome{status: workflow.StatusCancel, err: errors.Cancelled(st.Ref())}
		}
		done, err := r.exec.tmpl.EvalBool(ctx, st.Until, scope.env())
		if err != nil {
			return failed(errors.Wrap(errors.KindStage, err, "stage %q condition", st.Ref()))
		}
		if done {
			return succeeded(map[string]any{"loops": i + 1})
		}
	}
	return failed(errors.Stage("UntilExhausted",
		"stage %q: condition not met after %d passes", st.Ref(), maxLoop))
}
