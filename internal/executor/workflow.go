package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/trace"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// run is the mutable state of one execute call. Context merges go through
// mu; everything else is written by the scheduling goroutine only.
type run struct {
	exec    *Executor
	wf      *workflow.Workflow
	res     *workflow.Result
	tr      *trace.Tracer
	depth   int
	timeout time.Duration

	mu          sync.Mutex
	cancelNoted bool
}

type jobDone struct {
	id     string
	status workflow.Status
}

// executeJobs schedules jobs over the dependency graph: a job starts once
// every dependency is terminal and its trigger rule holds; a job whose
// rule cannot hold is skipped without executing. Ready jobs run
// concurrently up to the configured cap.
func (r *run) executeJobs(ctx context.Context) workflow.Status {
	statuses := make(map[string]workflow.Status, len(r.wf.Jobs))
	pending := make(map[string]bool, len(r.wf.Jobs))
	inflight := make(map[string]bool)
	for _, id := range r.wf.JobOrder {
		statuses[id] = workflow.StatusWait
		pending[id] = true
	}

	// Buffered so a job abandoned after the grace period can still deliver
	// its status and exit instead of blocking on the send forever.
	doneCh := make(chan jobDone, len(r.wf.Jobs))
	for len(pending) > 0 || len(inflight) > 0 {
		if ctx.Err() != nil {
			r.cancelRemaining(ctx, statuses, pending, inflight, doneCh)
			break
		}

		r.schedule(ctx, statuses, pending, inflight, doneCh)
		if len(pending) == 0 && len(inflight) == 0 {
			break
		}
		if len(inflight) == 0 {
			// Nothing running and nothing became ready: the graph is
			// acyclic, so this only happens under cancellation.
			r.cancelRemaining(ctx, statuses, pending, inflight, doneCh)
			break
		}

		select {
		case d := <-doneCh:
			statuses[d.id] = d.status
			delete(inflight, d.id)
		case <-ctx.Done():
			r.cancelRemaining(ctx, statuses, pending, inflight, doneCh)
			return r.aggregate(statuses)
		}
	}

	status := r.aggregate(statuses)
	// The last job may observe the cancellation and deliver before the
	// select does; the run-level error entry must still be recorded.
	if ctx.Err() != nil && status == workflow.StatusCancel {
		r.noteCancellation(ctx)
	}
	return status
}

// noteCancellation appends the run-level Timeout/Cancelled entry once.
func (r *run) noteCancellation(ctx context.Context) {
	cancelErr := errors.Cancelled("workflow")
	if ctx.Err() == context.DeadlineExceeded {
		cancelErr = errors.Timeout("workflow", r.timeout.Seconds())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelNoted {
		return
	}
	r.cancelNoted = true
	r.res.Errors = append(r.res.Errors, errors.ToEntry(cancelErr))
}

// schedule resolves skips and launches every ready job, iterating until a
// fixpoint so that skip cascades settle in one pass.
func (r *run) schedule(ctx context.Context, statuses map[string]workflow.Status,
	pending, inflight map[string]bool, doneCh chan jobDone) {

	for progress := true; progress; {
		progress = false
		for _, id := range r.wf.JobOrder {
			if !pending[id] {
				continue
			}
			job := r.wf.Jobs[id]
			deps, ready := depStatuses(job, statuses)
			if !ready {
				continue
			}
			if !job.TriggerRule.Satisfied(deps) {
				statuses[id] = workflow.StatusSkip
				r.mergeJob(id, map[string]any{"status": string(workflow.StatusSkip)}, nil)
				r.tr.Info("job skipped by trigger rule", map[string]any{
					"job": id, "rule": string(job.TriggerRule),
				})
				delete(pending, id)
				progress = true
				continue
			}
			if len(inflight) >= r.exec.cfg.MaxJobParallel {
				continue
			}
			delete(pending, id)
			inflight[id] = true
			go func(job *workflow.Job) {
				status := r.executeJob(ctx, job)
				doneCh <- jobDone{id: job.ID, status: status}
			}(job)
		}
	}
}

// depStatuses collects dependency statuses; ready is false until all are
// terminal.
func depStatuses(job *workflow.Job, statuses map[string]workflow.Status) ([]workflow.Status, bool) {
	deps := make([]workflow.Status, 0, len(job.Needs))
	for _, dep := range job.Needs {
		s := statuses[dep]
		if !s.Terminal() {
			return nil, false
		}
		deps = append(deps, s)
	}
	return deps, true
}

// cancelRemaining marks unstarted jobs CANCEL and drains in-flight jobs
// within the grace period. In-flight jobs see the cancelled context and
// normally deliver their own terminal status in time.
func (r *run) cancelRemaining(ctx context.Context, statuses map[string]workflow.Status,
	pending, inflight map[string]bool, doneCh chan jobDone) {

	r.noteCancellation(ctx)
	r.tr.Warn("run cancelled", map[string]any{"reason": ctx.Err().Error()})

	for id := range pending {
		statuses[id] = workflow.StatusCancel
		r.mergeJob(id, map[string]any{"status": string(workflow.StatusCancel)}, nil)
		delete(pending, id)
	}

	grace := time.NewTimer(r.exec.grace)
	defer grace.Stop()
	for len(inflight) > 0 {
		select {
		case d := <-doneCh:
			statuses[d.id] = d.status
			delete(inflight, d.id)
		case <-grace.C:
			for id := range inflight {
				statuses[id] = workflow.StatusCancel
				delete(inflight, id)
			}
			r.tr.Warn("grace period elapsed with jobs still running", nil)
			return
		}
	}
}

// aggregate folds job statuses into the run status.
func (r *run) aggregate(statuses map[string]workflow.Status) workflow.Status {
	all := make([]workflow.Status, 0, len(statuses))
	for _, id := range r.wf.JobOrder {
		all = append(all, statuses[id])
	}
	return workflow.Aggregate(all)
}

// mergeJob publishes a job's entry into the run context.
func (r *run) mergeJob(id string, entry map[string]any, errs []errors.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := r.res.Context["jobs"].(map[string]any)
	jobs[id] = entry
	r.res.Errors = append(r.res.Errors, errs...)
}

// snapshotJobs copies the published job entries for template evaluation.
// Entries are replaced wholesale on merge, so a shallow copy is a
// consistent snapshot.
func (r *run) snapshotJobs() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := r.res.Context["jobs"].(map[string]any)
	out := make(map[string]any, len(jobs))
	for k, v := range jobs {
		out[k] = v
	}
	return out
}

// resultView is the `result` namespace visible to templates.
func (r *run) resultView() map[string]any {
	return map[string]any{
		"run_id":        r.res.RunID,
		"parent_run_id": r.res.ParentRunID,
		"status":        string(r.res.Status),
		"start":         r.res.Start,
	}
}
