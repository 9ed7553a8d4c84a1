// Package executor runs validated workflow definitions: it coerces
// parameters, schedules jobs over the dependency graph, expands strategy
// matrices, executes stage pipelines under cancellation and timeouts, and
// aggregates everything into a single Result. Execute never returns an
// error; callers inspect Result.Status.
package executor

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/mpeters8/flowrun/internal/config"
	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/registry"
	"github.com/mpeters8/flowrun/internal/template"
	"github.com/mpeters8/flowrun/internal/trace"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// Lookup resolves a workflow name for trigger stages.
type Lookup func(name string) (*workflow.Workflow, error)

// Dispatcher places a strategy item onto an execution target named by the
// job's runs_on field. The core only defines the seam; remote backends
// live outside it.
type Dispatcher interface {
	Dispatch(ctx context.Context, runsOn string, run func(context.Context))
}

// LocalDispatcher runs every item in-process, ignoring runs_on.
type LocalDispatcher struct{}

func (LocalDispatcher) Dispatch(ctx context.Context, _ string, run func(context.Context)) {
	run(ctx)
}

// maxTriggerDepth bounds trigger-stage recursion across workflows.
const maxTriggerDepth = 3

// cancelGrace is how long in-flight jobs get to reach a terminal state
// after cancellation before the run gives up on them.
const cancelGrace = 5 * time.Second

// Retry backoff parameters.
const (
	retryBase      = time.Second
	retryFactor    = 2
	retryJitterMax = 250 * time.Millisecond
	retryCap       = 30 * time.Second
)

// Executor executes workflows against an immutable configuration and
// registry. Safe for concurrent use.
type Executor struct {
	cfg        *config.Config
	reg        *registry.Registry
	tmpl       *template.Resolver
	scripts    registry.ScriptRunner
	sinks      []trace.Sink
	lookup     Lookup
	dispatcher Dispatcher

	// sleep is stubbed in tests to skip retry backoff waits.
	sleep func(ctx context.Context, d time.Duration) bool
	// grace is cancelGrace, shortened in tests.
	grace time.Duration
}

// Option adjusts executor construction.
type Option func(*Executor)

// WithScriptRunner injects the script-stage backend.
func WithScriptRunner(sr registry.ScriptRunner) Option {
	return func(e *Executor) { e.scripts = sr }
}

// WithSinks sets the trace sinks used for every run.
func WithSinks(sinks ...trace.Sink) Option {
	return func(e *Executor) { e.sinks = sinks }
}

// WithLookup enables trigger stages to resolve target workflows.
func WithLookup(l Lookup) Option {
	return func(e *Executor) { e.lookup = l }
}

// WithDispatcher overrides the runs_on dispatch seam.
func WithDispatcher(d Dispatcher) Option {
	return func(e *Executor) { e.dispatcher = d }
}

// New builds an executor.
func New(cfg *config.Config, reg *registry.Registry, opts ...Option) *Executor {
	if reg == nil {
		reg = registry.New()
	}
	e := &Executor{
		cfg:        cfg,
		reg:        reg,
		tmpl:       template.New(reg),
		dispatcher: LocalDispatcher{},
		sleep:      sleepCtx,
		grace:      cancelGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteOptions parameterize one run.
type ExecuteOptions struct {
	// Params are the raw caller-supplied parameter values, coerced against
	// the workflow's declarations before anything runs.
	Params map[string]any
	// Event is an optional external cancellation signal.
	Event *Event
	// Timeout bounds the whole run; zero falls back to the configured
	// CORE_MAX_JOB_EXEC_TIMEOUT (zero there means unbounded).
	Timeout time.Duration
	// ParentRunID links this run to the run that triggered it.
	ParentRunID string

	depth int
}

// Execute runs the workflow to completion and returns its Result. The
// Result status is always terminal; no error escapes.
func (e *Executor) Execute(ctx context.Context, wf *workflow.Workflow, opts ExecuteOptions) *workflow.Result {
	res := &workflow.Result{
		Status:      workflow.StatusWait,
		RunID:       uuid.NewString(),
		ParentRunID: opts.ParentRunID,
		Start:       time.Now(),
		Context:     map[string]any{},
	}
	tr := trace.New(res.RunID, opts.ParentRunID, e.sinks...)
	tr.Info("run started", map[string]any{"workflow": wf.Name})

	finish := func(status workflow.Status) *workflow.Result {
		res.Status = status
		res.End = time.Now()
		tr.Info("run finished", map[string]any{
			"workflow": wf.Name,
			"status":   string(status),
			"duration": res.Duration().String(),
		})
		return res
	}

	// The scheduler injects a reserved "release" namespace; it bypasses
	// declared-parameter coercion.
	raw := opts.Params
	release, hasRelease := raw["release"]
	if hasRelease {
		raw = make(map[string]any, len(opts.Params))
		for k, v := range opts.Params {
			if k != "release" {
				raw[k] = v
			}
		}
	}

	params, err := workflow.CoerceParams(wf.Params, raw, e.cfg.Location)
	if err != nil {
		res.Errors = append(res.Errors, errors.ToEntry(err))
		tr.Error("parameter coercion failed", map[string]any{"error": err.Error()})
		return finish(workflow.StatusFailed)
	}
	if hasRelease {
		params["release"] = release
	}
	res.Context["params"] = params
	res.Context["jobs"] = map[string]any{}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = e.cfg.MaxJobExecTimeout
	}
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	if opts.Event != nil {
		stop := opts.Event.propagate(cancel)
		defer stop()
	}

	r := &run{exec: e, wf: wf, res: res, tr: tr, depth: opts.depth, timeout: timeout}
	return finish(r.executeJobs(runCtx))
}

// backoff computes the delay before retry attempt n (0-based), with
// exponential growth and a small jitter.
func backoff(attempt int) time.Duration {
	d := retryBase
	for i := 0; i < attempt; i++ {
		d *= retryFactor
		if d >= retryCap {
			d = retryCap
			break
		}
	}
	return d + rand.N(retryJitterMax)
}

// sleepCtx sleeps for d unless ctx ends first; reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
