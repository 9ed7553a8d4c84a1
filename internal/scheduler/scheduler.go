// Package scheduler turns cron events into workflow runs. A poke scans a
// window of fire instants across the registered workflows, drops fires the
// audit store has already seen, and executes the rest on a bounded worker
// pool, appending an audit record per release.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mpeters8/flowrun/internal/audit"
	"github.com/mpeters8/flowrun/internal/config"
	"github.com/mpeters8/flowrun/internal/cron"
	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/executor"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// ReleaseType classifies how a release came to run.
type ReleaseType string

const (
	// ReleasePoke is a schedule-driven fire.
	ReleasePoke ReleaseType = "poke"
	// ReleaseForce is a fire executed even though it was already audited.
	ReleaseForce ReleaseType = "force"
	// ReleaseManual is a caller-initiated run outside any schedule.
	ReleaseManual ReleaseType = "manual"
)

// Release is one scheduled fire of a workflow.
type Release struct {
	Workflow *workflow.Workflow
	At       time.Time
	Type     ReleaseType
}

// Runner executes workflows; satisfied by *executor.Executor.
type Runner interface {
	Execute(ctx context.Context, wf *workflow.Workflow, opts executor.ExecuteOptions) *workflow.Result
}

// DefaultQueueBound is the backpressure limit on releases waiting for a
// worker. Fires beyond it are dropped with a skipped audit entry.
const DefaultQueueBound = 64

// Scheduler coordinates pokes for a set of scheduled workflows.
type Scheduler struct {
	cfg        *config.Config
	store      audit.Store
	runner     Runner
	logger     *slog.Logger
	workers    int
	queueBound int
}

// Option adjusts scheduler construction.
type Option func(*Scheduler)

// WithWorkers sets the release worker pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithQueueBound sets the backpressure limit.
func WithQueueBound(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queueBound = n
		}
	}
}

// WithLogger overrides the scheduler's own log output (distinct from the
// per-run trace sinks carried by the runner).
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New builds a scheduler over an audit store and a workflow runner.
func New(cfg *config.Config, store audit.Store, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		store:      store,
		runner:     runner,
		logger:     slog.Default(),
		workers:    cfg.MaxJobParallel,
		queueBound: DefaultQueueBound,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PokeOptions parameterize one poke.
type PokeOptions struct {
	// Start is the first instant considered (inclusive).
	Start time.Time
	// End bounds the scan (inclusive); zero means Start's end: only fires
	// at or before now.
	End time.Time
	// Force runs fires even when the audit store has them.
	Force bool
	// Excluded are glob patterns over workflow names ("etl-*", "**/tmp").
	Excluded []string
}

// Poke scans [Start, End] across the workflows' events and executes every
// fire not yet audited. It blocks until all admitted releases finish and
// returns their audit records in completion order.
func (s *Scheduler) Poke(ctx context.Context, wfs []*workflow.Workflow, opts PokeOptions) ([]audit.Record, error) {
	end := opts.End
	if end.IsZero() {
		end = time.Now()
	}

	h, err := s.buildHeap(wfs, opts)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var records []audit.Record
	collect := func(rec audit.Record) {
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
	}

	// A fixed worker pool drains the bounded queue; the producer never
	// blocks on it, so saturation is observable as a full queue.
	queue := make(chan Release, s.queueBound)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rel := range queue {
				s.execute(ctx, rel, collect)
			}
		}()
	}

	// Fires already admitted in this poke, so two events of one workflow
	// landing on the same minute release once.
	admitted := make(map[string]bool)

	var pokeErr error
	for h.Len() > 0 {
		if ctx.Err() != nil {
			break
		}
		entry := heap.Pop(h).(*scheduleEntry)
		fire := entry.next
		if fire.After(end) {
			continue // this pair is past the window; do not re-queue
		}
		s.requeue(h, entry, end)

		key := entry.wf.Name + "@" + fire.UTC().Format("20060102150405")
		if admitted[key] {
			continue
		}
		admitted[key] = true

		typ := ReleasePoke
		if opts.Force {
			typ = ReleaseForce
		} else {
			pointed, err := s.store.IsPointed(entry.wf.Name, fire)
			if err != nil {
				pokeErr = err
				break
			}
			if pointed {
				s.logger.Debug("release already audited",
					"workflow", entry.wf.Name, "fire", fire)
				continue
			}
		}

		rel := Release{Workflow: entry.wf, At: fire, Type: typ}
		select {
		case queue <- rel:
		default:
			// Pool and queue saturated: skip the fire but leave an audit
			// trail so it is not silently lost.
			s.logger.Warn("release queue full, skipping fire",
				"workflow", rel.Workflow.Name, "fire", rel.At)
			rec := audit.Record{
				Workflow:       rel.Workflow.Name,
				ReleaseInstant: rel.At,
				Status:         "SKIPPED",
				Extras:         map[string]any{"type": string(rel.Type), "reason": "queue full"},
			}
			if err := s.store.Save(rec); err != nil {
				s.logger.Error("skipped-release audit failed", "error", err)
			}
			collect(rec)
		}
	}

	close(queue)
	wg.Wait()
	if pokeErr != nil {
		return records, pokeErr
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ReleaseInstant.Before(records[j].ReleaseInstant)
	})
	return records, ctx.Err()
}

// execute runs one release and appends its audit record.
func (s *Scheduler) execute(ctx context.Context, rel Release, collect func(audit.Record)) {
	res := s.runner.Execute(ctx, rel.Workflow, executor.ExecuteOptions{
		Params: map[string]any{
			"release": map[string]any{
				"logical_date": rel.At,
				"type":         string(rel.Type),
			},
		},
	})

	rec := audit.Record{
		Workflow:       rel.Workflow.Name,
		ReleaseInstant: rel.At,
		RunID:          res.RunID,
		Status:         string(res.Status),
		Start:          res.Start,
		End:            res.End,
		Extras:         map[string]any{"type": string(rel.Type)},
	}
	if err := s.store.Save(rec); err != nil {
		s.logger.Error("audit save failed",
			"workflow", rel.Workflow.Name, "fire", rel.At, "error", err)
	}
	collect(rec)
	s.logger.Info("release finished",
		"workflow", rel.Workflow.Name, "fire", rel.At,
		"run_id", res.RunID, "status", string(res.Status))
}

// scheduleEntry is one (workflow, event) pair on the fire heap.
type scheduleEntry struct {
	wf     *workflow.Workflow
	runner *cron.Runner
	next   time.Time
}

type fireHeap []*scheduleEntry

func (h fireHeap) Len() int            { return len(h) }
func (h fireHeap) Less(i, j int) bool  { return h[i].next.Before(h[j].next) }
func (h fireHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *fireHeap) Push(x any)         { *h = append(*h, x.(*scheduleEntry)) }
func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// buildHeap seeds the heap with the first fire of each workflow event.
func (s *Scheduler) buildHeap(wfs []*workflow.Workflow, opts PokeOptions) (*fireHeap, error) {
	h := &fireHeap{}
	for _, wf := range wfs {
		skip, err := excluded(wf.Name, opts.Excluded)
		if err != nil {
			return nil, err
		}
		if skip {
			s.logger.Debug("workflow excluded from poke", "workflow", wf.Name)
			continue
		}
		for _, ev := range wf.On {
			sched, err := cron.Parse(ev.Cron)
			if err != nil {
				return nil, errors.Wrap(errors.KindCronParse, err,
					"workflow %q event %q", wf.Name, ev.Cron)
			}
			loc := s.cfg.Location
			if ev.Timezone != "" {
				loc, err = time.LoadLocation(ev.Timezone)
				if err != nil {
					return nil, errors.Definition(
						"workflow %q event timezone %q: %v", wf.Name, ev.Timezone, err)
				}
			}
			runner := cron.NewRunner(sched, loc, opts.Start)
			first, err := runner.Next()
			if err != nil {
				// No fire within the lookahead bound; nothing to schedule.
				continue
			}
			heap.Push(h, &scheduleEntry{wf: wf, runner: runner, next: first})
		}
	}
	heap.Init(h)
	return h, nil
}

// requeue pushes the entry's next fire back unless it leaves the window.
func (s *Scheduler) requeue(h *fireHeap, entry *scheduleEntry, end time.Time) {
	next, err := entry.runner.Next()
	if err != nil || next.After(end) {
		return
	}
	entry.next = next
	heap.Push(h, entry)
}

// excluded matches a workflow name against the exclusion patterns.
func excluded(name string, patterns []string) (bool, error) {
	for _, p := range patterns {
		ok, err := doublestar.Match(p, name)
		if err != nil {
			return false, errors.Definition("exclusion pattern %q: %v", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
