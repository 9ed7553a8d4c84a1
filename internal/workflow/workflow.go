// Package workflow defines the data model of a workflow: jobs, stages,
// parameters, events, strategies and run results, plus the loader that
// builds validated definitions from YAML documents.
package workflow

import (
	"sort"
	"time"

	"github.com/mpeters8/flowrun/internal/errors"
)

// Event is one schedule attached to a workflow.
type Event struct {
	// Cron is the firing expression.
	Cron string `yaml:"cron"`
	// Timezone overrides the configured default for this schedule.
	Timezone string `yaml:"timezone,omitempty"`
}

// Job is a node of the workflow's dependency graph.
type Job struct {
	// ID is the mapping key in the definition document.
	ID   string `yaml:"-"`
	Desc string `yaml:"desc,omitempty"`
	// Needs lists job ids that must reach a terminal status first.
	Needs    []string `yaml:"needs,omitempty"`
	Strategy Strategy `yaml:"strategy,omitempty"`
	Stages   []Stage  `yaml:"stages"`
	// TriggerRule decides scheduling against dependency outcomes;
	// empty means all_success.
	TriggerRule TriggerRule `yaml:"trigger_rule,omitempty"`
	If          string      `yaml:"if,omitempty"`
	// RunsOn selects the dispatch target; the core treats it opaquely.
	RunsOn string `yaml:"runs_on,omitempty"`
}

// Workflow is a validated, immutable workflow definition.
type Workflow struct {
	Name   string           `yaml:"name"`
	Type   string           `yaml:"type,omitempty"`
	Desc   string           `yaml:"description,omitempty"`
	Params map[string]Param `yaml:"params,omitempty"`
	On     []Event          `yaml:"on,omitempty"`
	Jobs   map[string]*Job  `yaml:"jobs"`

	// JobOrder preserves declaration order for deterministic scheduling
	// ties.
	JobOrder []string `yaml:"-"`
}

// Job returns a job by id.
func (w *Workflow) Job(id string) (*Job, bool) {
	j, ok := w.Jobs[id]
	return j, ok
}

// Validate checks every definition invariant: identifiers, dependency
// references, acyclicity, trigger rules, parameter specs and stage trees.
// deriveIDs fills missing stage ids from names.
func (w *Workflow) Validate(deriveIDs bool) error {
	if w.Name == "" {
		return errors.Definition("workflow has no name")
	}
	for name, p := range w.Params {
		if err := p.validate(name); err != nil {
			return err
		}
	}

	// Programmatic definitions may not carry a declaration order.
	if len(w.JobOrder) != len(w.Jobs) {
		w.JobOrder = make([]string, 0, len(w.Jobs))
		for id := range w.Jobs {
			w.JobOrder = append(w.JobOrder, id)
		}
		sort.Strings(w.JobOrder)
	}

	for _, id := range w.JobOrder {
		job := w.Jobs[id]
		if !identRe.MatchString(id) {
			return errors.Definition("job id %q is not a valid identifier", id)
		}
		if !job.TriggerRule.Valid() {
			return errors.Definition("job %q has unknown trigger rule %q", id, job.TriggerRule)
		}
		if len(job.Stages) == 0 {
			return errors.Definition("job %q has no stages", id)
		}
		for _, dep := range job.Needs {
			if _, ok := w.Jobs[dep]; !ok {
				return errors.Definition("job %q needs unknown job %q", id, dep)
			}
		}
		if job.Strategy.MaxParallel < 0 {
			return errors.Definition("job %q has negative max_parallel", id)
		}
		seen := make(map[string]bool)
		for i := range job.Stages {
			if err := job.Stages[i].normalize(id, deriveIDs, seen); err != nil {
				return err
			}
		}
	}

	return w.checkAcyclic()
}

// checkAcyclic runs a DFS with color marks over the needs graph.
func (w *Workflow) checkAcyclic() error {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // finished
	)
	color := make(map[string]int, len(w.Jobs))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range w.Jobs[id].Needs {
			switch color[dep] {
			case gray:
				return errors.Definition("dependency cycle through job %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range w.JobOrder {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Result is the outcome of one execute call. Executors always return a
// Result; no error escapes execute.
type Result struct {
	Status      Status         `json:"status"`
	Context     map[string]any `json:"context"`
	RunID       string         `json:"run_id"`
	ParentRunID string         `json:"parent_run_id,omitempty"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Errors      []errors.Entry `json:"errors,omitempty"`
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration { return r.End.Sub(r.Start) }
