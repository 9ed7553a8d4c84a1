package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mpeters8/flowrun/internal/audit"
	"github.com/mpeters8/flowrun/internal/config"
	"github.com/mpeters8/flowrun/internal/executor"
	"github.com/mpeters8/flowrun/internal/trace"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// parseParams splits "key=value" pairs from repeated -p flags. Values stay
// strings; the workflow's parameter declarations coerce them.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", pair)
		}
		params[key] = val
	}
	return params, nil
}

// loadWorkflows reads every .yaml/.yml definition under dir (non-recursive,
// matching how schedule directories are laid out).
func loadWorkflows(cfg *config.Config, dir string) ([]*workflow.Workflow, error) {
	var paths []string
	for _, pat := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pat))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no workflow definitions under %q", dir)
	}
	sort.Strings(paths)

	var wfs []*workflow.Workflow
	seen := map[string]string{}
	for _, path := range paths {
		wf, err := workflow.Load(path, workflow.LoadOptions{DeriveStageIDs: cfg.StageDefaultID})
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[wf.Name]; dup {
			return nil, fmt.Errorf("workflow %q defined in both %s and %s", wf.Name, prev, path)
		}
		seen[wf.Name] = path
		wfs = append(wfs, wf)
	}
	return wfs, nil
}

// lookupFrom lets trigger stages resolve sibling workflows by name.
func lookupFrom(wfs []*workflow.Workflow) executor.Lookup {
	byName := make(map[string]*workflow.Workflow, len(wfs))
	for _, wf := range wfs {
		byName[wf.Name] = wf
	}
	return func(name string) (*workflow.Workflow, error) {
		wf, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown workflow %q", name)
		}
		return wf, nil
	}
}

// newExecutor wires the standard sinks: stdout traces unless quiet, plus the
// per-run trace file tree under the configured trace path.
func newExecutor(cfg *config.Config, opts ...executor.Option) *executor.Executor {
	var sinks []trace.Sink
	if !quiet {
		sinks = append(sinks, trace.NewStdoutSink())
	}
	if cfg.TracePath != "" {
		sinks = append(sinks, trace.NewFileSink(cfg.TracePath))
	}
	opts = append([]executor.Option{executor.WithSinks(sinks...)}, opts...)
	return executor.New(cfg, nil, opts...)
}

// openStore picks the audit backend: SQLite when a database path is given,
// otherwise the per-workflow file tree at the configured audit path.
func openStore(cfg *config.Config, dbPath string) (audit.Store, func() error, error) {
	if dbPath != "" {
		st, err := audit.OpenSQLite(dbPath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	return audit.NewFileStore(cfg.AuditPath), func() error { return nil }, nil
}
