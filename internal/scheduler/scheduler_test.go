package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpeters8/flowrun/internal/audit"
	"github.com/mpeters8/flowrun/internal/config"
	"github.com/mpeters8/flowrun/internal/executor"
	"github.com/mpeters8/flowrun/internal/registry"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// fakeRunner records executions without running anything.
type fakeRunner struct {
	mu    sync.Mutex
	delay time.Duration
	calls []executor.ExecuteOptions
}

func (f *fakeRunner) Execute(_ context.Context, wf *workflow.Workflow, opts executor.ExecuteOptions) *workflow.Result {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return &workflow.Result{
		Status: workflow.StatusSuccess,
		RunID:  "run-" + wf.Name,
		Start:  time.Now(),
		End:    time.Now(),
	}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func scheduledWF(t *testing.T, name, expr string) *workflow.Workflow {
	t.Helper()
	wf := &workflow.Workflow{
		Name: name,
		On:   []workflow.Event{{Cron: expr}},
		Jobs: map[string]*workflow.Job{
			"j1": {ID: "j1", Stages: []workflow.Stage{{Name: "s", Echo: "tick"}}},
		},
	}
	require.NoError(t, wf.Validate(true))
	return wf
}

func TestPoke_WindowScan(t *testing.T) {
	store := audit.NewFileStore(t.TempDir())
	runner := &fakeRunner{}
	s := New(config.Default(), store, runner)

	wf := scheduledWF(t, "hourly", "0 * * * *")
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

	recs, err := s.Poke(context.Background(), []*workflow.Workflow{wf}, PokeOptions{Start: start, End: end})
	require.NoError(t, err)
	require.Len(t, recs, 4, "00:00 through 03:00 inclusive")
	assert.Equal(t, 4, runner.count())

	// Records come back ordered by fire instant.
	for i := range recs {
		assert.True(t, recs[i].ReleaseInstant.Equal(start.Add(time.Duration(i)*time.Hour)))
		assert.Equal(t, "SUCCESS", recs[i].Status)
	}

	// The injected release namespace reaches the runner.
	rel := runner.calls[0].Params["release"].(map[string]any)
	assert.Equal(t, string(ReleasePoke), rel["type"])
	_, ok := rel["logical_date"].(time.Time)
	assert.True(t, ok)
}

func TestPoke_AuditDedup(t *testing.T) {
	store := audit.NewFileStore(t.TempDir())
	runner := &fakeRunner{}
	s := New(config.Default(), store, runner)

	wf := scheduledWF(t, "hourly", "0 * * * *")
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	require.NoError(t, store.Save(audit.Record{
		Workflow:       "hourly",
		ReleaseInstant: start.Add(time.Hour),
		Status:         "SUCCESS",
	}))

	recs, err := s.Poke(context.Background(), []*workflow.Workflow{wf}, PokeOptions{Start: start, End: end})
	require.NoError(t, err)
	assert.Len(t, recs, 3, "01:00 already audited")
	assert.Equal(t, 3, runner.count())

	// A second identical poke is a full no-op.
	runner2 := &fakeRunner{}
	s2 := New(config.Default(), store, runner2)
	recs, err = s2.Poke(context.Background(), []*workflow.Workflow{wf}, PokeOptions{Start: start, End: end})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, runner2.count())
}

func TestPoke_Force(t *testing.T) {
	store := audit.NewFileStore(t.TempDir())
	runner := &fakeRunner{}
	s := New(config.Default(), store, runner)

	wf := scheduledWF(t, "hourly", "0 * * * *")
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(audit.Record{
		Workflow:       "hourly",
		ReleaseInstant: start,
		Status:         "SUCCESS",
	}))

	_, err := s.Poke(context.Background(), []*workflow.Workflow{wf},
		PokeOptions{Start: start, End: start, Force: true})
	require.NoError(t, err)
	require.Equal(t, 1, runner.count())
	rel := runner.calls[0].Params["release"].(map[string]any)
	assert.Equal(t, string(ReleaseForce), rel["type"])
}

func TestPoke_Excluded(t *testing.T) {
	store := audit.NewFileStore(t.TempDir())
	runner := &fakeRunner{}
	s := New(config.Default(), store, runner)

	wfs := []*workflow.Workflow{
		scheduledWF(t, "etl-daily", "0 * * * *"),
		scheduledWF(t, "report-weekly", "0 * * * *"),
	}
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	recs, err := s.Poke(context.Background(), wfs, PokeOptions{
		Start:    start,
		End:      start,
		Excluded: []string{"etl-*"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "report-weekly", recs[0].Workflow)
}

func TestPoke_BackpressureSkips(t *testing.T) {
	store := audit.NewFileStore(t.TempDir())
	runner := &fakeRunner{delay: 100 * time.Millisecond}
	s := New(config.Default(), store, runner,
		WithWorkers(1), WithQueueBound(1))

	wf := scheduledWF(t, "minutely", "* * * * *")
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Minute) // three fires against one slow worker

	recs, err := s.Poke(context.Background(), []*workflow.Workflow{wf}, PokeOptions{Start: start, End: end})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	var skipped, ran int
	for _, rec := range recs {
		switch rec.Status {
		case "SKIPPED":
			skipped++
			assert.Equal(t, "queue full", rec.Extras["reason"])
		case "SUCCESS":
			ran++
		}
	}
	assert.GreaterOrEqual(t, skipped, 1)
	assert.GreaterOrEqual(t, ran, 1)
}

func TestPoke_EndToEnd(t *testing.T) {
	store := audit.NewFileStore(t.TempDir())
	cfg := config.Default()
	exec := executor.New(cfg, registry.New())
	s := New(cfg, store, exec)

	wf, err := workflow.Parse([]byte(`
name: dated
jobs:
  j1:
    stages:
      - name: say
        echo: "running for ${{ release.logical_date }}"
`), workflow.LoadOptions{DeriveStageIDs: true})
	require.NoError(t, err)
	wf.On = []workflow.Event{{Cron: "30 2 * * *"}}

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	recs, err := s.Poke(context.Background(), []*workflow.Workflow{wf}, PokeOptions{Start: start, End: end})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "SUCCESS", recs[0].Status)
	assert.NotEmpty(t, recs[0].RunID)
	assert.True(t, recs[0].ReleaseInstant.Equal(time.Date(2024, 6, 1, 2, 30, 0, 0, time.UTC)))

	pointed, err := store.IsPointed("dated", recs[0].ReleaseInstant)
	require.NoError(t, err)
	assert.True(t, pointed)
}
