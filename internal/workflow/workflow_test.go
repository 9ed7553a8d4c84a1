package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpeters8/flowrun/internal/errors"
)

const sampleDoc = `
name: etl-daily
description: nightly extract-transform-load
params:
  run_date:
    type: date
    default: "2024-01-01"
  env:
    type: choice
    options: [dev, prod]
on:
  - cron: "30 2 * * *"
    timezone: Asia/Bangkok
jobs:
  extract:
    stages:
      - name: Pull Source
        bash: "echo pull"
  transform:
    needs: [extract]
    strategy:
      matrix:
        region: [eu, us]
    stages:
      - name: Shape
        bash: "echo ${{ matrix.region }}"
  load:
    needs: [transform]
    trigger_rule: none_failed
    stages:
      - name: Push
        bash: "echo push"
`

func TestParse_Sample(t *testing.T) {
	wf, err := Parse([]byte(sampleDoc), LoadOptions{DeriveStageIDs: true})
	require.NoError(t, err)

	assert.Equal(t, "etl-daily", wf.Name)
	assert.Equal(t, []string{"extract", "transform", "load"}, wf.JobOrder)
	assert.Len(t, wf.On, 1)
	assert.Equal(t, "Asia/Bangkok", wf.On[0].Timezone)

	job, ok := wf.Job("transform")
	require.True(t, ok)
	assert.Equal(t, []string{"extract"}, job.Needs)
	assert.Equal(t, "shape", job.Stages[0].ID, "derived from name")
	assert.Equal(t, KindBash, job.Stages[0].Kind())

	load, _ := wf.Job("load")
	assert.Equal(t, RuleNoneFailed, load.TriggerRule)
}

func TestParse_DefinitionErrors(t *testing.T) {
	cases := map[string]string{
		"unknown dep": `
name: w
jobs:
  a:
    needs: [ghost]
    stages: [{name: s}]
`,
		"cycle": `
name: w
jobs:
  a:
    needs: [b]
    stages: [{name: s}]
  b:
    needs: [a]
    stages: [{name: s}]
`,
		"bad trigger rule": `
name: w
jobs:
  a:
    trigger_rule: sometimes
    stages: [{name: s}]
`,
		"no stages": `
name: w
jobs:
  a: {}
`,
		"duplicate stage id": `
name: w
jobs:
  a:
    stages:
      - {name: s, id: dup}
      - {name: t, id: dup}
`,
		"choice without options": `
name: w
params:
  mode: {type: choice}
jobs:
  a:
    stages: [{name: s}]
`,
		"bad job id": `
name: w
jobs:
  "1bad":
    stages: [{name: s}]
`,
		"until nested id shadows sibling": `
name: w
jobs:
  a:
    stages:
      - {name: tick, id: tick}
      - name: loop
        until: "${{ stages.tick.outputs.n > 3 }}"
        stages:
          - {name: tick, id: tick}
`,
		"case arm id shadows sibling": `
name: w
jobs:
  a:
    stages:
      - {name: prep, id: prep}
      - name: pick
        case: "${{ params.mode }}"
        match:
          - case: x
            stages:
              - {name: prep, id: prep}
`,
	}
	for label, doc := range cases {
		_, err := Parse([]byte(doc), LoadOptions{DeriveStageIDs: true})
		require.Error(t, err, label)
		assert.True(t, errors.IsKind(err, errors.KindDefinition), label)
	}
}

func TestParse_ChildScopeIDsMayRepeat(t *testing.T) {
	// Parallel branches and foreach items record into child scopes, so
	// their stage ids may repeat sibling ids without colliding.
	doc := `
name: w
jobs:
  a:
    stages:
      - {name: step, id: step}
      - name: fan
        parallel:
          b1:
            - {name: step, id: step}
          b2:
            - {name: step, id: step}
      - name: each
        foreach: "${{ params.xs }}"
        stages:
          - {name: step, id: step}
`
	_, err := Parse([]byte(doc), LoadOptions{DeriveStageIDs: true})
	require.NoError(t, err)
}

func TestStageKind_Dispatch(t *testing.T) {
	cases := []struct {
		stage Stage
		want  StageKind
	}{
		{Stage{Name: "e"}, KindEmpty},
		{Stage{Name: "e", Echo: "hi"}, KindEmpty},
		{Stage{Name: "b", Bash: "true"}, KindBash},
		{Stage{Name: "s", Run: "x = 1"}, KindScript},
		{Stage{Name: "c", Uses: "ns/fn@v1"}, KindCall},
		{Stage{Name: "t", Trigger: "other"}, KindTrigger},
		{Stage{Name: "p", Parallel: map[string][]Stage{"b1": {{Name: "n"}}}}, KindParallel},
		{Stage{Name: "f", Foreach: "${{ params.xs }}", Stages: []Stage{{Name: "n"}}}, KindForeach},
		{Stage{Name: "m", Case: "${{ params.x }}", Match: []CaseBranch{{Case: 1}}}, KindCase},
		{Stage{Name: "u", Until: "${{ true }}", Stages: []Stage{{Name: "n"}}}, KindUntil},
		{Stage{Name: "r", Raise: "boom"}, KindRaise},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.stage.Kind(), tc.stage.Name)
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "pull-source", slugify("Pull Source"))
	assert.Equal(t, "step-2-load", slugify("Step #2: Load"))
}

func TestAggregate_Lattice(t *testing.T) {
	cases := []struct {
		in   []Status
		want Status
	}{
		{nil, StatusSuccess},
		{[]Status{StatusSuccess}, StatusSuccess},
		{[]Status{StatusSuccess, StatusSkip}, StatusSuccess},
		{[]Status{StatusSkip, StatusSkip}, StatusSkip},
		{[]Status{StatusSuccess, StatusCancel}, StatusCancel},
		{[]Status{StatusCancel, StatusFailed}, StatusFailed},
		{[]Status{StatusSkip, StatusFailed, StatusSuccess}, StatusFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Aggregate(tc.in), "%v", tc.in)
	}
}

func TestTriggerRule_Satisfied(t *testing.T) {
	s, f, c, k := StatusSuccess, StatusFailed, StatusCancel, StatusSkip

	cases := []struct {
		rule TriggerRule
		deps []Status
		want bool
	}{
		{RuleAllSuccess, []Status{s, s}, true},
		{RuleAllSuccess, []Status{s, k}, false},
		{RuleAllSuccess, nil, true},
		{RuleAllFailed, []Status{f, f}, true},
		{RuleAllFailed, []Status{f, s}, false},
		{RuleAllDone, []Status{f, c, k}, true},
		{RuleAnySuccess, []Status{f, s}, true},
		{RuleAnySuccess, []Status{f, k}, false},
		{RuleAnyFailed, []Status{f, s}, true},
		{RuleAnyFailed, []Status{s, s}, false},
		{RuleNoneFailed, []Status{s, k}, true},
		{RuleNoneFailed, []Status{s, f}, false},
		{RuleNoneFailed, []Status{s, c}, false},
		{RuleNoneSkipped, []Status{s, f}, true},
		{RuleNoneSkipped, []Status{s, k}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.rule.Satisfied(tc.deps), "%s over %v", tc.rule, tc.deps)
	}
}
