package workflow

import (
	"regexp"
	"strings"

	"github.com/mpeters8/flowrun/internal/errors"
)

// StageKind names a stage variant.
type StageKind string

const (
	KindEmpty    StageKind = "empty"
	KindBash     StageKind = "bash"
	KindScript   StageKind = "script"
	KindCall     StageKind = "call"
	KindTrigger  StageKind = "trigger"
	KindParallel StageKind = "parallel"
	KindForeach  StageKind = "foreach"
	KindCase     StageKind = "case"
	KindUntil    StageKind = "until"
	KindRaise    StageKind = "raise"
)

// OnError selects how a failing stage affects its item.
type OnError string

const (
	// OnErrorRaise propagates the failure (default).
	OnErrorRaise OnError = "raise"
	// OnErrorSkip records the error and reports SKIP.
	OnErrorSkip OnError = "skip"
	// OnErrorIgnore records the error and reports SUCCESS.
	OnErrorIgnore OnError = "ignore"
)

// CaseBranch is one arm of a case stage. Case `_` is the default arm.
type CaseBranch struct {
	Case   any     `yaml:"case"`
	Stages []Stage `yaml:"stages"`
}

// Stage is the tagged variant for every stage kind. Exactly one variant
// field group is set; Kind derives the variant from the populated fields.
// Name and ID are literal, never templated, so stages stay addressable
// across matrix items.
type Stage struct {
	Name    string  `yaml:"name"`
	ID      string  `yaml:"id,omitempty"`
	If      string  `yaml:"if,omitempty"`
	Retry   int     `yaml:"retry,omitempty"`
	Timeout float64 `yaml:"timeout,omitempty"`
	OnError OnError `yaml:"on_error,omitempty"`

	// empty
	Echo  string  `yaml:"echo,omitempty"`
	Sleep float64 `yaml:"sleep,omitempty"`

	// bash
	Bash string            `yaml:"bash,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`

	// script
	Run string `yaml:"run,omitempty"`

	// call
	Uses string         `yaml:"uses,omitempty"`
	With map[string]any `yaml:"with,omitempty"`

	// trigger
	Trigger string         `yaml:"trigger,omitempty"`
	Params  map[string]any `yaml:"params,omitempty"`

	// parallel
	Parallel    map[string][]Stage `yaml:"parallel,omitempty"`
	MaxParallel int                `yaml:"max_parallel,omitempty"`

	// foreach (Stages is shared with until)
	Foreach       string  `yaml:"foreach,omitempty"`
	Stages        []Stage `yaml:"stages,omitempty"`
	Concurrent    int     `yaml:"concurrent,omitempty"`
	UseIndexAsKey bool    `yaml:"use_index_as_key,omitempty"`

	// case
	Case         string       `yaml:"case,omitempty"`
	Match        []CaseBranch `yaml:"match,omitempty"`
	SkipNotMatch bool         `yaml:"skip_not_match,omitempty"`

	// until
	Until   string `yaml:"until,omitempty"`
	MaxLoop int    `yaml:"max_loop,omitempty"`

	// raise
	Raise string `yaml:"raise,omitempty"`
}

// Kind derives the stage variant from its populated fields.
func (s *Stage) Kind() StageKind {
	switch {
	case s.Bash != "":
		return KindBash
	case s.Run != "":
		return KindScript
	case s.Uses != "":
		return KindCall
	case s.Trigger != "":
		return KindTrigger
	case len(s.Parallel) > 0:
		return KindParallel
	case s.Foreach != "":
		return KindForeach
	case s.Case != "":
		return KindCase
	case s.Until != "":
		return KindUntil
	case s.Raise != "":
		return KindRaise
	default:
		return KindEmpty
	}
}

var (
	identRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	nonIdent  = regexp.MustCompile(`[^A-Za-z0-9_]+`)
	edgeDash  = regexp.MustCompile(`^-+|-+$`)
	multiDash = regexp.MustCompile(`-{2,}`)
)

// slugify derives a stage id from its name.
func slugify(name string) string {
	s := nonIdent.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	s = edgeDash.ReplaceAllString(s, "")
	return multiDash.ReplaceAllString(s, "-")
}

// normalize fills derived defaults (id from name when allowed) and
// validates the stage tree rooted here. scope is the job id for error
// messages; seen tracks id uniqueness within one stage list.
func (s *Stage) normalize(scope string, deriveIDs bool, seen map[string]bool) error {
	if s.Name == "" {
		return errors.Definition("job %q has a stage with no name", scope)
	}
	if s.ID == "" && deriveIDs {
		s.ID = slugify(s.Name)
	}
	if s.ID != "" {
		if !identRe.MatchString(s.ID) {
			return errors.Definition("job %q stage id %q is not a valid identifier", scope, s.ID)
		}
		if seen[s.ID] {
			return errors.Definition("job %q has duplicate stage id %q", scope, s.ID)
		}
		seen[s.ID] = true
	}
	switch s.OnError {
	case "", OnErrorRaise, OnErrorSkip, OnErrorIgnore:
	default:
		return errors.Definition("job %q stage %q has unknown on_error %q", scope, s.Name, s.OnError)
	}
	if s.Retry < 0 {
		return errors.Definition("job %q stage %q has negative retry", scope, s.Name)
	}

	switch s.Kind() {
	case KindForeach:
		if len(s.Stages) == 0 {
			return errors.Definition("job %q foreach stage %q has no nested stages", scope, s.Name)
		}
	case KindUntil:
		if len(s.Stages) == 0 {
			return errors.Definition("job %q until stage %q has no nested stages", scope, s.Name)
		}
		if s.MaxLoop < 0 {
			return errors.Definition("job %q until stage %q has negative max_loop", scope, s.Name)
		}
	case KindCase:
		if len(s.Match) == 0 {
			return errors.Definition("job %q case stage %q has no match arms", scope, s.Name)
		}
	}

	// Parallel branches and foreach items execute in child scopes, so
	// their lists open fresh id scopes. Until and case stages record into
	// the enclosing sequence's context; their nested ids share its scope.
	for _, branch := range s.Parallel {
		branchSeen := make(map[string]bool)
		for i := range branch {
			if err := branch[i].normalize(scope, deriveIDs, branchSeen); err != nil {
				return err
			}
		}
	}
	if len(s.Stages) > 0 {
		nestedSeen := seen
		if s.Kind() == KindForeach {
			nestedSeen = make(map[string]bool)
		}
		for i := range s.Stages {
			if err := s.Stages[i].normalize(scope, deriveIDs, nestedSeen); err != nil {
				return err
			}
		}
	}
	for bi := range s.Match {
		for i := range s.Match[bi].Stages {
			if err := s.Match[bi].Stages[i].normalize(scope, deriveIDs, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ref is the id used to address the stage in the run context; stages
// without an id fall back to their name.
func (s *Stage) Ref() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Name
}
