package workflow

import "github.com/mpeters8/flowrun/internal/errors"

// Status is the state of a workflow, job, strategy item or stage.
type Status string

const (
	// StatusWait is the initial state before execution.
	StatusWait Status = "WAIT"
	// StatusSuccess is terminal positive.
	StatusSuccess Status = "SUCCESS"
	// StatusFailed is terminal negative.
	StatusFailed Status = "FAILED"
	// StatusCancel is terminal negative, reached through cancellation.
	StatusCancel Status = "CANCEL"
	// StatusSkip is terminal positive, reached without executing.
	StatusSkip Status = "SKIP"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s != StatusWait && s != "" }

// Aggregate folds child statuses into a parent status: any FAILED wins,
// then any CANCEL, then all-SKIP, otherwise SUCCESS.
func Aggregate(children []Status) Status {
	if len(children) == 0 {
		return StatusSuccess
	}
	allSkip := true
	sawCancel := false
	for _, c := range children {
		switch c {
		case StatusFailed:
			return StatusFailed
		case StatusCancel:
			sawCancel = true
			allSkip = false
		case StatusSkip:
		default:
			allSkip = false
		}
	}
	if sawCancel {
		return StatusCancel
	}
	if allSkip {
		return StatusSkip
	}
	return StatusSuccess
}

// TriggerRule decides whether a job runs given its dependencies' terminal
// statuses.
type TriggerRule string

const (
	RuleAllSuccess  TriggerRule = "all_success"
	RuleAllFailed   TriggerRule = "all_failed"
	RuleAllDone     TriggerRule = "all_done"
	RuleAnySuccess  TriggerRule = "any_success"
	RuleAnyFailed   TriggerRule = "any_failed"
	RuleNoneFailed  TriggerRule = "none_failed"
	RuleNoneSkipped TriggerRule = "none_skipped"
)

var triggerRules = map[TriggerRule]bool{
	RuleAllSuccess: true, RuleAllFailed: true, RuleAllDone: true,
	RuleAnySuccess: true, RuleAnyFailed: true, RuleNoneFailed: true,
	RuleNoneSkipped: true,
}

// Valid reports whether the rule is known. The empty rule is valid and
// means all_success.
func (r TriggerRule) Valid() bool { return r == "" || triggerRules[r] }

// Satisfied evaluates the rule over dependency statuses. Dependencies are
// all terminal when this is called.
func (r TriggerRule) Satisfied(deps []Status) bool {
	switch r {
	case RuleAllSuccess, "":
		for _, d := range deps {
			if d != StatusSuccess {
				return false
			}
		}
		return true
	case RuleAllFailed:
		for _, d := range deps {
			if d != StatusFailed {
				return false
			}
		}
		return len(deps) > 0
	case RuleAllDone:
		return true
	case RuleAnySuccess:
		for _, d := range deps {
			if d == StatusSuccess {
				return true
			}
		}
		return false
	case RuleAnyFailed:
		for _, d := range deps {
			if d == StatusFailed {
				return true
			}
		}
		return false
	case RuleNoneFailed:
		for _, d := range deps {
			if d == StatusFailed || d == StatusCancel {
				return false
			}
		}
		return true
	case RuleNoneSkipped:
		for _, d := range deps {
			if d == StatusSkip {
				return false
			}
		}
		return true
	}
	return false
}

// ParseTriggerRule validates a raw rule string.
func ParseTriggerRule(raw string) (TriggerRule, error) {
	r := TriggerRule(raw)
	if !r.Valid() {
		return "", errors.Definition("unknown trigger rule %q", raw)
	}
	if r == "" {
		r = RuleAllSuccess
	}
	return r, nil
}
