// Package errors provides the structured error kinds used across flowrun.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind classifies an error. Kinds are stable identifiers; callers match on
// them rather than on message text.
type Kind string

const (
	// KindParam indicates a parameter failed type coercion or validation.
	KindParam Kind = "ParamError"
	// KindTemplate indicates a template expression could not be resolved.
	KindTemplate Kind = "TemplateError"
	// KindDefinition indicates an invalid workflow definition (cycle,
	// duplicate id, unknown dependency, unknown trigger rule).
	KindDefinition Kind = "DefinitionError"
	// KindStage indicates a stage variant failed during execution.
	KindStage Kind = "StageError"
	// KindJob indicates a job-level aggregate failure.
	KindJob Kind = "JobError"
	// KindWorkflow indicates a workflow-level aggregate failure.
	KindWorkflow Kind = "WorkflowError"
	// KindCronParse indicates a malformed cron expression.
	KindCronParse Kind = "CronParseError"
	// KindCronNoMatch indicates the cron iterator found no firing within
	// its lookahead bound.
	KindCronNoMatch Kind = "CronNoMatch"
	// KindTimeout indicates a deadline expired.
	KindTimeout Kind = "Timeout"
	// KindCancelled indicates the run was cancelled by an external signal
	// or a fail-fast sibling.
	KindCancelled Kind = "Cancelled"
)

// FlowError is the structured error type for flowrun.
type FlowError struct {
	Kind    Kind   `json:"name"`
	Message string `json:"message"`
	// Scope locates the error: "jobs.j1.stages.s2", "params.run_date", ...
	Scope string `json:"scope,omitempty"`
	// Variant narrows KindStage errors ("RaiseStage", "CaseNoMatch",
	// "UntilExhausted", ...).
	Variant string `json:"variant,omitempty"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Scope != "" {
		b.WriteString("[")
		b.WriteString(e.Scope)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *FlowError) Unwrap() error { return e.Cause }

// Is reports whether target is a FlowError with the same kind.
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// MarshalJSON includes the cause message when present.
func (e *FlowError) MarshalJSON() ([]byte, error) {
	type alias FlowError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// WithScope returns a copy of the error scoped to the given path.
func (e *FlowError) WithScope(scope string) *FlowError {
	return &FlowError{Kind: e.Kind, Message: e.Message, Scope: scope, Variant: e.Variant, Cause: e.Cause}
}

// Entry is the JSON shape errors take inside a run context, under
// "<scope>.errors".
type Entry struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// ToEntry converts any error into a context entry. FlowErrors keep their
// kind as the name; foreign errors are recorded verbatim.
func ToEntry(err error) Entry {
	if fe := AsFlowError(err); fe != nil {
		name := string(fe.Kind)
		if fe.Kind == KindStage && fe.Variant != "" {
			name = fe.Variant
		}
		return Entry{Name: name, Message: fe.Message}
	}
	return Entry{Name: "Error", Message: err.Error()}
}

// AsFlowError unwraps err to a FlowError, or returns nil.
func AsFlowError(err error) *FlowError {
	for err != nil {
		if fe, ok := err.(*FlowError); ok {
			return fe
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// IsKind reports whether err unwraps to a FlowError of the given kind.
func IsKind(err error, kind Kind) bool {
	fe := AsFlowError(err)
	return fe != nil && fe.Kind == kind
}

// --- Constructors ---

// Param returns a parameter coercion error for the named parameter.
func Param(name, format string, args ...any) *FlowError {
	return &FlowError{Kind: KindParam, Scope: "params." + name, Message: fmt.Sprintf(format, args...)}
}

// Template returns a template resolution error.
func Template(format string, args ...any) *FlowError {
	return &FlowError{Kind: KindTemplate, Message: fmt.Sprintf(format, args...)}
}

// Definition returns a workflow definition error.
func Definition(format string, args ...any) *FlowError {
	return &FlowError{Kind: KindDefinition, Message: fmt.Sprintf(format, args...)}
}

// Stage returns a stage execution error. The variant names the failing
// behavior ("RaiseStage", "CaseNoMatch", "UntilExhausted", "BashStage", ...).
func Stage(variant, format string, args ...any) *FlowError {
	return &FlowError{Kind: KindStage, Variant: variant, Message: fmt.Sprintf(format, args...)}
}

// Job returns a job-level error.
func Job(id, format string, args ...any) *FlowError {
	return &FlowError{Kind: KindJob, Scope: "jobs." + id, Message: fmt.Sprintf(format, args...)}
}

// Workflow returns a workflow-level error.
func Workflow(format string, args ...any) *FlowError {
	return &FlowError{Kind: KindWorkflow, Message: fmt.Sprintf(format, args...)}
}

// CronParse returns a cron expression parse error.
func CronParse(format string, args ...any) *FlowError {
	return &FlowError{Kind: KindCronParse, Message: fmt.Sprintf(format, args...)}
}

// CronNoMatch returns the bounded-lookahead exhaustion error.
func CronNoMatch(expr string) *FlowError {
	return &FlowError{Kind: KindCronNoMatch, Message: fmt.Sprintf("no matching instant within lookahead for %q", expr)}
}

// Timeout returns a deadline error for the given scope.
func Timeout(scope string, seconds float64) *FlowError {
	return &FlowError{Kind: KindTimeout, Scope: scope, Message: fmt.Sprintf("timed out after %gs", seconds)}
}

// Cancelled returns a cancellation error for the given scope.
func Cancelled(scope string) *FlowError {
	return &FlowError{Kind: KindCancelled, Scope: scope, Message: "execution was cancelled"}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, err error, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}
