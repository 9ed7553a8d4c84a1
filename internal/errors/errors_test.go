package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowError_Message(t *testing.T) {
	err := Param("run_date", "cannot parse %q as date", "nope")
	assert.Equal(t, `ParamError[params.run_date]: cannot parse "nope" as date`, err.Error())
}

func TestFlowError_IsMatchesKind(t *testing.T) {
	err := Template("unresolved variable %q", "params.x")
	wrapped := fmt.Errorf("resolve stage: %w", err)

	assert.True(t, errors.Is(wrapped, &FlowError{Kind: KindTemplate}))
	assert.False(t, errors.Is(wrapped, &FlowError{Kind: KindParam}))
	assert.True(t, IsKind(wrapped, KindTemplate))
}

func TestAsFlowError_Unwraps(t *testing.T) {
	inner := Definition("duplicate job id %q", "j1")
	wrapped := fmt.Errorf("load: %w", inner)

	fe := AsFlowError(wrapped)
	require.NotNil(t, fe)
	assert.Equal(t, KindDefinition, fe.Kind)

	assert.Nil(t, AsFlowError(errors.New("plain")))
	assert.Nil(t, AsFlowError(nil))
}

func TestToEntry_StageVariant(t *testing.T) {
	entry := ToEntry(Stage("UntilExhausted", "loop ended after %d passes", 2))
	assert.Equal(t, "UntilExhausted", entry.Name)
	assert.Equal(t, "loop ended after 2 passes", entry.Message)

	entry = ToEntry(Cancelled("jobs.j1"))
	assert.Equal(t, "Cancelled", entry.Name)

	entry = ToEntry(errors.New("boom"))
	assert.Equal(t, "Error", entry.Name)
	assert.Equal(t, "boom", entry.Message)
}

func TestWithScope_KeepsVariant(t *testing.T) {
	err := Stage("CaseNoMatch", "no branch matched %v", 42).WithScope("jobs.j1.stages.pick")
	assert.Equal(t, "CaseNoMatch", err.Variant)
	assert.Equal(t, "jobs.j1.stages.pick", err.Scope)
}
