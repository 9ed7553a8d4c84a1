package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpeters8/flowrun/internal/errors"
)

func echoCaller(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"echoed": args}, nil
}

func TestRegister_Validation(t *testing.T) {
	r := New()

	assert.Error(t, r.Register("no-slash@v1", Signature{}, echoCaller))
	assert.Error(t, r.Register("ns/name", Signature{}, echoCaller))
	assert.Error(t, r.Register("ns/name@v1", Signature{}, nil))

	require.NoError(t, r.Register("tasks/extract@v1", Signature{}, echoCaller))
	assert.Error(t, r.Register("tasks/extract@v1", Signature{}, echoCaller), "duplicate")
}

func TestResolve_Unknown(t *testing.T) {
	r := New()
	_, err := r.Resolve("ns/missing@v1")
	assert.True(t, errors.IsKind(err, errors.KindStage))
}

func TestCall_CoercesAgainstSignature(t *testing.T) {
	r := New()
	sig := Signature{Args: []Arg{
		{Name: "table", Type: ArgString, Required: true},
		{Name: "limit", Type: ArgInt, Default: 10},
		{Name: "dry_run", Type: ArgBool},
	}}
	var got map[string]any
	require.NoError(t, r.Register("db/query@v1", sig, func(_ context.Context, args map[string]any) (map[string]any, error) {
		got = args
		return map[string]any{"rows": 0}, nil
	}))

	out, err := r.Call(context.Background(), "db/query@v1", map[string]any{
		"table":   "events",
		"limit":   "25",
		"dry_run": "true",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": 0}, out)
	assert.Equal(t, map[string]any{"table": "events", "limit": 25, "dry_run": true}, got)
}

func TestCall_ArgumentErrors(t *testing.T) {
	r := New()
	sig := Signature{Args: []Arg{{Name: "n", Type: ArgInt, Required: true}}}
	require.NoError(t, r.Register("ns/fn@v1", sig, echoCaller))

	_, err := r.Call(context.Background(), "ns/fn@v1", map[string]any{})
	assert.ErrorContains(t, err, "missing required argument")

	_, err = r.Call(context.Background(), "ns/fn@v1", map[string]any{"n": "x"})
	assert.ErrorContains(t, err, "cannot parse")

	_, err = r.Call(context.Background(), "ns/fn@v1", map[string]any{"n": 1, "extra": true})
	assert.ErrorContains(t, err, "unknown argument")
}

func TestCoerce_FloatAndWholeFloatInt(t *testing.T) {
	sig := Signature{Args: []Arg{
		{Name: "ratio", Type: ArgFloat},
		{Name: "count", Type: ArgInt},
	}}
	out, err := sig.Coerce(map[string]any{"ratio": 1, "count": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ratio": 1.0, "count": 3}, out)

	_, err = sig.Coerce(map[string]any{"count": 3.5})
	assert.Error(t, err)
}
