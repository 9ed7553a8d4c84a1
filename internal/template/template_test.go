package template

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/registry"
)

func testEnv() map[string]any {
	return map[string]any{
		"params": map[string]any{
			"name":     "world",
			"count":    3,
			"run_date": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			"tags":     []any{"a", "b"},
			"extra":    map[string]any{"region": "eu", "zone": "1"},
		},
		"matrix": map[string]any{"n": 2},
	}
}

func TestResolveString_PlainIsUnchanged(t *testing.T) {
	r := New(nil)
	out, err := r.ResolveString(context.Background(), "no templates here", testEnv(), nil)
	require.NoError(t, err)
	assert.Equal(t, "no templates here", out)
}

func TestResolveString_Interpolation(t *testing.T) {
	r := New(nil)
	out, err := r.ResolveString(context.Background(), "hello ${{ params.name }} x${{ matrix.n }}", testEnv(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world x2", out)
}

func TestResolveString_WholeTemplateKeepsType(t *testing.T) {
	r := New(nil)
	out, err := r.ResolveString(context.Background(), "${{ params.count }}", testEnv(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out)

	out, err = r.ResolveString(context.Background(), "${{ params.tags }}", testEnv(), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestResolveString_UnresolvedVariable(t *testing.T) {
	r := New(nil)
	_, err := r.ResolveString(context.Background(), "${{ params.missing }}", testEnv(), nil)
	assert.True(t, errors.IsKind(err, errors.KindTemplate))

	// `?` suffix resolves missing to nil / empty string.
	out, err := r.ResolveString(context.Background(), "${{ params.missing? }}", testEnv(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = r.ResolveString(context.Background(), "v=${{ params.missing? }}", testEnv(), nil)
	require.NoError(t, err)
	assert.Equal(t, "v=", out)
}

func TestResolveString_Expressions(t *testing.T) {
	r := New(nil)
	out, err := r.ResolveString(context.Background(), "${{ params.count + 1 }}", testEnv(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, out)

	ok, err := r.EvalBool(context.Background(), "${{ params.count > 2 }}", testEnv())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.EvalBool(context.Background(), "${{ params.name == 'mars' }}", testEnv())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_WalksContainers(t *testing.T) {
	r := New(nil)
	in := map[string]any{
		"greeting": "hi ${{ params.name }}",
		"nested":   []any{"${{ matrix.n }}", 7},
		"keep":     42,
	}
	out, err := r.Resolve(context.Background(), in, testEnv())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"greeting": "hi world",
		"nested":   []any{2, 7},
		"keep":     42,
	}, out)
}

func TestFilters(t *testing.T) {
	r := New(nil)
	env := testEnv()
	ctx := context.Background()

	cases := []struct {
		tmpl string
		want any
	}{
		{"${{ params.name | upper }}", "WORLD"},
		{"${{ 'ABC' | lower }}", "abc"},
		{"${{ params.missing? | default('fallback') }}", "fallback"},
		{"${{ params.name | default('fallback') }}", "world"},
		{"${{ params.tags | len }}", 2},
		{"${{ params.extra | keys }}", []any{"region", "zone"}},
		{"${{ params.extra | values }}", []any{"eu", "1"}},
		{"${{ params.missing? | coalesce('x', 'y') }}", "x"},
		{"${{ params.tags | tojson }}", `["a","b"]`},
	}
	for _, tc := range cases {
		out, err := r.ResolveString(ctx, tc.tmpl, env, nil)
		require.NoError(t, err, tc.tmpl)
		assert.Equal(t, tc.want, out, tc.tmpl)
	}
}

func TestFilter_FmtDate(t *testing.T) {
	r := New(nil)
	out, err := r.ResolveString(context.Background(), "${{ params.run_date | fmt('%Y/%m') }}", testEnv(), nil)
	require.NoError(t, err)
	assert.Equal(t, "2024/01", out)
}

func TestFilter_Unknown(t *testing.T) {
	r := New(nil)
	_, err := r.ResolveString(context.Background(), "${{ params.name | nope }}", testEnv(), nil)
	assert.True(t, errors.IsKind(err, errors.KindTemplate))
}

func TestCallerPostFilter(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("text/shout@v1", registry.Signature{Args: []registry.Arg{
		{Name: "value", Type: registry.ArgString, Required: true},
		{Name: "suffix", Type: registry.ArgString},
	}}, func(_ context.Context, args map[string]any) (map[string]any, error) {
		s, _ := args["value"].(string)
		suffix, _ := args["suffix"].(string)
		return map[string]any{"text": s + "!" + suffix}, nil
	}))

	r := New(reg)
	out, err := r.ResolveString(context.Background(), "${{ params.name | upper @text/shout@v1 }}",
		testEnv(), map[string]any{"suffix": "?"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "WORLD!?"}, out)
}

func TestLookupPath_SliceIndex(t *testing.T) {
	v, ok := LookupPath(testEnv(), "params.tags.1")
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = LookupPath(testEnv(), "params.tags.9")
	assert.False(t, ok)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "2024-01-01", Stringify(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
