package workflow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpeters8/flowrun/internal/errors"
)

func TestCoerce_Scalars(t *testing.T) {
	cases := []struct {
		name string
		p    Param
		raw  any
		want any
	}{
		{"str passthrough", Param{Type: TypeString}, "hi", "hi"},
		{"str from int", Param{Type: TypeString}, 7, "7"},
		{"str alias", Param{Type: "string"}, "x", "x"},
		{"int from string", Param{Type: TypeInt}, "42", 42},
		{"int underscores", Param{Type: TypeInt}, "1_000_000", 1000000},
		{"int from whole float", Param{Type: TypeInt}, 3.0, 3},
		{"int alias", Param{Type: "integer"}, "5", 5},
		{"float from string", Param{Type: TypeFloat}, "2.5", 2.5},
		{"float underscores", Param{Type: TypeFloat}, "1_234.5", 1234.5},
		{"bool from string", Param{Type: TypeBool}, "true", true},
		{"bool alias", Param{Type: "boolean"}, false, false},
	}
	for _, tc := range cases {
		got, err := tc.p.Coerce("p", tc.raw, time.UTC)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestCoerce_Decimal(t *testing.T) {
	p := Param{Type: TypeDecimal}

	got, err := p.Coerce("amount", "12_500.75", time.UTC)
	require.NoError(t, err)
	d, ok := got.(decimal.Decimal)
	require.True(t, ok)
	assert.Equal(t, "12500.75", d.String())

	// Exact decimal text stays exact, unlike a float64 round trip.
	got, err = p.Coerce("amount", "0.1", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "0.1", got.(decimal.Decimal).String())

	_, err = p.Coerce("amount", "twelve", time.UTC)
	assert.True(t, errors.IsKind(err, errors.KindParam))
}

func TestCoerce_DateDatetime(t *testing.T) {
	date := Param{Type: TypeDate}
	got, err := date.Coerce("d", "2024-02-29", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got)

	_, err = date.Coerce("d", "02/29/2024", time.UTC)
	assert.True(t, errors.IsKind(err, errors.KindParam))

	bkk, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)

	dt := Param{Type: TypeDatetime}
	got, err = dt.Coerce("t", "2024-06-01T08:30:00+07:00", bkk)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 1, 30, 0, 0, time.UTC).Unix(), got.(time.Time).Unix())

	// No offset: interpret in the supplied location.
	got, err = dt.Coerce("t", "2024-06-01 08:30:00", bkk)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 8, 30, 0, 0, bkk).Unix(), got.(time.Time).Unix())
}

func TestCoerce_Containers(t *testing.T) {
	arr := Param{Type: "array-of-int"}
	got, err := arr.Coerce("xs", []any{"1", 2, 3.0}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, got)

	// JSON text is accepted for containers.
	got, err = arr.Coerce("xs", "[10, 20]", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []any{10, 20}, got)

	m := Param{Type: "map-of-str"}
	got, err = m.Coerce("env", map[string]any{"a": 1, "b": "x"}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": "x"}, got)

	_, err = arr.Coerce("xs", "not json", time.UTC)
	assert.True(t, errors.IsKind(err, errors.KindParam))
}

func TestCoerce_Choice(t *testing.T) {
	p := Param{Type: TypeChoice, Options: []string{"dev", "prod"}}

	got, err := p.Coerce("env", "prod", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "prod", got)

	// Missing choice falls back to the first option.
	got, err = p.Coerce("env", nil, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "dev", got)

	_, err = p.Coerce("env", "staging", time.UTC)
	assert.True(t, errors.IsKind(err, errors.KindParam))
}

func TestCoerce_DefaultAndRequired(t *testing.T) {
	// Defaults are coerced like supplied values.
	p := Param{Type: TypeInt, Default: "10"}
	got, err := p.Coerce("n", nil, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	req := Param{Type: TypeString, Required: true}
	_, err = req.Coerce("name", nil, time.UTC)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindParam))
}

func TestCoerceParams(t *testing.T) {
	specs := map[string]Param{
		"count": {Type: TypeInt, Default: 1},
		"env":   {Type: TypeChoice, Options: []string{"dev", "prod"}},
	}

	out, err := CoerceParams(specs, map[string]any{"count": "3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 3, "env": "dev"}, out)

	_, err = CoerceParams(specs, map[string]any{"ghost": 1}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindParam))
}
