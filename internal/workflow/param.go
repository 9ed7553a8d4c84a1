package workflow

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mpeters8/flowrun/internal/errors"
)

// ParamType names the accepted parameter types. Container types may carry
// an element type ("array-of-int", "map-of-str").
type ParamType string

const (
	TypeString   ParamType = "str"
	TypeInt      ParamType = "int"
	TypeFloat    ParamType = "float"
	TypeDecimal  ParamType = "decimal"
	TypeBool     ParamType = "bool"
	TypeDate     ParamType = "date"
	TypeDatetime ParamType = "datetime"
	TypeArray    ParamType = "array"
	TypeMap      ParamType = "map"
	TypeChoice   ParamType = "choice"
)

// Param is the declared specification of one workflow parameter.
type Param struct {
	Type    ParamType `yaml:"type"`
	Default any       `yaml:"default,omitempty"`
	Desc    string    `yaml:"desc,omitempty"`
	// Options lists the allowed values for choice parameters, ordered.
	Options []string `yaml:"options,omitempty"`
	// Required rejects execution when the caller supplies no value and no
	// default exists.
	Required bool `yaml:"required,omitempty"`
}

// validate checks the parameter specification itself.
func (p Param) validate(name string) error {
	base := p.baseType()
	switch base {
	case TypeString, TypeInt, TypeFloat, TypeDecimal, TypeBool,
		TypeDate, TypeDatetime, TypeArray, TypeMap:
	case TypeChoice:
		if len(p.Options) == 0 {
			return errors.Definition("choice parameter %q has no options", name)
		}
		seen := make(map[string]bool, len(p.Options))
		for _, o := range p.Options {
			if seen[o] {
				return errors.Definition("choice parameter %q has duplicate option %q", name, o)
			}
			seen[o] = true
		}
	default:
		return errors.Definition("parameter %q has unknown type %q", name, p.Type)
	}
	return nil
}

func (p Param) baseType() ParamType {
	t := string(p.Type)
	switch t {
	case "":
		return TypeString
	case "string":
		return TypeString
	case "integer":
		return TypeInt
	case "boolean":
		return TypeBool
	}
	if rest, ok := strings.CutPrefix(t, "array-of-"); ok && rest != "" {
		return TypeArray
	}
	if rest, ok := strings.CutPrefix(t, "map-of-"); ok && rest != "" {
		return TypeMap
	}
	return ParamType(t)
}

func (p Param) elemType() ParamType {
	t := string(p.Type)
	if rest, ok := strings.CutPrefix(t, "array-of-"); ok {
		return ParamType(rest)
	}
	if rest, ok := strings.CutPrefix(t, "map-of-"); ok {
		return ParamType(rest)
	}
	return ""
}

// Coerce converts a received raw value to the declared type. loc supplies
// the default timezone for datetimes without an offset.
func (p Param) Coerce(name string, raw any, loc *time.Location) (any, error) {
	if raw == nil {
		if p.Default != nil {
			return p.coerceValue(name, p.Default, loc)
		}
		if p.baseType() == TypeChoice {
			// Choice defaults to its first option.
			return p.Options[0], nil
		}
		if p.Required {
			return nil, errors.Param(name, "required parameter not supplied")
		}
		return nil, nil
	}
	return p.coerceValue(name, raw, loc)
}

func (p Param) coerceValue(name string, raw any, loc *time.Location) (any, error) {
	switch p.baseType() {
	case TypeString:
		return coerceScalar(name, raw, TypeString, loc)
	case TypeInt:
		return coerceScalar(name, raw, TypeInt, loc)
	case TypeFloat:
		return coerceScalar(name, raw, TypeFloat, loc)
	case TypeDecimal:
		return coerceScalar(name, raw, TypeDecimal, loc)
	case TypeBool:
		return coerceScalar(name, raw, TypeBool, loc)
	case TypeDate:
		return coerceScalar(name, raw, TypeDate, loc)
	case TypeDatetime:
		return coerceScalar(name, raw, TypeDatetime, loc)
	case TypeArray:
		return p.coerceArray(name, raw, loc)
	case TypeMap:
		return p.coerceMap(name, raw, loc)
	case TypeChoice:
		s, ok := raw.(string)
		if !ok {
			s = stringifyRaw(raw)
		}
		for _, o := range p.Options {
			if s == o {
				return s, nil
			}
		}
		return nil, errors.Param(name, "value %q is not one of %v", s, p.Options)
	}
	return nil, errors.Param(name, "unknown type %q", p.Type)
}

func (p Param) coerceArray(name string, raw any, loc *time.Location) (any, error) {
	var items []any
	switch x := raw.(type) {
	case []any:
		items = x
	case string:
		if err := json.Unmarshal([]byte(x), &items); err != nil {
			return nil, errors.Param(name, "cannot parse %q as array: %v", x, err)
		}
	default:
		return nil, errors.Param(name, "cannot coerce %T to array", raw)
	}
	if elem := p.elemType(); elem != "" {
		out := make([]any, len(items))
		for i, item := range items {
			v, err := coerceScalar(name, item, elem, loc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return items, nil
}

func (p Param) coerceMap(name string, raw any, loc *time.Location) (any, error) {
	var m map[string]any
	switch x := raw.(type) {
	case map[string]any:
		m = x
	case string:
		if err := json.Unmarshal([]byte(x), &m); err != nil {
			return nil, errors.Param(name, "cannot parse %q as map: %v", x, err)
		}
	default:
		return nil, errors.Param(name, "cannot coerce %T to map", raw)
	}
	if elem := p.elemType(); elem != "" {
		out := make(map[string]any, len(m))
		for k, item := range m {
			v, err := coerceScalar(name, item, elem, loc)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return m, nil
}

// coerceScalar handles the non-container types. Numeric strings accept `_`
// separators; NaN and Inf are rejected for every type except float.
func coerceScalar(name string, raw any, typ ParamType, loc *time.Location) (any, error) {
	switch typ {
	case "string":
		typ = TypeString
	case "integer":
		typ = TypeInt
	case "boolean":
		typ = TypeBool
	}
	switch typ {
	case TypeString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return stringifyRaw(raw), nil

	case TypeInt:
		switch x := raw.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if x != float64(int(x)) {
				return nil, errors.Param(name, "%v is not an integer", x)
			}
			return int(x), nil
		case string:
			n, err := strconv.Atoi(cleanNumeric(x))
			if err != nil {
				return nil, errors.Param(name, "cannot parse %q as int", x)
			}
			return n, nil
		}
		return nil, errors.Param(name, "cannot coerce %T to int", raw)

	case TypeFloat:
		switch x := raw.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(cleanNumeric(x), 64)
			if err != nil {
				return nil, errors.Param(name, "cannot parse %q as float", x)
			}
			return f, nil
		}
		return nil, errors.Param(name, "cannot coerce %T to float", raw)

	case TypeDecimal:
		switch x := raw.(type) {
		case decimal.Decimal:
			return x, nil
		case int:
			return decimal.NewFromInt(int64(x)), nil
		case float64:
			return decimal.NewFromFloat(x), nil
		case string:
			d, err := decimal.NewFromString(cleanNumeric(x))
			if err != nil {
				return nil, errors.Param(name, "cannot parse %q as decimal", x)
			}
			return d, nil
		}
		return nil, errors.Param(name, "cannot coerce %T to decimal", raw)

	case TypeBool:
		switch x := raw.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, errors.Param(name, "cannot parse %q as bool", x)
			}
			return b, nil
		}
		return nil, errors.Param(name, "cannot coerce %T to bool", raw)

	case TypeDate:
		switch x := raw.(type) {
		case time.Time:
			return time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, time.UTC), nil
		case string:
			t, err := time.Parse("2006-01-02", x)
			if err != nil {
				return nil, errors.Param(name, "cannot parse %q as date (want YYYY-MM-DD)", x)
			}
			return t, nil
		}
		return nil, errors.Param(name, "cannot coerce %T to date", raw)

	case TypeDatetime:
		switch x := raw.(type) {
		case time.Time:
			return x, nil
		case string:
			if t, err := time.Parse(time.RFC3339, x); err == nil {
				return t, nil
			}
			for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
				if t, err := time.ParseInLocation(layout, x, loc); err == nil {
					return t, nil
				}
			}
			return nil, errors.Param(name, "cannot parse %q as datetime", x)
		}
		return nil, errors.Param(name, "cannot coerce %T to datetime", raw)
	}
	return nil, errors.Param(name, "unknown element type %q", typ)
}

func cleanNumeric(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "_", "")
}

func stringifyRaw(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// CoerceParams applies the declared parameter specs to raw caller values.
// Unknown parameter names are rejected.
func CoerceParams(specs map[string]Param, raw map[string]any, loc *time.Location) (map[string]any, error) {
	if loc == nil {
		loc = time.UTC
	}
	for name := range raw {
		if _, ok := specs[name]; !ok {
			return nil, errors.Param(name, "parameter is not declared by the workflow")
		}
	}
	out := make(map[string]any, len(specs))
	for name, spec := range specs {
		v, err := spec.Coerce(name, raw[name], loc)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out[name] = v
		}
	}
	return out, nil
}
