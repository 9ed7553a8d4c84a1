package template

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func builtinFilters() map[string]Filter {
	return map[string]Filter{
		"upper":    filterUpper,
		"lower":    filterLower,
		"default":  filterDefault,
		"len":      filterLen,
		"keys":     filterKeys,
		"values":   filterValues,
		"coalesce": filterCoalesce,
		"abspath":  filterAbspath,
		"fmt":      filterFmt,
		"tojson":   filterToJSON,
	}
}

func filterUpper(v any, _ []any) (any, error) { return strings.ToUpper(Stringify(v)), nil }
func filterLower(v any, _ []any) (any, error) { return strings.ToLower(Stringify(v)), nil }

// default substitutes the argument when the value is nil or an empty
// string.
func filterDefault(v any, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("default takes exactly one argument")
	}
	if v == nil {
		return args[0], nil
	}
	if s, ok := v.(string); ok && s == "" {
		return args[0], nil
	}
	return v, nil
}

func filterLen(v any, _ []any) (any, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		return len(x), nil
	case []any:
		return len(x), nil
	case map[string]any:
		return len(x), nil
	}
	return nil, fmt.Errorf("len of %T is not defined", v)
}

func filterKeys(v any, _ []any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("keys of %T is not defined", v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, nil
}

func filterValues(v any, _ []any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("values of %T is not defined", v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out, nil
}

// coalesce returns the pipeline value when non-nil, otherwise the first
// non-nil argument.
func filterCoalesce(v any, args []any) (any, error) {
	if v != nil {
		return v, nil
	}
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func filterAbspath(v any, _ []any) (any, error) {
	return filepath.Abs(Stringify(v))
}

// fmt formats times with strftime directives and everything else with
// Sprintf.
func filterFmt(v any, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("fmt takes exactly one pattern argument")
	}
	pattern, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("fmt pattern must be a string")
	}
	if t, ok := asTime(v); ok {
		return strftime(t, pattern), nil
	}
	return fmt.Sprintf(pattern, v), nil
}

func filterToJSON(v any, _ []any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// strftime renders the %-directives used by fmt patterns.
func strftime(t time.Time, pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '%' || i == len(pattern)-1 {
			b.WriteByte(pattern[i])
			continue
		}
		i++
		switch pattern[i] {
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'y':
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case 'j':
			fmt.Fprintf(&b, "%03d", t.YearDay())
		case 'a':
			b.WriteString(t.Format("Mon"))
		case 'A':
			b.WriteString(t.Format("Monday"))
		case 'b':
			b.WriteString(t.Format("Jan"))
		case 'B':
			b.WriteString(t.Format("January"))
		case 'z':
			b.WriteString(t.Format("-0700"))
		case 'Z':
			b.WriteString(t.Format("MST"))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(pattern[i])
		}
	}
	return b.String()
}

// Stringify renders a resolved value for interpolation into surrounding
// text.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Location() == time.UTC {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case error:
		return x.Error()
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
