// Package template resolves ${{ ... }} expressions embedded in strings,
// mappings and sequences against a run context.
//
// An expression is a dotted path into the context (`params.run_date`,
// `stages.step1.outputs.count`) or a full expression (comparisons,
// arithmetic) evaluated by expr-lang. The result can flow through a filter
// pipeline (`expr | upper | fmt('%Y')`) and finally through a registered
// caller post-filter (`expr @ns/name@tag`). A `?` suffix on the head
// expression turns an unresolved variable into nil instead of an error.
package template

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/registry"
)

var (
	tmplRe   = regexp.MustCompile(`(?s)\$\{\{(.*?)\}\}`)
	pathRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_-]+)*$`)
	callerRe = regexp.MustCompile(`\s@([a-z0-9][a-z0-9_-]*/[a-z0-9][a-z0-9_-]*@[A-Za-z0-9._-]+)\s*$`)
)

// Filter transforms a pipeline value. args are the literal arguments from
// the template text, already evaluated.
type Filter func(v any, args []any) (any, error)

// Resolver resolves templates. Filters are registered at startup; the
// registry backs `@caller` post-filters and may be nil when callers are
// not used.
type Resolver struct {
	filters map[string]Filter
	reg     *registry.Registry
}

// New returns a resolver with the built-in filters installed.
func New(reg *registry.Registry) *Resolver {
	r := &Resolver{filters: make(map[string]Filter), reg: reg}
	for name, f := range builtinFilters() {
		r.filters[name] = f
	}
	return r
}

// RegisterFilter adds a custom filter. Existing names cannot be replaced.
func (r *Resolver) RegisterFilter(name string, f Filter) error {
	if _, exists := r.filters[name]; exists {
		return errors.Template("filter %q is already registered", name)
	}
	r.filters[name] = f
	return nil
}

// HasTemplate reports whether s contains a ${{ }} marker.
func HasTemplate(s string) bool { return tmplRe.MatchString(s) }

// Resolve walks v and resolves every templated string. Maps and slices are
// rebuilt; non-string scalars pass through unchanged.
func (r *Resolver) Resolve(ctx context.Context, v any, env map[string]any) (any, error) {
	return r.ResolveWith(ctx, v, env, nil)
}

// ResolveWith is Resolve with a `with:` mapping forwarded to caller
// post-filters.
func (r *Resolver) ResolveWith(ctx context.Context, v any, env map[string]any, with map[string]any) (any, error) {
	switch x := v.(type) {
	case string:
		return r.ResolveString(ctx, x, env, with)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			resolved, err := r.ResolveWith(ctx, item, env, with)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			resolved, err := r.ResolveWith(ctx, item, env, with)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString resolves one string. When the whole string is a single
// template the raw typed value is returned; otherwise each template result
// is stringified into the surrounding text.
func (r *Resolver) ResolveString(ctx context.Context, s string, env map[string]any, with map[string]any) (any, error) {
	matches := tmplRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string template keeps the native type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return r.eval(ctx, s[matches[0][2]:matches[0][3]], env, with)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		v, err := r.eval(ctx, s[m[2]:m[3]], env, with)
		if err != nil {
			return nil, err
		}
		b.WriteString(Stringify(v))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// EvalBool resolves a condition expression to a boolean.
func (r *Resolver) EvalBool(ctx context.Context, s string, env map[string]any) (bool, error) {
	v, err := r.ResolveString(ctx, s, env, nil)
	if err != nil {
		return false, err
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, errors.Template("condition %q did not resolve to a boolean (got %q)", s, x)
		}
		return b, nil
	case nil:
		return false, nil
	default:
		return false, errors.Template("condition %q did not resolve to a boolean (got %T)", s, v)
	}
}

// eval evaluates the inside of one ${{ }} marker.
func (r *Resolver) eval(ctx context.Context, raw string, env map[string]any, with map[string]any) (any, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return nil, errors.Template("empty expression")
	}

	// Trailing caller post-filter.
	var caller string
	if m := callerRe.FindStringSubmatch(body); m != nil {
		caller = m[1]
		body = strings.TrimSpace(body[:len(body)-len(m[0])])
	}

	segments, err := splitTop(body, '|')
	if err != nil {
		return nil, err
	}
	head := strings.TrimSpace(segments[0])

	optional := false
	if strings.HasSuffix(head, "?") {
		optional = true
		head = strings.TrimSpace(strings.TrimSuffix(head, "?"))
	}

	v, err := r.evalHead(head, env)
	if err != nil {
		if optional && errors.IsKind(err, errors.KindTemplate) {
			v = nil
		} else {
			return nil, err
		}
	}

	for _, seg := range segments[1:] {
		v, err = r.applyFilter(strings.TrimSpace(seg), v, env)
		if err != nil {
			return nil, err
		}
	}

	if caller != "" {
		if r.reg == nil {
			return nil, errors.Template("caller %q referenced but no registry is configured", caller)
		}
		args := map[string]any{"value": v}
		for k, w := range with {
			args[k] = w
		}
		out, err := r.reg.Call(ctx, caller, args)
		if err != nil {
			return nil, errors.Wrap(errors.KindTemplate, err, "caller %q", caller)
		}
		return out, nil
	}
	return v, nil
}

// evalHead evaluates the head expression: a literal, a context path, or a
// full expr-lang expression.
func (r *Resolver) evalHead(head string, env map[string]any) (any, error) {
	if v, ok := parseLiteral(head); ok {
		return v, nil
	}
	if pathRe.MatchString(head) {
		v, found := LookupPath(env, head)
		if !found {
			return nil, errors.Template("unresolved variable %q", head)
		}
		return v, nil
	}

	prog, err := expr.Compile(head, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, errors.Wrap(errors.KindTemplate, err, "compile expression %q", head)
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return nil, errors.Wrap(errors.KindTemplate, err, "evaluate expression %q", head)
	}
	return out, nil
}

func (r *Resolver) applyFilter(seg string, v any, env map[string]any) (any, error) {
	name := seg
	var rawArgs string
	if i := strings.IndexByte(seg, '('); i >= 0 {
		if !strings.HasSuffix(seg, ")") {
			return nil, errors.Template("malformed filter call %q", seg)
		}
		name = strings.TrimSpace(seg[:i])
		rawArgs = seg[i+1 : len(seg)-1]
	}
	f, ok := r.filters[name]
	if !ok {
		return nil, errors.Template("unknown filter %q", name)
	}

	var args []any
	if strings.TrimSpace(rawArgs) != "" {
		parts, err := splitTop(rawArgs, ',')
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if lit, ok := parseLiteral(p); ok {
				args = append(args, lit)
				continue
			}
			if pathRe.MatchString(p) {
				if pv, found := LookupPath(env, p); found {
					args = append(args, pv)
					continue
				}
			}
			return nil, errors.Template("cannot evaluate filter argument %q", p)
		}
	}

	out, err := f(v, args)
	if err != nil {
		return nil, errors.Wrap(errors.KindTemplate, err, "filter %q", name)
	}
	return out, nil
}

// LookupPath walks a dotted path through nested maps and slices. Integer
// segments index into slices.
func LookupPath(env map[string]any, path string) (any, bool) {
	var cur any = env
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// parseLiteral recognizes quoted strings, numbers, booleans and null.
func parseLiteral(s string) (any, bool) {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1], true
		}
	}
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	case "null", "nil", "None":
		return nil, true
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return nil, false
}

// splitTop splits s on sep outside quotes and brackets.
func splitTop(s string, sep byte) ([]string, error) {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, errors.Template("unterminated quote in %q", s)
	}
	if depth != 0 {
		return nil, errors.Template("unbalanced brackets in %q", s)
	}
	parts = append(parts, s[start:])
	return parts, nil
}
