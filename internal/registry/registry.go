// Package registry holds the callers a workflow can invoke through `uses`
// references of the form <namespace>/<name>@<tag>, plus the ScriptRunner
// seam used by script stages. Registries are populated at startup and are
// immutable afterwards from the executor's point of view.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/mpeters8/flowrun/internal/errors"
)

// usesRe validates <namespace>/<name>@<tag> references.
var usesRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*/[a-z0-9][a-z0-9_-]*@[A-Za-z0-9._-]+$`)

// ArgType names the accepted argument types for a caller signature.
type ArgType string

const (
	ArgString ArgType = "str"
	ArgInt    ArgType = "int"
	ArgFloat  ArgType = "float"
	ArgBool   ArgType = "bool"
	ArgAny    ArgType = "any"
)

// Arg declares one named argument of a caller.
type Arg struct {
	Name     string
	Type     ArgType
	Required bool
	Default  any
}

// Signature is the declared argument list of a caller. Arguments arriving
// from a stage's `with:` mapping are coerced against it at call time.
type Signature struct {
	Args []Arg
}

// Func is the caller implementation. It receives coerced arguments and
// returns the stage outputs.
type Func func(ctx context.Context, args map[string]any) (map[string]any, error)

// Entry is a registered caller.
type Entry struct {
	Uses      string
	Signature Signature
	Fn        Func
}

// ScriptRunner executes a script stage's source with a snapshot of the
// current context bound as locals. Top-level names bound at exit become
// the stage outputs. The core does not prescribe the script language.
type ScriptRunner interface {
	Run(ctx context.Context, source string, locals map[string]any) (map[string]any, error)
}

// Registry maps uses references to callers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a caller. The uses reference must be well formed and not
// already taken.
func (r *Registry) Register(uses string, sig Signature, fn Func) error {
	if !usesRe.MatchString(uses) {
		return fmt.Errorf("malformed uses reference %q (want namespace/name@tag)", uses)
	}
	if fn == nil {
		return fmt.Errorf("caller %q has no implementation", uses)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[uses]; exists {
		return fmt.Errorf("caller %q is already registered", uses)
	}
	r.entries[uses] = Entry{Uses: uses, Signature: sig, Fn: fn}
	return nil
}

// Resolve looks up a caller by its uses reference.
func (r *Registry) Resolve(uses string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[uses]
	if !ok {
		return Entry{}, errors.Stage("CallStage", "caller %q is not registered", uses)
	}
	return e, nil
}

// Call resolves a caller, coerces args against its signature and invokes it.
func (r *Registry) Call(ctx context.Context, uses string, args map[string]any) (map[string]any, error) {
	entry, err := r.Resolve(uses)
	if err != nil {
		return nil, err
	}
	coerced, err := entry.Signature.Coerce(args)
	if err != nil {
		return nil, errors.Wrap(errors.KindStage, err, "arguments for caller %q", uses)
	}
	return entry.Fn(ctx, coerced)
}

// Coerce validates raw arguments against the signature and returns the
// coerced mapping. Unknown arguments are rejected; missing optional ones
// take their defaults.
func (s Signature) Coerce(raw map[string]any) (map[string]any, error) {
	declared := make(map[string]Arg, len(s.Args))
	for _, a := range s.Args {
		declared[a.Name] = a
	}
	for name := range raw {
		if _, ok := declared[name]; !ok {
			return nil, fmt.Errorf("unknown argument %q", name)
		}
	}

	out := make(map[string]any, len(s.Args))
	for _, a := range s.Args {
		v, ok := raw[a.Name]
		if !ok {
			if a.Required {
				return nil, fmt.Errorf("missing required argument %q", a.Name)
			}
			if a.Default != nil {
				out[a.Name] = a.Default
			}
			continue
		}
		coerced, err := coerceArg(v, a.Type)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", a.Name, err)
		}
		out[a.Name] = coerced
	}
	return out, nil
}

func coerceArg(v any, typ ArgType) (any, error) {
	switch typ {
	case ArgAny, "":
		return v, nil
	case ArgString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	case ArgInt:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if x == float64(int(x)) {
				return int(x), nil
			}
			return nil, fmt.Errorf("%v is not an integer", x)
		case string:
			n, err := strconv.Atoi(x)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as int", x)
			}
			return n, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to int", v)
	case ArgFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as float", x)
			}
			return f, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to float", v)
	case ArgBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as bool", x)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to bool", v)
	}
	return nil, fmt.Errorf("unknown argument type %q", typ)
}
