package runner

import "fmt"

// NamedArg is a single named argument. Params keeps them in insertion order.
type NamedArg struct {
	Name  string
	Value any
}

// Named is shorthand for NamedArg{Name: name, Value: v}.
func Named(name string, v any) NamedArg {
	return NamedArg{Name: name, Value: v}
}

// Params is an immutable bundle of positional and named arguments for one
// call into a compute unit. Named arguments keep the order they were first
// added in; a repeated name overwrites the earlier value in place.
type Params struct {
	args  []any
	names []string
	named map[string]any
}

// NewParams builds a bundle from positional values and named arguments.
// The input slices are copied.
func NewParams(args []any, named ...NamedArg) Params {
	p := Params{args: append([]any(nil), args...)}
	for _, kv := range named {
		p = p.with(kv.Name, kv.Value)
	}
	return p
}

// Args builds a bundle holding only positional values.
func Args(values ...any) Params {
	return NewParams(values)
}

// With returns a copy of p with the named argument set.
func (p Params) With(name string, v any) Params {
	return p.clone().with(name, v)
}

// with mutates p; callers must own it.
func (p Params) with(name string, v any) Params {
	if p.named == nil {
		p.named = make(map[string]any)
	}
	if _, ok := p.named[name]; !ok {
		p.names = append(p.names, name)
	}
	p.named[name] = v
	return p
}

func (p Params) clone() Params {
	out := Params{
		args:  append([]any(nil), p.args...),
		names: append([]string(nil), p.names...),
	}
	if p.named != nil {
		out.named = make(map[string]any, len(p.named))
		for k, v := range p.named {
			out.named[k] = v
		}
	}
	return out
}

// NumArgs returns the number of positional values.
func (p Params) NumArgs() int { return len(p.args) }

// NumNamed returns the number of named values.
func (p Params) NumNamed() int { return len(p.names) }

// Len returns the total number of arguments.
func (p Params) Len() int { return len(p.args) + len(p.names) }

// Arg returns the positional value at i. It panics if i is out of range,
// like a slice index.
func (p Params) Arg(i int) any { return p.args[i] }

// Args returns a copy of the positional values.
func (p Params) Args() []any { return append([]any(nil), p.args...) }

// Get returns the named value and whether it was present.
func (p Params) Get(name string) (any, bool) {
	v, ok := p.named[name]
	return v, ok
}

// Names returns the named argument keys in insertion order.
func (p Params) Names() []string { return append([]string(nil), p.names...) }

// Named returns the named arguments in insertion order.
func (p Params) Named() []NamedArg {
	out := make([]NamedArg, 0, len(p.names))
	for _, name := range p.names {
		out = append(out, NamedArg{Name: name, Value: p.named[name]})
	}
	return out
}

// Map applies f to every positional and named value and returns a new
// bundle of the same shape. p is not modified.
func (p Params) Map(f func(any) any) Params {
	out, _ := p.MapErr(func(v any) (any, error) { return f(v), nil })
	return out
}

// MapErr is Map for a fallible f. It stops at the first error, which is
// wrapped with the position or name of the offending argument.
func (p Params) MapErr(f func(any) (any, error)) (Params, error) {
	out := Params{
		args:  make([]any, len(p.args)),
		names: append([]string(nil), p.names...),
	}
	for i, v := range p.args {
		nv, err := f(v)
		if err != nil {
			return Params{}, fmt.Errorf("argument %d: %w", i, err)
		}
		out.args[i] = nv
	}
	if len(p.names) > 0 {
		out.named = make(map[string]any, len(p.names))
		for _, name := range p.names {
			nv, err := f(p.named[name])
			if err != nil {
				return Params{}, fmt.Errorf("argument %q: %w", name, err)
			}
			out.named[name] = nv
		}
	}
	return out, nil
}

func (p Params) String() string {
	return fmt.Sprintf("Params(args=%v, named=%v)", p.args, p.Named())
}
