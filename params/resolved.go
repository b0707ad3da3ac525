package params

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cast"
)

// Resolved is the flat, fully substituted parameter mapping for one environment. It holds no
// unresolved references and is never modified after construction.
type Resolved struct {
	environment string
	values      map[string]string
	keys        []string
}

// NewResolved builds a Resolved from already final values. It is mostly useful to callers that
// obtain parameters from somewhere other than a manifest, and to tests.
func NewResolved(environment string, values map[string]string) *Resolved {
	return newResolved(environment, maps.Clone(values))
}

func newResolved(environment string, values map[string]string) *Resolved {
	if values == nil {
		values = map[string]string{}
	}
	keys := slices.Sorted(maps.Keys(values))

	return &Resolved{environment: environment, values: values, keys: keys}
}

// Environment returns the environment the parameters were resolved for.
func (r *Resolved) Environment() string { return r.environment }

// Len returns the number of parameters.
func (r *Resolved) Len() int { return len(r.values) }

// Keys returns the parameter names in sorted order.
func (r *Resolved) Keys() []string { return slices.Clone(r.keys) }

// Map returns a copy of the parameters.
func (r *Resolved) Map() map[string]string { return maps.Clone(r.values) }

// Lookup returns the value of name and whether it is defined.
func (r *Resolved) Lookup(name string) (string, bool) {
	v, ok := r.values[name]

	return v, ok
}

// Get returns the value of name or an error wrapping ErrMissingParameter.
func (r *Resolved) Get(name string) (string, error) {
	v, ok := r.values[name]
	if !ok {
		return "", fmt.Errorf("%w: %q is not defined for environment %q", ErrMissingParameter, name, r.environment)
	}

	return v, nil
}

// Bool returns name converted to a bool. Accepts the forms understood by strconv.ParseBool.
func (r *Resolved) Bool(name string) (bool, error) {
	v, err := r.Get(name)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("parameter %s: %w", name, err)
	}

	return b, nil
}

// Int returns name converted to an int.
func (r *Resolved) Int(name string) (int, error) {
	v, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}

	return i, nil
}
