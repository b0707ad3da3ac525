package operations

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cast"
)

// Args are the bound, fully resolved arguments of one invocation.
type Args map[string]string

// Get returns the value of name, or "" when it is not bound.
func (a Args) Get(name string) string { return a[name] }

// Lookup returns the value of name and whether it is bound.
func (a Args) Lookup(name string) (string, bool) {
	v, ok := a[name]

	return v, ok
}

// GetOr returns the value of name, or def when it is not bound or empty.
func (a Args) GetOr(name, def string) string {
	if v := a[name]; v != "" {
		return v
	}

	return def
}

// Bool returns name as a bool. An unbound argument is false.
func (a Args) Bool(name string) (bool, error) {
	v, ok := a[name]
	if !ok || v == "" {
		return false, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("argument %s: %w", name, err)
	}

	return b, nil
}

// List splits a comma separated argument, trimming blanks and dropping empty items.
func (a Args) List(name string) []string {
	var out []string
	for item := range strings.SplitSeq(a[name], ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}

// Names returns the bound argument names in sorted order.
func (a Args) Names() []string {
	return slices.Sorted(maps.Keys(a))
}

// Clone returns a copy of the arguments.
func (a Args) Clone() Args {
	return maps.Clone(a)
}
