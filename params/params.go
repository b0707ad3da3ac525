// Package params parses parameter manifests and resolves them for one environment.
//
// A parameter manifest has one section per environment plus a shared section (named
// "default" unless configured otherwise):
//
//	[default]
//	db_name = app
//	db_url  = postgres://${db_host}/${db_name}
//
//	[staging]
//	db_host = db1
//
// Resolving for "staging" merges the staging section over the shared section and substitutes
// every reference, giving db_url = postgres://db1/app. Only one level of inheritance exists:
// an environment section overrides the shared section and nothing else.
package params

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/rushops/rush/expr"
	"github.com/rushops/rush/manifest"
)

// DefaultSharedSection is the name of the section holding values shared by all environments.
const DefaultSharedSection = "default"

// DefaultMaxDepth bounds how deeply references may nest.
const DefaultMaxDepth = 32

var (
	ErrUnknownEnvironment = errors.New("unknown environment")
	ErrMissingParameter   = errors.New("missing parameter")
	ErrCyclicReference    = errors.New("cyclic reference")
	ErrReferenceTooDeep   = errors.New("reference too deep")
)

var sectionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type param struct {
	expr expr.Expr
	line int
}

type section struct {
	name   string
	line   int
	keys   []string
	values map[string]param
}

// Set is a parsed parameter manifest. It is immutable once parsed.
type Set struct {
	source   string
	sections []*section
	index    map[string]*section
}

// Parse parses parameter manifest text. Duplicate sections and duplicate keys within a
// section are reported as *manifest.ParseError, as are malformed reference tokens.
func Parse(source, text string) (*Set, error) {
	doc, err := manifest.Parse(source, text)
	if err != nil {
		return nil, err
	}

	set := &Set{source: source, index: make(map[string]*section, len(doc.Sections))}
	for _, ds := range doc.Sections {
		if !sectionPattern.MatchString(ds.Header) {
			return nil, &manifest.ParseError{
				Source: source, Line: ds.Line, Text: "[" + ds.Header + "]", Reason: "invalid section name",
			}
		}
		if prev, ok := set.index[ds.Header]; ok {
			return nil, &manifest.ParseError{
				Source: source, Line: ds.Line, Text: "[" + ds.Header + "]",
				Reason: fmt.Sprintf("duplicate section, first declared on line %d", prev.line),
			}
		}

		sec := &section{name: ds.Header, line: ds.Line, values: make(map[string]param, len(ds.Entries))}
		for _, e := range ds.Entries {
			if prev, ok := sec.values[e.Key]; ok {
				return nil, &manifest.ParseError{
					Source: source, Line: e.Line, Text: e.Key,
					Reason: fmt.Sprintf("duplicate key in section %s, first declared on line %d", ds.Header, prev.line),
				}
			}
			x, err := expr.Parse(e.Value)
			if err != nil {
				return nil, &manifest.ParseError{Source: source, Line: e.Line, Text: e.Value, Reason: err.Error()}
			}
			sec.keys = append(sec.keys, e.Key)
			sec.values[e.Key] = param{expr: x, line: e.Line}
		}

		set.sections = append(set.sections, sec)
		set.index[sec.name] = sec
	}

	return set, nil
}

// Source returns the source name given to Parse.
func (s *Set) Source() string { return s.source }

// Sections returns the section names in declaration order.
func (s *Set) Sections() []string {
	names := make([]string, 0, len(s.sections))
	for _, sec := range s.sections {
		names = append(names, sec.name)
	}

	return names
}

// HasSection reports whether a section with the given name exists.
func (s *Set) HasSection(name string) bool {
	_, ok := s.index[name]

	return ok
}

// Keys returns the keys declared in a section, in declaration order.
func (s *Set) Keys(sectionName string) []string {
	sec, ok := s.index[sectionName]
	if !ok {
		return nil
	}

	return slices.Clone(sec.keys)
}

// Resolve parses text and resolves it for environment. See (*Set).Resolve.
func Resolve(text, environment string, opts ...Option) (*Resolved, error) {
	set, err := Parse("", text)
	if err != nil {
		return nil, err
	}

	return set.Resolve(environment, opts...)
}

// Resolve produces the flat parameter mapping for environment.
//
// An empty environment selects the shared section alone. A non-empty environment without a
// matching section fails with ErrUnknownEnvironment unless AllowSharedFallback is set.
func (s *Set) Resolve(environment string, opts ...Option) (*Resolved, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	view := environment
	switch {
	case environment == "" || environment == o.shared:
		view = o.shared
	case !s.HasSection(environment):
		if !o.allowSharedFallback {
			return nil, fmt.Errorf("%w: %q is not declared in %s (sections: %s)",
				ErrUnknownEnvironment, environment, s.describeSource(), strings.Join(s.Sections(), ", "))
		}
		view = o.shared
	}

	r := &resolver{
		set:     s,
		opts:    o,
		root:    view,
		cache:   make(map[node]resolvedNode),
		onStack: make(map[node]int),
	}

	keys := s.visibleKeys(view, o.shared)
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		v, err := r.resolve(node{view: view, key: key}, 0)
		if err != nil {
			sec, p, _ := r.lookupRaw(node{view: view, key: key})

			return nil, fmt.Errorf("parameter %s (%s:%d in [%s]): %w", key, s.describeSource(), p.line, sec, err)
		}
		values[key] = v
	}

	for _, key := range o.required {
		if _, ok := values[key]; !ok {
			return nil, fmt.Errorf("%w: %q is required but not defined for environment %q",
				ErrMissingParameter, key, environment)
		}
	}

	return newResolved(environment, values), nil
}

func (s *Set) describeSource() string {
	if s.source == "" {
		return "parameter manifest"
	}

	return s.source
}

// visibleKeys returns the sorted union of the keys of view and the shared section.
func (s *Set) visibleKeys(view, shared string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, name := range []string{shared, view} {
		sec, ok := s.index[name]
		if !ok {
			continue
		}
		for _, k := range sec.keys {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)

	return keys
}

type option struct {
	shared              string
	allowSharedFallback bool
	maxDepth            int
	lookupEnv           func(string) (string, bool)
	required            []string
}

func defaultOptions() option {
	return option{
		shared:    DefaultSharedSection,
		maxDepth:  DefaultMaxDepth,
		lookupEnv: os.LookupEnv,
	}
}

// Option configures Resolve.
type Option func(*option)

// WithSharedSection sets the name of the section shared by all environments.
func WithSharedSection(name string) Option {
	return func(o *option) {
		if name != "" {
			o.shared = name
		}
	}
}

// AllowSharedFallback lets an environment without its own section resolve from the shared
// section alone.
func AllowSharedFallback() Option {
	return func(o *option) { o.allowSharedFallback = true }
}

// WithMaxDepth bounds reference nesting. Values below 1 are ignored.
func WithMaxDepth(depth int) Option {
	return func(o *option) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

// WithLookupEnv replaces os.LookupEnv for ${env:NAME} lookups.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *option) {
		if fn != nil {
			o.lookupEnv = fn
		}
	}
}

// Require fails resolution with ErrMissingParameter if any of keys is not defined.
func Require(keys ...string) Option {
	return func(o *option) { o.required = append(o.required, keys...) }
}
