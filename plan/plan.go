// Package plan turns an operations manifest into an ordered, fully bound Plan.
//
// Resolution is all-or-nothing: every invocation is checked against the registry and the
// resolved parameters, every problem is reported, and no plan is returned unless all of them
// bind. Execution therefore never starts against an invalid manifest.
package plan

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rushops/rush/expr"
	"github.com/rushops/rush/operations"
	"github.com/rushops/rush/params"
)

var (
	ErrMissingArgument    = errors.New("missing argument")
	ErrUnexpectedArgument = errors.New("unexpected argument")
)

// StepError locates a binding failure in the operations manifest.
type StepError struct {
	Source    string
	Line      int
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s:%d: [%s]: %v", e.Source, e.Line, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error { return e.Err }

// Step is one bound operation call.
type Step struct {
	// Index is the 0-based position in the plan.
	Index int             `json:"index" yaml:"index"`
	Name  string          `json:"operation" yaml:"operation"`
	Label string          `json:"label,omitempty" yaml:"label,omitempty"`
	Line  int             `json:"line,omitempty" yaml:"line,omitempty"`
	Args  operations.Args `json:"args" yaml:"args"`
}

// String returns the operation name followed by the label, if any.
func (s Step) String() string {
	if s.Label == "" {
		return s.Name
	}

	return s.Name + " (" + s.Label + ")"
}

// Plan is an ordered sequence of bound steps. Order is the declaration order of the manifest.
type Plan struct {
	source      string
	environment string
	steps       []Step
}

// New builds a plan from steps, renumbering them in the given order.
func New(source, environment string, steps ...Step) *Plan {
	p := &Plan{source: source, environment: environment, steps: make([]Step, len(steps))}
	for i, s := range steps {
		s.Index = i
		s.Args = s.Args.Clone()
		p.steps[i] = s
	}

	return p
}

// Source returns the name of the manifest the plan was built from.
func (p *Plan) Source() string { return p.source }

// Environment returns the environment the parameters were resolved for.
func (p *Plan) Environment() string { return p.environment }

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.steps) }

// Steps returns a copy of the steps.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	for i, s := range p.steps {
		s.Args = s.Args.Clone()
		out[i] = s
	}

	return out
}

// Operations returns the operation names in plan order.
func (p *Plan) Operations() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}

	return names
}

type options struct {
	source    string
	lookupEnv func(string) (string, bool)
}

// Option configures Resolve and Bind.
type Option func(*options)

// WithSource names the manifest in error messages. Resolve defaults to "operations manifest".
func WithSource(source string) Option {
	return func(o *options) { o.source = source }
}

// WithLookupEnv replaces os.LookupEnv for ${env:NAME} expressions.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *options) {
		if fn != nil {
			o.lookupEnv = fn
		}
	}
}

// Resolve parses operations manifest text and binds it. See Bind.
func Resolve(text string, resolved *params.Resolved, reg *operations.Registry, opts ...Option) (*Plan, error) {
	o := options{source: "operations manifest"}
	for _, opt := range opts {
		opt(&o)
	}

	invocations, err := Parse(o.source, text)
	if err != nil {
		return nil, err
	}

	return Bind(invocations, resolved, reg, opts...)
}

// Bind checks every invocation against the registry and resolves its arguments against
// resolved. All problems are joined into the returned error, each wrapped in a *StepError;
// the plan is nil unless every invocation binds.
func Bind(invocations []Invocation, resolved *params.Resolved, reg *operations.Registry, opts ...Option) (*Plan, error) {
	o := options{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}
	if resolved == nil {
		resolved = params.NewResolved("", nil)
	}

	var (
		errs  []error
		steps = make([]Step, 0, len(invocations))
	)
	for _, inv := range invocations {
		step, invErrs := bind(inv, resolved, reg, o)
		for _, err := range invErrs {
			errs = append(errs, &StepError{Source: inv.Source, Line: inv.Line, Operation: inv.Operation, Err: err})
		}
		steps = append(steps, step)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	source := ""
	if len(invocations) > 0 {
		source = invocations[0].Source
	}

	return New(source, resolved.Environment(), steps...), nil
}

func bind(inv Invocation, resolved *params.Resolved, reg *operations.Registry, o options) (Step, []error) {
	step := Step{Name: inv.Operation, Label: inv.Label, Line: inv.Line, Args: make(operations.Args, len(inv.Args))}

	spec, err := reg.Lookup(inv.Operation)
	if err != nil {
		return step, []error{err}
	}

	var errs []error
	for _, b := range inv.Args {
		if !spec.Accepts(b.Name) {
			errs = append(errs, fmt.Errorf("%w: %q on line %d (accepts: %s)",
				ErrUnexpectedArgument, b.Name, b.Line, acceptedArgs(spec)))

			continue
		}

		v, err := b.Expr.Expand(func(seg expr.Segment) (string, error) {
			switch {
			case seg.Kind == expr.Env:
				if v, ok := o.lookupEnv(seg.Name); ok {
					return v, nil
				}

				return "", fmt.Errorf("%w: environment variable %s is not set", params.ErrMissingParameter, seg.Name)
			case seg.Scope != "":
				return "", fmt.Errorf("%w: %s: section references are only valid in the parameter manifest",
					params.ErrMissingParameter, seg)
			default:
				return resolved.Get(seg.Name)
			}
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("argument %s on line %d: %w", b.Name, b.Line, err))

			continue
		}
		step.Args[b.Name] = v
	}

	for _, name := range spec.RequiredArgs {
		if _, ok := step.Args[name]; ok {
			continue
		}
		if bound(inv, name) {
			// already reported as unresolvable
			continue
		}
		errs = append(errs, fmt.Errorf("%w: %q is required", ErrMissingArgument, name))
	}

	return step, errs
}

func bound(inv Invocation, name string) bool {
	for _, b := range inv.Args {
		if b.Name == name {
			return true
		}
	}

	return false
}

func acceptedArgs(spec operations.Spec) string {
	all := append(append([]string{}, spec.RequiredArgs...), spec.OptionalArgs...)
	if len(all) == 0 {
		return "none"
	}

	return strings.Join(all, ", ")
}
