package operations

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"
)

// Categories of the built-in operations. Specs may use any category string; these are the ones
// rush ships with.
const (
	CategoryFilesystem = "filesystem"
	CategoryRepo       = "repo"
	CategoryDB         = "db"
	CategoryHost       = "host"
	CategorySite       = "site"
	CategoryUtility    = "utility"
)

// ErrInvalidSpec is returned when a Spec cannot be registered because it is incomplete.
var ErrInvalidSpec = errors.New("invalid operation spec")

// Result is what a handler reports back for one invocation.
type Result struct {
	// Message is a short human readable summary, e.g. "created 3 directories".
	Message string `json:"message" yaml:"message"`
	// Output is raw captured output kept for diagnostics, e.g. the combined output of a command.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// Handler performs the side effect of one operation.
//
// A returned error marks the invocation as failed; the Result may still carry the output
// captured before the failure. Handlers are expected to honour ctx cancellation.
type Handler interface {
	Invoke(ctx context.Context, args Args) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, args Args) (Result, error)

// Invoke calls f(ctx, args).
func (f HandlerFunc) Invoke(ctx context.Context, args Args) (Result, error) {
	return f(ctx, args)
}

// Definition is the metadata of an operation.
type Definition struct {
	Name        string          `json:"name" yaml:"name"`
	Version     *semver.Version `json:"version" yaml:"version"`
	Description string          `json:"description" yaml:"description"`
	Category    string          `json:"category" yaml:"category"`
}

// VersionString returns the version or "0.0.0" when none is set.
func (d Definition) VersionString() string {
	if d.Version == nil {
		return "0.0.0"
	}

	return d.Version.String()
}

// Spec describes a registered operation: its definition, the argument names it accepts and
// the handler that carries it out. Use NewSpec to create one.
type Spec struct {
	Definition

	RequiredArgs []string
	OptionalArgs []string
	Handler      Handler
}

// SpecOption configures a Spec created by NewSpec.
type SpecOption func(*Spec)

// Required declares argument names that every invocation must bind.
func Required(args ...string) SpecOption {
	return func(s *Spec) { s.RequiredArgs = append(s.RequiredArgs, args...) }
}

// Optional declares argument names an invocation may bind.
func Optional(args ...string) SpecOption {
	return func(s *Spec) { s.OptionalArgs = append(s.OptionalArgs, args...) }
}

// InCategory sets the category of the operation.
func InCategory(category string) SpecOption {
	return func(s *Spec) { s.Category = category }
}

// NewSpec creates a new operation spec.
// Version can be created using semver.MustParse("1.0.0") or semver.New("1.0.0").
func NewSpec(name string, version *semver.Version, description string, handler Handler, opts ...SpecOption) Spec {
	s := Spec{
		Definition: Definition{
			Name:        name,
			Version:     version,
			Description: description,
		},
		Handler: handler,
	}
	for _, opt := range opts {
		opt(&s)
	}
	slices.Sort(s.RequiredArgs)
	slices.Sort(s.OptionalArgs)
	s.RequiredArgs = slices.Compact(s.RequiredArgs)
	s.OptionalArgs = slices.Compact(s.OptionalArgs)

	return s
}

// IsRequired reports whether arg must be bound.
func (s Spec) IsRequired(arg string) bool {
	return slices.Contains(s.RequiredArgs, arg)
}

// Accepts reports whether arg is a required or optional argument of the operation.
func (s Spec) Accepts(arg string) bool {
	return s.IsRequired(arg) || slices.Contains(s.OptionalArgs, arg)
}

// Validate checks that the spec can be registered.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if s.Handler == nil {
		return fmt.Errorf("%w: operation %s has no handler", ErrInvalidSpec, s.Name)
	}
	for _, arg := range s.RequiredArgs {
		if slices.Contains(s.OptionalArgs, arg) {
			return fmt.Errorf("%w: operation %s declares %s as both required and optional", ErrInvalidSpec, s.Name, arg)
		}
	}

	return nil
}

// sameAs reports whether two specs describe the same operation. Handlers are not compared as
// functions are not comparable in Go.
func (s Spec) sameAs(o Spec) bool {
	return s.Name == o.Name &&
		s.VersionString() == o.VersionString() &&
		s.Description == o.Description &&
		s.Category == o.Category &&
		slices.Equal(sorted(s.RequiredArgs), sorted(o.RequiredArgs)) &&
		slices.Equal(sorted(s.OptionalArgs), sorted(o.OptionalArgs))
}

func sorted(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)

	return out
}
