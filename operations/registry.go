package operations

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrRegistryFrozen     = errors.New("operation registry is frozen")
)

// Registry maps operation names to their specs.
//
// A registry is populated once at process start and then frozen. It has no locks: Register
// must not be called concurrently with anything else, while Lookup and List are safe to call
// from many goroutines once registration is finished.
type Registry struct {
	specs  map[string]Spec
	frozen bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a spec. Registering the same spec twice is a no-op; registering a different
// spec under an existing name fails with ErrDuplicateOperation.
func (r *Registry) Register(spec Spec) error {
	if r.frozen {
		return fmt.Errorf("register %s: %w", spec.Name, ErrRegistryFrozen)
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	if existing, ok := r.specs[spec.Name]; ok {
		if existing.sameAs(spec) {
			return nil
		}

		return fmt.Errorf("%w: %s (registered version %s, got %s)",
			ErrDuplicateOperation, spec.Name, existing.VersionString(), spec.VersionString())
	}

	r.specs[spec.Name] = spec

	return nil
}

// MustRegister registers specs and panics on the first error. Registration errors are
// programmer errors, so this is the usual way handler packages populate a registry.
func (r *Registry) MustRegister(specs ...Spec) {
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool { return r.frozen }

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (Spec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}

	return spec, nil
}

// Len returns the number of registered operations.
func (r *Registry) Len() int { return len(r.specs) }

// List returns every spec ordered by category, then name.
func (r *Registry) List() []Spec {
	specs := slices.Collect(maps.Values(r.specs))
	slices.SortFunc(specs, func(a, b Spec) int {
		return cmp.Or(strings.Compare(a.Category, b.Category), strings.Compare(a.Name, b.Name))
	})

	return specs
}
