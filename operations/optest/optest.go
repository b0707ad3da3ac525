// Package optest provides utilities for operations testing.
package optest

import (
	"context"
	"maps"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/rushops/rush/operations"
)

// Call is one recorded handler invocation.
type Call struct {
	Name string
	Args operations.Args
}

// Recorder records the invocations of every handler it creates. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

// Handler returns a handler named name that records its invocation and then delegates to fn.
// A nil fn succeeds with the message "ok".
func (r *Recorder) Handler(name string, fn operations.HandlerFunc) operations.Handler {
	return operations.HandlerFunc(func(ctx context.Context, args operations.Args) (operations.Result, error) {
		r.mu.Lock()
		r.calls = append(r.calls, Call{Name: name, Args: maps.Clone(args)})
		r.mu.Unlock()

		if fn == nil {
			return operations.Result{Message: "ok"}, nil
		}

		return fn(ctx, args)
	})
}

// Calls returns a copy of the recorded invocations in call order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, len(r.calls))
	copy(out, r.calls)

	return out
}

// Names returns the operation names of the recorded invocations in call order.
func (r *Recorder) Names() []string {
	calls := r.Calls()
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Name)
	}

	return names
}

// NewSpec returns a recording spec at version 1.0.0 in the utility category.
func (r *Recorder) NewSpec(name string, fn operations.HandlerFunc, opts ...operations.SpecOption) operations.Spec {
	opts = append([]operations.SpecOption{operations.InCategory(operations.CategoryUtility)}, opts...)

	return operations.NewSpec(name, semver.MustParse("1.0.0"), "test operation "+name, r.Handler(name, fn), opts...)
}

// NewRegistry creates a registry holding specs. It panics on registration errors.
func NewRegistry(specs ...operations.Spec) *operations.Registry {
	reg := operations.NewRegistry()
	reg.MustRegister(specs...)

	return reg
}
