/*
Package operations defines the units of work a rush job is made of and the registry that
maps operation names to them.

# Operations

An operation is described by a Spec:
  - a Definition carrying the name, semver version, description and category
  - the required and optional argument names an invocation may bind
  - the Handler that performs the side effect

Handlers receive fully resolved Args and return a Result. A returned error marks the
invocation as failed. The executor in package job never retries; wrap a handler with Retry
when an operation is safe to repeat.

# Registry

The Registry is built once at process start by the handler packages, frozen, and then shared
read-only by every job. Registering the same spec twice is a no-op, registering a different
spec under a taken name fails with ErrDuplicateOperation.

# Basic Usage

	reg := operations.NewRegistry()
	reg.MustRegister(operations.NewSpec(
		"create_directories",
		semver.MustParse("1.0.0"),
		"Create directories below the build root",
		handler,
		operations.Required("directories"),
		operations.InCategory(operations.CategoryFilesystem),
	))
	reg.Freeze()

	spec, err := reg.Lookup("create_directories")
*/
package operations
