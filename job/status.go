package job

import (
	"fmt"
	"slices"
	"strings"
)

// Status is the state of a job or of one of its steps.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

var (
	jobTransitions = map[Status][]Status{
		StatusPending: {StatusRunning},
		StatusRunning: {StatusSucceeded, StatusFailed},
	}
	stepTransitions = map[Status][]Status{
		StatusPending: {StatusRunning, StatusSkipped},
		StatusRunning: {StatusSucceeded, StatusFailed},
	}
)

// advance moves *cur to next. An illegal transition is a programmer error and panics.
func advance(kind string, table map[Status][]Status, cur *Status, next Status) {
	if !slices.Contains(table[*cur], next) {
		panic(fmt.Sprintf("job: invalid %s transition %s -> %s", kind, *cur, next))
	}
	*cur = next
}

// Policy decides what happens after a step fails.
type Policy string

const (
	// FailFast stops at the first failed step and skips the rest.
	FailFast Policy = "fail-fast"
	// Lenient runs every step regardless of earlier failures.
	Lenient Policy = "lenient"
)

// ParsePolicy parses a policy name. The empty string is FailFast.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailFast:
		return FailFast, nil
	case Lenient:
		return Lenient, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want %s or %s)", s, FailFast, Lenient)
	}
}
