package job

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rushops/rush/pkg/logger"
)

var ErrResultNotFound = errors.New("step result not found")

// Reporter receives every step result as soon as the step reaches a terminal state.
type Reporter interface {
	AddResult(result StepResult) error
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(result StepResult) error

// AddResult calls f(result).
func (f ReporterFunc) AddResult(result StepResult) error { return f(result) }

// MultiReporter fans results out to several reporters. Every reporter is called; their
// errors are joined.
type MultiReporter []Reporter

// AddResult implements Reporter.
func (m MultiReporter) AddResult(result StepResult) error {
	var errs []error
	for _, r := range m {
		if err := r.AddResult(result); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// MemoryReporter stores results in memory.
// This is thread-safe and can be shared by jobs running concurrently.
type MemoryReporter struct {
	mu      sync.RWMutex
	results []StepResult
}

// NewMemoryReporter creates a new MemoryReporter.
func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{}
}

// AddResult adds a result to the memory reporter.
func (m *MemoryReporter) AddResult(result StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results = append(m.results, result)

	return nil
}

// Results returns all results in the order they were reported.
func (m *MemoryReporter) Results() []StepResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.results)
}

// ResultsFor returns the results reported for one job.
func (m *MemoryReporter) ResultsFor(jobID string) []StepResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []StepResult
	for _, r := range m.results {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}

	return out
}

// Result returns a result by ID.
// Returns ErrResultNotFound if the result is not found.
func (m *MemoryReporter) Result(id string) (StepResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.results {
		if r.ID == id {
			return r, nil
		}
	}

	return StepResult{}, fmt.Errorf("result_id %s: %w", id, ErrResultNotFound)
}

// LogReporter writes every result to a logger, which makes progress visible while a job
// runs.
type LogReporter struct {
	lggr logger.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(lggr logger.Logger) *LogReporter {
	return &LogReporter{lggr: lggr}
}

// AddResult implements Reporter.
func (l *LogReporter) AddResult(r StepResult) error {
	kv := []any{"job", r.JobID, "step", r.Index + 1, "operation", r.Operation}
	if r.Label != "" {
		kv = append(kv, "label", r.Label)
	}

	switch r.Status {
	case StatusSucceeded:
		l.lggr.Infow("Operation succeeded", append(kv, "message", r.Message, "duration", r.Duration)...)
	case StatusFailed:
		kv = append(kv, "error", r.Message, "duration", r.Duration)
		if r.Output != "" {
			kv = append(kv, "output", r.Output)
		}
		l.lggr.Errorw("Operation failed", kv...)
	default:
		l.lggr.Warnw("Operation skipped", append(kv, "reason", r.Message)...)
	}

	return nil
}
