package job

import (
	"slices"
	"time"
)

// StepResult is the outcome of one plan step.
type StepResult struct {
	// ID uniquely identifies this result.
	ID string `json:"id"`
	// JobID is the ID of the Report the result belongs to.
	JobID     string `json:"jobId"`
	Index     int    `json:"index"`
	Operation string `json:"operation"`
	Label     string `json:"label,omitempty"`
	Status    Status `json:"status"`
	// Message is the handler message on success or the failure reason otherwise.
	Message string `json:"message"`
	// Output is raw output captured by the handler for diagnostics.
	Output string `json:"output,omitempty"`
	// Panicked is set when the handler raised a fault instead of returning an error.
	Panicked   bool          `json:"panicked,omitempty"`
	StartedAt  *time.Time    `json:"startedAt,omitempty"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Report is the structured result of one job run. Steps are in plan order.
type Report struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Environment string       `json:"environment"`
	Source      string       `json:"source,omitempty"`
	Policy      Policy       `json:"policy"`
	Status      Status       `json:"status"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
	Steps       []StepResult `json:"steps"`
}

// Succeeded reports whether the job finished without a failed step.
func (r *Report) Succeeded() bool { return r.Status == StatusSucceeded }

// Results returns a copy of the step results.
func (r *Report) Results() []StepResult { return slices.Clone(r.Steps) }

// Failures returns the failed steps in plan order.
func (r *Report) Failures() []StepResult {
	return r.filter(StatusFailed)
}

// Count returns how many steps ended in status s.
func (r *Report) Count(s Status) int {
	return len(r.filter(s))
}

// Duration returns the wall time of the job, or zero if it has not finished.
func (r *Report) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}

	return r.FinishedAt.Sub(*r.StartedAt)
}

// Clone returns a deep copy of the report.
func (r *Report) Clone() *Report {
	c := *r
	c.Steps = slices.Clone(r.Steps)

	return &c
}

func (r *Report) filter(s Status) []StepResult {
	var out []StepResult
	for _, step := range r.Steps {
		if step.Status == s {
			out = append(out, step)
		}
	}

	return out
}
