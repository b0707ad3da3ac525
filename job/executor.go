// Package job executes plans and reports on them.
//
// An Executor runs the steps of a plan one at a time, strictly in plan order. Each step is
// dispatched through the operation registry to its handler. A returned error fails the
// step, a panic is recovered and fails the step as a fault. What happens next depends on the
// Policy. Every terminal step result is pushed to the Reporter immediately so callers see
// progress while the job is still running.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"github.com/rushops/rush/operations"
	"github.com/rushops/rush/pkg/logger"
	"github.com/rushops/rush/plan"
)

var (
	// ErrOperationFailure is wrapped by the error Execute returns when a step failed.
	ErrOperationFailure = errors.New("operation failed")
	// ErrHandlerPanic is wrapped in the failure of a step whose handler panicked.
	ErrHandlerPanic = errors.New("operation handler panicked")
)

// Executor executes plans against a registry. It keeps no per-job state, so one executor
// can run several plans concurrently.
type Executor struct {
	registry *operations.Registry
	lggr     logger.Logger
	reporter Reporter
	policy   Policy
	name     string
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithPolicy sets the failure policy. The default is FailFast.
func WithPolicy(p Policy) Option {
	return func(e *Executor) {
		if p != "" {
			e.policy = p
		}
	}
}

// WithReporter sets the reporter that receives step results as they happen.
func WithReporter(r Reporter) Option {
	return func(e *Executor) { e.reporter = r }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(lggr logger.Logger) Option {
	return func(e *Executor) { e.lggr = lggr }
}

// WithName sets the job name recorded in reports.
func WithName(name string) Option {
	return func(e *Executor) { e.name = name }
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor dispatching through registry.
func NewExecutor(registry *operations.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		lggr:     logger.Nop(),
		reporter: ReporterFunc(func(StepResult) error { return nil }),
		policy:   FailFast,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs every step of p in order and returns the job report.
//
// The report is always returned. The error is nil when every step succeeded, wraps
// ErrOperationFailure when a step failed, and wraps the context error when ctx was
// cancelled before all steps were dispatched. Cancellation is checked before each step; a
// running handler is expected to observe ctx itself.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) (*Report, error) {
	steps := p.Steps()
	report := &Report{
		ID:          ksuid.New().String(),
		Name:        e.name,
		Environment: p.Environment(),
		Source:      p.Source(),
		Policy:      e.policy,
		Status:      StatusPending,
		Steps:       make([]StepResult, len(steps)),
	}
	for i, s := range steps {
		report.Steps[i] = StepResult{
			ID:        uuid.NewString(),
			JobID:     report.ID,
			Index:     s.Index,
			Operation: s.Name,
			Label:     s.Label,
			Status:    StatusPending,
		}
	}

	lggr := e.lggr.With("job", report.ID)
	if e.name != "" {
		lggr = lggr.With("name", e.name)
	}

	advance("job", jobTransitions, &report.Status, StatusRunning)
	report.StartedAt = e.stamp()
	lggr.Infow("Executing job", "environment", report.Environment, "steps", len(steps), "policy", e.policy)

	var (
		firstFailure *StepResult
		ctxErr       error
	)
	for i, step := range steps {
		res := &report.Steps[i]

		if ctxErr == nil {
			ctxErr = ctx.Err()
		}
		switch {
		case ctxErr != nil:
			e.skip(lggr, res, "job cancelled: "+ctxErr.Error())
			continue
		case firstFailure != nil && e.policy == FailFast:
			e.skip(lggr, res, fmt.Sprintf("skipped after step %d (%s) failed", firstFailure.Index+1, firstFailure.Operation))
			continue
		}

		e.run(ctx, lggr, res, step)
		if res.Status == StatusFailed && firstFailure == nil {
			firstFailure = res
		}
	}

	final := StatusSucceeded
	if firstFailure != nil || ctxErr != nil {
		final = StatusFailed
	}
	advance("job", jobTransitions, &report.Status, final)
	report.FinishedAt = e.stamp()

	lggr.Infow("Job finished", "status", report.Status, "succeeded", report.Count(StatusSucceeded),
		"failed", report.Count(StatusFailed), "skipped", report.Count(StatusSkipped), "duration", report.Duration())

	switch {
	case ctxErr != nil:
		return report, fmt.Errorf("job %s cancelled: %w", report.ID, ctxErr)
	case firstFailure != nil:
		return report, fmt.Errorf("%w: %d of %d steps failed, first at step %d (%s): %s",
			ErrOperationFailure, report.Count(StatusFailed), len(steps),
			firstFailure.Index+1, firstFailure.Operation, firstFailure.Message)
	}

	return report, nil
}

func (e *Executor) run(ctx context.Context, lggr logger.Logger, res *StepResult, step plan.Step) {
	advance("step", stepTransitions, &res.Status, StatusRunning)
	res.StartedAt = e.stamp()
	lggr.Debugw("Executing operation", "step", step.Index+1, "operation", step.Name, "args", step.Args.Names())

	out, err := e.invoke(ctx, step)

	res.FinishedAt = e.stamp()
	res.Duration = res.FinishedAt.Sub(*res.StartedAt)
	res.Output = out.Output
	if err != nil {
		res.Message = err.Error()
		res.Panicked = errors.Is(err, ErrHandlerPanic)
		advance("step", stepTransitions, &res.Status, StatusFailed)
	} else {
		res.Message = out.Message
		if res.Message == "" {
			res.Message = "done"
		}
		advance("step", stepTransitions, &res.Status, StatusSucceeded)
	}

	e.emit(lggr, *res)
}

// invoke dispatches step to its handler, turning a panic into an error.
func (e *Executor) invoke(ctx context.Context, step plan.Step) (res operations.Result, err error) {
	spec, err := e.registry.Lookup(step.Name)
	if err != nil {
		return res, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return spec.Handler.Invoke(ctx, step.Args)
}

func (e *Executor) skip(lggr logger.Logger, res *StepResult, reason string) {
	advance("step", stepTransitions, &res.Status, StatusSkipped)
	res.Message = reason
	e.emit(lggr, *res)
}

// emit hands a result to the reporter. Reporter errors are logged and never fail the job.
func (e *Executor) emit(lggr logger.Logger, res StepResult) {
	if err := e.reporter.AddResult(res); err != nil {
		lggr.Errorw("Failed to report step result", "step", res.Index+1, "operation", res.Operation, "error", err)
	}
}

func (e *Executor) stamp() *time.Time {
	t := e.now()

	return &t
}
