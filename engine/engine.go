// Package engine wires the rush pipeline together: it reads the manifests of a job, resolves
// the parameters and the plan, and hands the plan to the executor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/rushops/rush/job"
	"github.com/rushops/rush/operations"
	"github.com/rushops/rush/params"
	"github.com/rushops/rush/pkg/logger"
	"github.com/rushops/rush/plan"
)

// Request describes one job run.
type Request struct {
	// Name labels the job in reports and logs. Optional.
	Name           string
	ParamsPath     string
	OperationsPath string
	// Environment selects the parameter section. Empty selects the shared section alone.
	Environment string
	// Policy is the failure policy. Empty means job.FailFast.
	Policy job.Policy
}

func (r Request) label() string {
	if r.Name != "" {
		return r.Name
	}

	return r.OperationsPath
}

// Runner runs jobs against a frozen registry. A Runner is safe for concurrent use.
type Runner struct {
	registry   *operations.Registry
	fs         afero.Fs
	lggr       logger.Logger
	reporter   job.Reporter
	lookupEnv  func(string) (string, bool)
	paramsOpts []params.Option
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(lggr logger.Logger) Option {
	return func(r *Runner) { r.lggr = lggr }
}

// WithFs sets the filesystem manifests are read from. The default is the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(r *Runner) { r.fs = fs }
}

// WithReporter sets the reporter every step result is pushed to.
func WithReporter(rep job.Reporter) Option {
	return func(r *Runner) { r.reporter = rep }
}

// WithLookupEnv replaces os.LookupEnv for ${env:NAME} expressions in both manifests.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Runner) { r.lookupEnv = fn }
}

// WithParamsOptions adds options used for every parameter resolution, e.g.
// params.WithSharedSection.
func WithParamsOptions(opts ...params.Option) Option {
	return func(r *Runner) { r.paramsOpts = append(r.paramsOpts, opts...) }
}

// NewRunner creates a Runner. The registry is frozen: registration must be complete before
// the first job runs.
func NewRunner(registry *operations.Registry, opts ...Option) *Runner {
	r := &Runner{
		registry:  registry,
		fs:        afero.NewOsFs(),
		lggr:      logger.Nop(),
		reporter:  job.ReporterFunc(func(job.StepResult) error { return nil }),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	registry.Freeze()

	return r
}

// Prepare reads both manifests of req and resolves them without running anything. Any error
// is a pre-execution error: a ParseError, a parameter resolution failure or a plan binding
// failure.
func (r *Runner) Prepare(ctx context.Context, req Request) (*plan.Plan, *params.Resolved, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	paramsText, err := afero.ReadFile(r.fs, req.ParamsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read parameter manifest: %w", err)
	}
	set, err := params.Parse(req.ParamsPath, string(paramsText))
	if err != nil {
		return nil, nil, err
	}
	resolved, err := set.Resolve(req.Environment,
		append(append([]params.Option{}, r.paramsOpts...), params.WithLookupEnv(r.lookupEnv))...)
	if err != nil {
		return nil, nil, err
	}

	opsText, err := afero.ReadFile(r.fs, req.OperationsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read operations manifest: %w", err)
	}
	p, err := plan.Resolve(string(opsText), resolved, r.registry,
		plan.WithSource(req.OperationsPath), plan.WithLookupEnv(r.lookupEnv))
	if err != nil {
		return nil, nil, err
	}

	return p, resolved, nil
}

// RunJob runs one job. Pre-execution errors are returned with a nil report before any
// operation runs. Otherwise the report is always returned, along with the executor's error
// when the job failed.
func (r *Runner) RunJob(ctx context.Context, req Request) (*job.Report, error) {
	lggr := r.lggr.With("job", req.label())

	p, resolved, err := r.Prepare(ctx, req)
	if err != nil {
		lggr.Errorw("Job rejected before execution", "error", err)

		return nil, err
	}
	lggr.Debugw("Resolved job", "environment", resolved.Environment(), "parameters", resolved.Keys(),
		"operations", p.Operations())

	exec := job.NewExecutor(r.registry,
		job.WithPolicy(req.Policy),
		job.WithReporter(r.reporter),
		job.WithLogger(r.lggr.Named("executor")),
		job.WithName(req.Name),
	)

	return exec.Execute(ctx, p)
}

// RunJobs runs independent jobs concurrently, at most parallelism at a time (unbounded when
// parallelism < 1). Operations inside each job still run sequentially. Reports are returned
// in request order; a job rejected before execution leaves a nil entry. Every job runs to
// completion regardless of the others, and their errors are joined.
func (r *Runner) RunJobs(ctx context.Context, parallelism int, reqs ...Request) ([]*job.Report, error) {
	reports := make([]*job.Report, len(reqs))
	errs := make([]error, len(reqs))

	g := new(errgroup.Group)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, req := range reqs {
		g.Go(func() error {
			report, err := r.RunJob(ctx, req)
			reports[i] = report
			if err != nil {
				errs[i] = fmt.Errorf("job %s: %w", req.label(), err)
			}

			return nil
		})
	}
	_ = g.Wait() // goroutines never return an error

	return reports, errors.Join(errs...)
}
