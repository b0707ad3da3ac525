package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rushops/rush/job"
	"github.com/rushops/rush/manifest"
	"github.com/rushops/rush/operations"
	"github.com/rushops/rush/operations/optest"
	"github.com/rushops/rush/params"
	"github.com/rushops/rush/pkg/logger"
	"github.com/rushops/rush/plan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testParams = `
[default]
db_name  = app
build    = ${env:RUSH_BUILD_ROOT}/${site}

[staging]
site = staging.example.test

[production]
site    = example.test
db_name = app_live
`

const testOperations = `
[create_build_directory]
path = ${build}

[sql_create]
db_name = ${db_name}

[restart_apache]
`

func setup(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}

	return fs
}

func testRegistry(rec *optest.Recorder, sqlCreate operations.HandlerFunc) *operations.Registry {
	return optest.NewRegistry(
		rec.NewSpec("create_build_directory", nil, operations.Required("path")),
		rec.NewSpec("sql_create", sqlCreate, operations.Required("db_name")),
		rec.NewSpec("restart_apache", nil),
	)
}

func lookupEnv(name string) (string, bool) {
	if name == "RUSH_BUILD_ROOT" {
		return "/srv", true
	}

	return "", false
}

var siteRequest = Request{
	Name:           "site",
	ParamsPath:     "/jobs/site/params.ini",
	OperationsPath: "/jobs/site/operations.ini",
	Environment:    "production",
}

func TestRunner_RunJob(t *testing.T) {
	t.Parallel()

	rec := &optest.Recorder{}
	mem := job.NewMemoryReporter()
	reg := testRegistry(rec, nil)
	runner := NewRunner(reg,
		WithFs(setup(t, map[string]string{
			siteRequest.ParamsPath:     testParams,
			siteRequest.OperationsPath: testOperations,
		})),
		WithLookupEnv(lookupEnv),
		WithReporter(mem),
		WithLogger(logger.Test(t)),
	)

	report, err := runner.RunJob(t.Context(), siteRequest)
	require.NoError(t, err)

	assert.True(t, reg.Frozen())
	assert.Equal(t, job.StatusSucceeded, report.Status)
	assert.Equal(t, "site", report.Name)
	assert.Equal(t, "production", report.Environment)
	assert.Equal(t, siteRequest.OperationsPath, report.Source)
	assert.Len(t, mem.ResultsFor(report.ID), 3)

	calls := rec.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, operations.Args{"path": "/srv/example.test"}, calls[0].Args)
	assert.Equal(t, operations.Args{"db_name": "app_live"}, calls[1].Args)
}

func TestRunner_RunJob_FailurePolicy(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		siteRequest.ParamsPath:     testParams,
		siteRequest.OperationsPath: testOperations,
	}
	failSQL := func(context.Context, operations.Args) (operations.Result, error) {
		return operations.Result{Output: "ERROR: permission denied"}, errors.New("createdb failed")
	}

	tests := []struct {
		policy job.Policy
		want   []job.Status
	}{
		{policy: "", want: []job.Status{job.StatusSucceeded, job.StatusFailed, job.StatusSkipped}},
		{policy: job.Lenient, want: []job.Status{job.StatusSucceeded, job.StatusFailed, job.StatusSucceeded}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			t.Parallel()

			runner := NewRunner(testRegistry(&optest.Recorder{}, failSQL),
				WithFs(setup(t, files)), WithLookupEnv(lookupEnv))

			req := siteRequest
			req.Policy = tt.policy
			report, err := runner.RunJob(t.Context(), req)
			require.ErrorIs(t, err, job.ErrOperationFailure)
			require.NotNil(t, report)
			assert.Equal(t, job.StatusFailed, report.Status)

			var got []job.Status
			for _, s := range report.Steps {
				got = append(got, s.Status)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "ERROR: permission denied", report.Steps[1].Output)
		})
	}
}

func TestRunner_RunJob_PreExecutionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string]string
		env     string
		wantErr error
		wantAs  any
	}{
		{
			name:    "missing parameter manifest",
			files:   map[string]string{siteRequest.OperationsPath: testOperations},
			env:     "staging",
			wantErr: afero.ErrFileNotFound,
		},
		{
			name:    "unknown environment",
			files:   map[string]string{siteRequest.ParamsPath: testParams, siteRequest.OperationsPath: testOperations},
			env:     "qa",
			wantErr: params.ErrUnknownEnvironment,
		},
		{
			name: "unknown operation",
			files: map[string]string{
				siteRequest.ParamsPath:     testParams,
				siteRequest.OperationsPath: testOperations + "\n[deploy_thing]\n",
			},
			env:     "staging",
			wantErr: operations.ErrUnknownOperation,
		},
		{
			name: "missing argument",
			files: map[string]string{
				siteRequest.ParamsPath:     testParams,
				siteRequest.OperationsPath: "[sql_create]\n[restart_apache]\n",
			},
			env:     "staging",
			wantErr: plan.ErrMissingArgument,
		},
		{
			name: "malformed operations manifest",
			files: map[string]string{
				siteRequest.ParamsPath:     testParams,
				siteRequest.OperationsPath: "[restart_apache\n",
			},
			env:    "staging",
			wantAs: new(*manifest.ParseError),
		},
		{
			name: "cyclic parameters",
			files: map[string]string{
				siteRequest.ParamsPath:     "[default]\na = ${b}\nb = ${a}\n",
				siteRequest.OperationsPath: testOperations,
			},
			wantErr: params.ErrCyclicReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &optest.Recorder{}
			runner := NewRunner(testRegistry(rec, nil), WithFs(setup(t, tt.files)), WithLookupEnv(lookupEnv))

			req := siteRequest
			req.Environment = tt.env
			report, err := runner.RunJob(t.Context(), req)
			require.Error(t, err)
			assert.Nil(t, report)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantAs != nil {
				require.ErrorAs(t, err, tt.wantAs)
			}
			assert.Empty(t, rec.Calls(), "no operation may run after a pre-execution error")
		})
	}
}

func TestRunner_Prepare(t *testing.T) {
	t.Parallel()

	rec := &optest.Recorder{}
	runner := NewRunner(testRegistry(rec, nil),
		WithFs(setup(t, map[string]string{
			"/p.ini": "[common]\ndb_name = shared\nbuild = /tmp\n",
			"/o.ini": "[sql_create]\ndb_name = ${db_name}\n",
		})),
		WithParamsOptions(params.WithSharedSection("common")),
	)

	p, resolved, err := runner.Prepare(t.Context(), Request{ParamsPath: "/p.ini", OperationsPath: "/o.ini"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sql_create"}, p.Operations())
	assert.Equal(t, map[string]string{"db_name": "shared", "build": "/tmp"}, resolved.Map())
	assert.Empty(t, rec.Calls())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, _, err = runner.Prepare(ctx, Request{ParamsPath: "/p.ini", OperationsPath: "/o.ini"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunner_RunJobs(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	slow := func(context.Context, operations.Args) (operations.Result, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)

		return operations.Result{Message: "created"}, nil
	}

	rec := &optest.Recorder{}
	runner := NewRunner(testRegistry(rec, slow),
		WithFs(setup(t, map[string]string{
			siteRequest.ParamsPath:     testParams,
			siteRequest.OperationsPath: testOperations,
		})),
		WithLookupEnv(lookupEnv),
	)

	staging := siteRequest
	staging.Environment = "staging"
	broken := siteRequest
	broken.Name = "broken"
	broken.Environment = "qa"

	reports, err := runner.RunJobs(t.Context(), 2, siteRequest, staging, broken, siteRequest)
	require.ErrorIs(t, err, params.ErrUnknownEnvironment)
	assert.ErrorContains(t, err, "job broken:")

	require.Len(t, reports, 4)
	assert.Equal(t, "production", reports[0].Environment)
	assert.Equal(t, "staging", reports[1].Environment)
	assert.Nil(t, reports[2])
	assert.Equal(t, job.StatusSucceeded, reports[3].Status)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
	assert.Len(t, rec.Calls(), 9)
}
