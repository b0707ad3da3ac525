package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rushops/rush/engine/config"
	"github.com/rushops/rush/engine/workspace"
	"github.com/rushops/rush/job"
	"github.com/rushops/rush/operations"
	"github.com/rushops/rush/operations/optest"
	"github.com/rushops/rush/params"
	"github.com/rushops/rush/pkg/logger"
)

const (
	intranetParams = `
[default]
site    = intranet
docroot = /srv/${site}/web
db_name = ${site}

[local]
db_host = localhost

[staging]
db_name = ${site}_stage
`

	intranetOperations = `
[create_build_directory]
path = ${docroot}

[sql_create]
db_name = ${db_name}

[restart_apache]
`
)

type fixture struct {
	fs       afero.Fs
	recorder *optest.Recorder
	closed   int
	// lggr replaces the test logger when set.
	lggr logger.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	for path, content := range map[string]string{
		"/jobs/intranet/params.ini":     intranetParams,
		"/jobs/intranet/operations.ini": intranetOperations,
		"/jobs/extranet/params.ini":     intranetParams,
		"/jobs/extranet/operations.ini": "[sql_create]\ndb_name = ${db_name}\n",
		"/jobs/broken/params.ini":       intranetParams,
		"/jobs/broken/operations.ini":   "[no_such_operation]\n",
		"/jobs/incomplete/params.ini":   intranetParams,
		"/adhoc/params.ini":             intranetParams,
		"/adhoc/operations.ini":         "[restart_apache]\n",
	} {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}

	return &fixture{fs: fs, recorder: &optest.Recorder{}}
}

// execute runs the root command with args and returns its standard output.
func (f *fixture) execute(t *testing.T, failing string, args ...string) (string, error) {
	t.Helper()

	settings := config.Default()
	settings.Jobs.Locations = []string{"/jobs"}

	lggr := f.lggr
	if lggr == nil {
		lggr = logger.Test(t)
	}

	cmd, err := NewCommand(Config{
		Logger:   lggr,
		Settings: settings,
		Deps: Deps{
			Fs: f.fs,
			RegistryLoader: func(_ *config.Config, _ afero.Fs, _ logger.Logger) (*operations.Registry, func() error, error) {
				fail := func(name string) operations.HandlerFunc {
					if name != failing {
						return nil
					}

					return func(_ context.Context, _ operations.Args) (operations.Result, error) {
						return operations.Result{}, errors.New("boom")
					}
				}
				reg := optest.NewRegistry(
					f.recorder.NewSpec("create_build_directory", fail("create_build_directory"),
						operations.InCategory(operations.CategoryFilesystem), operations.Required("path")),
					f.recorder.NewSpec("sql_create", fail("sql_create"),
						operations.InCategory(operations.CategoryDB), operations.Required("db_name")),
					f.recorder.NewSpec("restart_apache", fail("restart_apache"),
						operations.InCategory(operations.CategoryHost), operations.Optional("command")),
				)

				return reg, func() error { f.closed++; return nil }, nil
			},
			LookupEnv: func(string) (string, bool) { return "", false },
		},
	})
	require.NoError(t, err)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(t.Context())

	return out.String(), err
}

func TestNewCommand_Structure(t *testing.T) {
	t.Parallel()

	cmd, err := NewCommand(Config{Logger: logger.Nop(), Settings: config.Default()})
	require.NoError(t, err)
	assert.Equal(t, "rush", cmd.Use)

	uses := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		uses = append(uses, sub.Name())
	}
	assert.ElementsMatch(t, []string{"run", "plan", "params", "ops", "jobs"}, uses)

	for _, name := range []string{"run", "plan", "params"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		env := sub.Flags().Lookup("environment")
		require.NotNil(t, env, name)
		assert.Equal(t, "e", env.Shorthand)
		assert.NotNil(t, sub.Flags().Lookup("params"), name)
		assert.NotNil(t, sub.Flags().Lookup("format"), name)
	}
}

func TestNewCommand_Validate(t *testing.T) {
	t.Parallel()

	_, err := NewCommand(Config{})
	require.EqualError(t, err, "commands.Config: missing required fields: Logger, Settings")

	settings := config.Default()
	settings.Execution.Policy = "sometimes"
	_, err = NewCommand(Config{Logger: logger.Nop(), Settings: settings})
	require.ErrorContains(t, err, "execution.policy")
}

func TestRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, err := f.execute(t, "", "run", "intranet", "-e", "staging")
	require.NoError(t, err)

	assert.Contains(t, out, "Job intranet")
	assert.Contains(t, out, "Environment: staging  Policy: fail-fast  Status: SUCCEEDED")
	assert.Equal(t, []string{"create_build_directory", "sql_create", "restart_apache"}, f.recorder.Names())
	assert.Equal(t, "intranet_stage", f.recorder.Calls()[1].Args.Get("db_name"))
	assert.Equal(t, "/srv/intranet/web", f.recorder.Calls()[0].Args.Get("path"))
	assert.Equal(t, 1, f.closed)
}

func TestRun_ReportsProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	lggr, logs := logger.TestObserved(t, zapcore.InfoLevel)
	f.lggr = lggr

	_, err := f.execute(t, "sql_create", "run", "intranet", "-e", "local", "--lenient")
	require.ErrorIs(t, err, job.ErrOperationFailure)

	assert.Equal(t, 2, logs.FilterMessage("Operation succeeded").Len())
	failed := logs.FilterMessage("Operation failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "sql_create", failed[0].ContextMap()["operation"])

	var ops []any
	for _, entry := range logs.Filter(func(e observer.LoggedEntry) bool { return e.LoggerName == "report" }).All() {
		ops = append(ops, entry.ContextMap()["operation"])
	}
	assert.Equal(t, []any{"create_build_directory", "sql_create", "restart_apache"}, ops)
}

func TestRun_FailurePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		wantCalls []string
		wantOut   string
	}{
		{
			name:      "fail fast",
			args:      []string{"run", "intranet", "-e", "local", "-f", "json"},
			wantCalls: []string{"create_build_directory", "sql_create"},
			wantOut:   `"skipped"`,
		},
		{
			name:      "lenient",
			args:      []string{"run", "intranet", "-e", "local", "--lenient", "-f", "json"},
			wantCalls: []string{"create_build_directory", "sql_create", "restart_apache"},
			wantOut:   `"lenient"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			out, err := f.execute(t, "sql_create", tt.args...)
			require.ErrorIs(t, err, job.ErrOperationFailure)
			assert.Equal(t, tt.wantCalls, f.recorder.Names())
			assert.Contains(t, out, tt.wantOut)
			assert.True(t, json.Valid([]byte(out)))
		})
	}
}

func TestRun_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr error
		wantMsg string
	}{
		{name: "unknown job", args: []string{"run", "nope", "-e", "local"}, wantErr: workspace.ErrJobNotFound},
		{name: "incomplete job", args: []string{"run", "incomplete", "-e", "local"}, wantErr: workspace.ErrJobNotFound},
		{name: "unknown environment", args: []string{"run", "intranet", "-e", "qa"}, wantErr: params.ErrUnknownEnvironment},
		{name: "unknown operation", args: []string{"run", "broken", "-e", "local"}, wantErr: operations.ErrUnknownOperation},
		{name: "no job", args: []string{"run", "-e", "local"}, wantMsg: "a job name or --params and --operations is required"},
		{name: "missing environment", args: []string{"run", "intranet"}, wantMsg: `required flag(s) "environment" not set`},
		{
			name:    "job and manifests",
			args:    []string{"run", "intranet", "-e", "local", "--params", "/adhoc/params.ini", "--operations", "/adhoc/operations.ini"},
			wantMsg: "job names cannot be combined",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			out, err := f.execute(t, "", tt.args...)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				require.ErrorContains(t, err, tt.wantMsg)
			}
			assert.Empty(t, out)
			assert.Empty(t, f.recorder.Calls())
		})
	}
}

func TestRun_MultipleJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, err := f.execute(t, "", "run", "intranet", "extranet", "-e", "staging", "--parallel", "2", "-f", "yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "name: intranet")
	assert.Contains(t, out, "\n---\n")
	assert.Contains(t, out, "name: extranet")
	assert.ElementsMatch(t,
		[]string{"create_build_directory", "sql_create", "restart_apache", "sql_create"},
		f.recorder.Names())
}

func TestRun_Manifests(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, err := f.execute(t, "", "run", "-e", "local", "--params", "/adhoc/params.ini", "--operations", "/adhoc/operations.ini")
	require.NoError(t, err)
	assert.Contains(t, out, "Job adhoc")
	assert.Equal(t, []string{"restart_apache"}, f.recorder.Names())
}

func TestPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, err := f.execute(t, "", "plan", "intranet", "-e", "staging")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan of intranet for environment staging: 3 operations")
	assert.Contains(t, out, "db_name=intranet_stage")
	assert.Empty(t, f.recorder.Calls())

	out, err = f.execute(t, "", "plan", "intranet", "-e", "local", "-f", "json")
	require.NoError(t, err)

	var doc planDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "intranet", doc.Job)
	assert.Equal(t, "local", doc.Environment)
	require.Len(t, doc.Steps, 3)
	assert.Equal(t, 2, doc.Steps[1].Index)
	assert.Equal(t, "sql_create", doc.Steps[1].Operation)
	assert.Equal(t, map[string]string{"db_name": "intranet"}, doc.Steps[1].Args)

	_, err = f.execute(t, "", "plan", "broken", "-e", "local")
	require.ErrorIs(t, err, operations.ErrUnknownOperation)
}

func TestParams(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, err := f.execute(t, "", "params", "broken", "-e", "staging", "-f", "json")
	require.NoError(t, err)

	var values map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &values))
	assert.Equal(t, map[string]string{
		"site":    "intranet",
		"docroot": "/srv/intranet/web",
		"db_name": "intranet_stage",
	}, values)

	out, err = f.execute(t, "", "params", "intranet", "-e", "local")
	require.NoError(t, err)
	assert.Contains(t, out, "Parameters of intranet for environment local")
	assert.Contains(t, out, "/srv/intranet/web")

	_, err = f.execute(t, "", "params", "intranet", "-e", "qa")
	require.ErrorIs(t, err, params.ErrUnknownEnvironment)
}

func TestOps(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, err := f.execute(t, "", "ops", "--category", operations.CategoryDB, "-f", "json")
	require.NoError(t, err)

	var doc map[string][]operationDocument
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc["operations"], 1)
	assert.Equal(t, operationDocument{
		Name:        "sql_create",
		Category:    operations.CategoryDB,
		Version:     "1.0.0",
		Description: "test operation sql_create",
		Required:    []string{"db_name"},
		Optional:    nil,
	}, doc["operations"][0])

	out, err = f.execute(t, "", "ops")
	require.NoError(t, err)
	for _, name := range []string{"create_build_directory", "sql_create", "restart_apache"} {
		assert.Contains(t, out, name)
	}
	assert.Equal(t, 2, f.closed)
}

func TestJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	out, err := f.execute(t, "", "jobs")
	require.NoError(t, err)
	for _, name := range []string{"broken", "extranet", "intranet", "/jobs/intranet"} {
		assert.Contains(t, out, name)
	}
	assert.NotContains(t, out, "incomplete")
}
