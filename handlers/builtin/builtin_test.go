package builtin

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushops/rush/engine"
	"github.com/rushops/rush/engine/config"
	"github.com/rushops/rush/handlers/shell/shelltest"
	"github.com/rushops/rush/job"
	"github.com/rushops/rush/operations"
	"github.com/rushops/rush/pkg/logger"
)

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := operations.NewRegistry()
	closeFn, err := Register(reg, Deps{Fs: afero.NewMemMapFs(), Commander: shelltest.New(nil)})
	require.NoError(t, err)
	require.NoError(t, closeFn())

	want := map[string][]string{
		operations.CategoryFilesystem: {"create_build_directory", "create_directories", "create_files", "create_git_ignore", "destroy_build_directory"},
		operations.CategoryRepo: {
			"create_remote_repo", "flow_init", "git_add", "git_branch", "git_checkout", "git_clone",
			"git_commit", "git_create_branch", "git_init", "git_pull", "git_push", "git_remote_add",
		},
		operations.CategoryDB:      {"sql_create", "sql_destroy_db", "sql_dump", "sql_query", "sql_query_file"},
		operations.CategoryHost:    {"create_dns", "create_vhost", "delete_dns", "delete_vhost", "restart_apache"},
		operations.CategorySite:    {"make", "si", "site_install"},
		operations.CategoryUtility: {"create_settings_local", "open_uri", "test_params"},
	}

	got := make(map[string][]string)
	for _, spec := range reg.List() {
		require.NoError(t, spec.Validate())
		assert.Equal(t, "1.0.0", spec.VersionString())
		got[spec.Category] = append(got[spec.Category], spec.Name)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 33, reg.Len())

	si, err := reg.Lookup("si")
	require.NoError(t, err)
	alias, err := reg.Lookup("site_install")
	require.NoError(t, err)
	assert.Equal(t, si.RequiredArgs, alias.RequiredArgs)
	assert.Equal(t, si.OptionalArgs, alias.OptionalArgs)

	// Registering the same catalogue again is a no-op.
	_, err = Register(reg, Deps{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	assert.Equal(t, 33, reg.Len())
}

func TestDepsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	deps, err := DepsFromConfig(cfg, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, deps.OpenDB)
	assert.Nil(t, deps.GitHub)
	assert.Equal(t, uint(3), deps.Retry.MaxAttempts)
	assert.Equal(t, "/etc/hosts", deps.HostsFile)
	assert.Equal(t, "apachectl graceful", deps.ApacheRestart)

	cfg.Database.DSN = "postgres://admin@localhost/postgres?sslmode=disable"
	cfg.GitHub.Token = "ghp_test"
	cfg.GitHub.BaseURL = "https://github.example.test/api/v3/"
	deps, err = DepsFromConfig(cfg, logger.Nop())
	require.NoError(t, err)
	assert.NotNil(t, deps.OpenDB)
	require.NotNil(t, deps.GitHub)
	assert.Equal(t, "https://github.example.test/api/v3/", deps.GitHub.BaseURL.String())
}

// TestSiteJob runs a complete job through the runner with the built-in catalogue.
func TestSiteJob(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/jobs/intranet/params.ini": `
[default]
site     = intranet
docroot  = /srv/${site}/web
hostname = ${site}.test

[staging]
hostname = ${site}.staging.test
`,
		"/jobs/intranet/operations.ini": `
[create_build_directory]
path = ${docroot}

[create_directories files]
root        = ${docroot}
directories = sites/default/files

[create_vhost]
server_name   = ${hostname}
document_root = ${docroot}

[create_dns]
hostname = ${hostname}

[restart_apache]

[test_params]
value  = ${hostname}
expect = intranet.staging.test
`,
	}
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}

	cmd := shelltest.New(nil)
	reg := operations.NewRegistry()
	_, err := Register(reg, Deps{
		Fs:        fs,
		Commander: cmd,
		VhostDir:  "/etc/apache2/sites-available",
		HostsFile: "/etc/hosts",
	})
	require.NoError(t, err)

	runner := engine.NewRunner(reg, engine.WithFs(fs), engine.WithLogger(logger.Test(t)))
	report, err := runner.RunJob(t.Context(), engine.Request{
		Name:           "intranet",
		ParamsPath:     "/jobs/intranet/params.ini",
		OperationsPath: "/jobs/intranet/operations.ini",
		Environment:    "staging",
	})
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, report.Status)
	require.Len(t, report.Steps, 6)
	assert.Equal(t, "files", report.Steps[1].Label)

	for _, path := range []string{
		"/srv/intranet/web/sites/default/files",
		"/etc/apache2/sites-available/intranet.staging.test.conf",
	} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.True(t, exists, path)
	}

	hosts, err := afero.ReadFile(fs, "/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1\tintranet.staging.test\n", string(hosts))
	assert.Equal(t, []string{"apachectl graceful"}, cmd.Lines())
}
