// Package builtin registers the operation catalogue shipped with rush.
package builtin

import (
	"context"
	"fmt"

	"github.com/google/go-github/v72/github"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"

	"github.com/rushops/rush/engine/config"
	"github.com/rushops/rush/handlers/db"
	"github.com/rushops/rush/handlers/filesystem"
	"github.com/rushops/rush/handlers/host"
	"github.com/rushops/rush/handlers/repo"
	"github.com/rushops/rush/handlers/shell"
	"github.com/rushops/rush/handlers/site"
	"github.com/rushops/rush/handlers/utility"
	"github.com/rushops/rush/operations"
	"github.com/rushops/rush/pkg/logger"
)

// Deps are the collaborators shared by the built-in handlers.
type Deps struct {
	Fs        afero.Fs
	Commander shell.Commander
	// OpenDB opens database connections. The db operations fail when nil.
	OpenDB db.Opener
	// GitHub creates remote repositories. create_remote_repo fails when nil.
	GitHub *github.Client
	// Retry applies to the operations talking to a remote.
	Retry operations.RetryPolicy

	DSN           string
	VhostDir      string
	HostsFile     string
	ApacheRestart string
	Git           string
	Drush         string
	PgDump        string
	OpenCommand   string
}

// DepsFromConfig builds the production collaborators described by cfg: the OS filesystem,
// real processes, a database opener when a DSN is configured and a GitHub client when a
// token is configured.
func DepsFromConfig(cfg *config.Config, lggr logger.Logger) (Deps, error) {
	deps := Deps{
		Fs:        afero.NewOsFs(),
		Commander: shell.NewExecCommander(lggr.Named("shell")),
		Retry: operations.RetryPolicy{
			MaxAttempts: cfg.Execution.RetryAttempts,
			Delay:       cfg.Execution.RetryDelay,
			OnRetry: func(attempt uint, err error) {
				lggr.Warnw("Retrying operation", "failedAttempt", attempt+1, "error", err)
			},
		},
		DSN:           cfg.Database.DSN,
		VhostDir:      cfg.Host.VhostDir,
		HostsFile:     cfg.Host.HostsFile,
		ApacheRestart: cfg.Host.ApacheRestart,
		Git:           cfg.Tools.Git,
		Drush:         cfg.Tools.Drush,
		PgDump:        cfg.Tools.PgDump,
		OpenCommand:   cfg.Tools.Open,
	}

	if cfg.Database.DSN != "" {
		deps.OpenDB = db.NewOpener(cfg.Database.Driver, cfg.Database.DSN)
	}

	if cfg.GitHub.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHub.Token})
		client := github.NewClient(oauth2.NewClient(context.Background(), ts))
		if cfg.GitHub.BaseURL != "" {
			var err error
			client, err = client.WithEnterpriseURLs(cfg.GitHub.BaseURL, cfg.GitHub.BaseURL)
			if err != nil {
				return Deps{}, fmt.Errorf("github.base_url: %w", err)
			}
		}
		deps.GitHub = client
	}

	return deps, nil
}

// Register registers every built-in operation on reg. The returned function releases the
// resources held by the handlers, such as open database connections.
func Register(reg *operations.Registry, deps Deps) (func() error, error) {
	dbHandlers := db.New(db.Deps{
		Open:        deps.OpenDB,
		Fs:          deps.Fs,
		Commander:   deps.Commander,
		DSN:         deps.DSN,
		DumpCommand: deps.PgDump,
	})

	var specs []operations.Spec
	specs = append(specs, filesystem.New(deps.Fs).Specs()...)
	specs = append(specs, repo.New(repo.Deps{
		Commander: deps.Commander,
		GitHub:    deps.GitHub,
		Retry:     deps.Retry,
		Git:       deps.Git,
	}).Specs()...)
	specs = append(specs, dbHandlers.Specs()...)
	specs = append(specs, host.New(host.Deps{
		Fs:             deps.Fs,
		Commander:      deps.Commander,
		VhostDir:       deps.VhostDir,
		HostsFile:      deps.HostsFile,
		RestartCommand: deps.ApacheRestart,
	}).Specs()...)
	specs = append(specs, site.New(site.Deps{Commander: deps.Commander, Drush: deps.Drush}).Specs()...)
	specs = append(specs, utility.New(utility.Deps{
		Fs:          deps.Fs,
		Commander:   deps.Commander,
		OpenCommand: deps.OpenCommand,
	}).Specs()...)

	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return nil, err
		}
	}

	return dbHandlers.Close, nil
}
