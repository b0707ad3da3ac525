// Package commands provides the rush command line interface.
//
// The root command is built from a Config holding the logger and the loaded settings:
//
//	cmd, err := commands.NewCommand(commands.Config{
//	    Logger:   lggr,
//	    Settings: settings,
//	    Deps:     commands.Deps{...}, // inject fakes for testing
//	})
//	if err != nil {
//	    return err
//	}
//	err = cmd.ExecuteContext(ctx)
package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rushops/rush/commands/text"
	"github.com/rushops/rush/engine"
	"github.com/rushops/rush/engine/config"
	"github.com/rushops/rush/engine/workspace"
	"github.com/rushops/rush/job"
	"github.com/rushops/rush/operations"
	"github.com/rushops/rush/params"
	"github.com/rushops/rush/pkg/logger"
)

var (
	rushShort = "Declarative job runner for project environments"

	rushLong = text.LongDesc(`
		rush runs jobs. A job is a directory holding a parameter manifest (params.ini) and an
		operations manifest (operations.ini). Parameters are resolved for one environment, the
		operations are bound to them and then run in declaration order.

		Jobs are looked up by name in the configured job locations. The first location holding
		a job wins.
	`)
)

// Config holds the configuration for the rush commands.
type Config struct {
	// Logger is the logger to use for command output. Required.
	Logger logger.Logger

	// Settings is the loaded runner configuration. Required.
	Settings *config.Config

	// Version is printed by --version. Optional.
	Version string

	// Deps holds optional dependencies that can be overridden.
	// If fields are nil, production defaults are used.
	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	var missing []string

	if c.Logger == nil {
		missing = append(missing, "Logger")
	}
	if c.Settings == nil {
		missing = append(missing, "Settings")
	}

	if len(missing) > 0 {
		return errors.New("commands.Config: missing required fields: " + strings.Join(missing, ", "))
	}

	return c.Settings.Validate()
}

// deps returns the Deps with defaults applied.
func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

// NewCommand creates the rush root command with all subcommands.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.deps()

	cmd := &cobra.Command{
		Use:           "rush",
		Short:         rushShort,
		Long:          rushLong,
		Version:       cfg.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRunCmd(cfg))
	cmd.AddCommand(newPlanCmd(cfg))
	cmd.AddCommand(newParamsCmd(cfg))
	cmd.AddCommand(newOpsCmd(cfg))
	cmd.AddCommand(newJobsCmd(cfg))

	return cmd, nil
}

// workspace returns the job workspace described by the settings.
func (c Config) workspace() *workspace.Workspace {
	return workspace.New(c.Deps.Fs, c.Settings.Jobs.Locations,
		workspace.WithManifestNames(c.Settings.Jobs.ParamsFile, c.Settings.Jobs.OperationsFile))
}

// loadRunner builds the registry and a runner on top of it. The returned function must be
// called once the runner is no longer used.
func (c Config) loadRunner() (*engine.Runner, *operations.Registry, func() error, error) {
	reg, closeFn, err := c.Deps.RegistryLoader(c.Settings, c.Deps.Fs, c.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load operations: %w", err)
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}

	runner := engine.NewRunner(reg,
		engine.WithFs(c.Deps.Fs),
		engine.WithLogger(c.Logger),
		engine.WithReporter(job.NewLogReporter(c.Logger.Named("report"))),
		engine.WithLookupEnv(c.Deps.LookupEnv),
		engine.WithParamsOptions(c.paramsOptions()...),
	)

	return runner, reg, closeFn, nil
}

// paramsOptions returns the parameter resolution options described by the settings.
func (c Config) paramsOptions() []params.Option {
	opts := []params.Option{
		params.WithSharedSection(c.Settings.Execution.SharedSection),
		params.WithMaxDepth(c.Settings.Execution.MaxReferenceDepth),
	}
	if c.Settings.Execution.AllowSharedFallback {
		opts = append(opts, params.AllowSharedFallback())
	}

	return opts
}

// jobSource names the jobs of a command: either job names looked up in the workspace or a
// pair of manifest paths.
type jobSource struct {
	names          []string
	paramsPath     string
	operationsPath string
	environment    string
}

// requests turns the job source into runner requests.
func (c Config) requests(src jobSource) ([]engine.Request, error) {
	if src.paramsPath != "" {
		if len(src.names) > 0 {
			return nil, errors.New("job names cannot be combined with --params and --operations")
		}
		name := filepath.Base(filepath.Dir(src.operationsPath))
		if name == "." || name == string(filepath.Separator) {
			name = src.operationsPath
		}

		return []engine.Request{{
			Name:           name,
			ParamsPath:     src.paramsPath,
			OperationsPath: src.operationsPath,
			Environment:    src.environment,
		}}, nil
	}
	if len(src.names) == 0 {
		return nil, errors.New("a job name or --params and --operations is required")
	}

	ws := c.workspace()
	reqs := make([]engine.Request, 0, len(src.names))
	for _, name := range src.names {
		dir, err := ws.Find(name)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, engine.Request{
			Name:           dir.Name(),
			ParamsPath:     dir.ParamsFilePath(),
			OperationsPath: dir.OperationsFilePath(),
			Environment:    src.environment,
		})
	}

	return reqs, nil
}
