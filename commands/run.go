package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rushops/rush/commands/flags"
	"github.com/rushops/rush/commands/text"
	"github.com/rushops/rush/job"
)

var (
	runShort = "Run one or more jobs"

	runLong = text.LongDesc(`
		Runs jobs against an environment and prints one report per job.

		The operations of a job run one after another in declaration order. With the default
		fail-fast policy the first failure skips the remaining operations; --lenient runs them
		anyway. Several jobs run concurrently, at most --parallel at a time.

		A job is rejected before any operation runs when its manifests do not parse, a
		parameter cannot be resolved or an operation is unknown or misses an argument.

		The command exits with a non-zero status when any job fails or is rejected.
	`)

	runExample = text.Examples(`
		# Run the intranet job against staging
		rush run intranet -e staging

		# Run two jobs, keep going after failures and print JSON reports
		rush run intranet extranet -e local --lenient -f json

		# Run manifests outside the job locations
		rush run -e local --params ./params.ini --operations ./operations.ini
	`)
)

type runFlags struct {
	environment    string
	paramsPath     string
	operationsPath string
	lenient        bool
	parallel       int
	format         job.Format
}

// newRunCmd creates the "run" command.
func newRunCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run [JOB...]",
		Short:   runShort,
		Long:    runLong,
		Example: runExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := job.ParseFormat(cmd.Flags().Lookup("format").Value.String())
			if err != nil {
				return err
			}
			f := runFlags{
				environment:    flags.MustString(cmd.Flags().GetString("environment")),
				paramsPath:     flags.MustString(cmd.Flags().GetString("params")),
				operationsPath: flags.MustString(cmd.Flags().GetString("operations")),
				lenient:        flags.MustBool(cmd.Flags().GetBool("lenient")),
				parallel:       flags.MustInt(cmd.Flags().GetInt("parallel")),
				format:         format,
			}

			return runRun(cmd, cfg, args, f)
		},
	}

	// Shared flags
	flags.Environment(cmd)
	flags.Manifests(cmd)
	flags.Format(cmd)
	flags.Lenient(cmd)

	// Local flags specific to this command
	cmd.Flags().IntP("parallel", "p", 1, "Maximum number of jobs running at once (0 for no limit)")

	return cmd
}

// runRun executes the run command logic.
func runRun(cmd *cobra.Command, cfg Config, names []string, f runFlags) error {
	// --- Load

	reqs, err := cfg.requests(jobSource{
		names:          names,
		paramsPath:     f.paramsPath,
		operationsPath: f.operationsPath,
		environment:    f.environment,
	})
	if err != nil {
		return err
	}

	runner, _, closeFn, err := cfg.loadRunner()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			cfg.Logger.Warnw("Failed to release operation resources", "error", cerr)
		}
	}()

	policy := cfg.Settings.Policy()
	if f.lenient {
		policy = job.Lenient
	}
	for i := range reqs {
		reqs[i].Policy = policy
	}

	// --- Execute

	reports, runErr := runner.RunJobs(cmd.Context(), f.parallel, reqs...)

	// --- Output

	out := cmd.OutOrStdout()
	written := 0
	for _, report := range reports {
		if report == nil {
			continue
		}
		if written > 0 {
			if err := writeSeparator(out, f.format); err != nil {
				return err
			}
		}
		if err := report.Encode(out, f.format); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		written++
	}

	return runErr
}
