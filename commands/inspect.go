package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rushops/rush/commands/flags"
	"github.com/rushops/rush/commands/text"
	"github.com/rushops/rush/engine"
	"github.com/rushops/rush/job"
	"github.com/rushops/rush/params"
	"github.com/rushops/rush/plan"
)

var (
	planShort = "Validate a job and print its plan"

	planLong = text.LongDesc(`
		Resolves the parameters and binds the operations of a job without running anything.
		Every problem of the operations manifest is reported at once.
	`)

	planExample = text.Examples(`
		# Print the operations the staging run of intranet would execute
		rush plan intranet -e staging

		# The same plan as YAML
		rush plan intranet -e staging -f yaml
	`)

	paramsShort = "Print the resolved parameters of a job"

	paramsLong = text.LongDesc(`
		Resolves the parameter manifest of a job for one environment and prints every
		parameter with its final value.
	`)

	paramsExample = text.Examples(`
		# Show the parameters the local environment resolves to
		rush params intranet -e local
	`)
)

type inspectFlags struct {
	environment    string
	paramsPath     string
	operationsPath string
	format         job.Format
}

func inspectCmd(use, short, long, example string, run func(*cobra.Command, Config, engine.Request, job.Format) error, cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    long,
		Example: example,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := job.ParseFormat(cmd.Flags().Lookup("format").Value.String())
			if err != nil {
				return err
			}
			f := inspectFlags{
				environment:    flags.MustString(cmd.Flags().GetString("environment")),
				paramsPath:     flags.MustString(cmd.Flags().GetString("params")),
				operationsPath: flags.MustString(cmd.Flags().GetString("operations")),
				format:         format,
			}

			reqs, err := cfg.requests(jobSource{
				names:          args,
				paramsPath:     f.paramsPath,
				operationsPath: f.operationsPath,
				environment:    f.environment,
			})
			if err != nil {
				return err
			}

			return run(cmd, cfg, reqs[0], f.format)
		},
	}

	flags.Environment(cmd)
	flags.Manifests(cmd)
	flags.Format(cmd)

	return cmd
}

// newPlanCmd creates the "plan" command.
func newPlanCmd(cfg Config) *cobra.Command {
	return inspectCmd("plan [JOB]", planShort, planLong, planExample, runPlan, cfg)
}

// newParamsCmd creates the "params" command.
func newParamsCmd(cfg Config) *cobra.Command {
	return inspectCmd("params [JOB]", paramsShort, paramsLong, paramsExample, runParams, cfg)
}

type planDocument struct {
	Job         string         `json:"job" yaml:"job" toml:"job"`
	Source      string         `json:"source" yaml:"source" toml:"source"`
	Environment string         `json:"environment" yaml:"environment" toml:"environment"`
	Steps       []stepDocument `json:"steps" yaml:"steps" toml:"steps"`
}

type stepDocument struct {
	Index     int               `json:"index" yaml:"index" toml:"index"`
	Operation string            `json:"operation" yaml:"operation" toml:"operation"`
	Label     string            `json:"label,omitempty" yaml:"label,omitempty" toml:"label,omitempty"`
	Line      int               `json:"line,omitempty" yaml:"line,omitempty" toml:"line,omitempty"`
	Args      map[string]string `json:"args" yaml:"args" toml:"args"`
}

// runPlan prints the plan of req.
func runPlan(cmd *cobra.Command, cfg Config, req engine.Request, format job.Format) error {
	p, err := prepare(cmd, cfg, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format != job.FormatText {
		doc := planDocument{Job: req.Name, Source: p.Source(), Environment: p.Environment()}
		for _, s := range p.Steps() {
			doc.Steps = append(doc.Steps, stepDocument{
				Index: s.Index + 1, Operation: s.Name, Label: s.Label, Line: s.Line, Args: s.Args,
			})
		}

		return encodeDocument(out, format, doc)
	}

	if _, err := fmt.Fprintf(out, "Plan of %s for environment %s: %d operations\n",
		req.Name, displayEnv(p.Environment()), p.Len()); err != nil {
		return err
	}
	table := newTable(out, "#", "Operation", "Line", "Arguments")
	for _, s := range p.Steps() {
		pairs := make([]string, 0, len(s.Args))
		for _, name := range s.Args.Names() {
			pairs = append(pairs, name+"="+s.Args.Get(name))
		}
		table.Append([]string{strconv.Itoa(s.Index + 1), s.String(), strconv.Itoa(s.Line), strings.Join(pairs, "\n")})
	}
	table.Render()

	return nil
}

// runParams prints the resolved parameters of req.
func runParams(cmd *cobra.Command, cfg Config, req engine.Request, format job.Format) error {
	resolved, err := prepareParams(cmd, cfg, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format != job.FormatText {
		return encodeDocument(out, format, resolved.Map())
	}

	if _, err := fmt.Fprintf(out, "Parameters of %s for environment %s\n",
		req.Name, displayEnv(resolved.Environment())); err != nil {
		return err
	}
	table := newTable(out, "Name", "Value")
	for _, k := range resolved.Keys() {
		v, _ := resolved.Lookup(k)
		table.Append([]string{k, v})
	}
	table.Render()

	return nil
}

func prepare(cmd *cobra.Command, cfg Config, req engine.Request) (*plan.Plan, error) {
	runner, _, closeFn, err := cfg.loadRunner()
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeFn() }()

	p, _, err := runner.Prepare(cmd.Context(), req)

	return p, err
}

// prepareParams resolves the parameters only, so a job with a broken operations manifest can
// still be inspected.
func prepareParams(cmd *cobra.Command, cfg Config, req engine.Request) (*params.Resolved, error) {
	if err := cmd.Context().Err(); err != nil {
		return nil, err
	}

	raw, err := afero.ReadFile(cfg.Deps.Fs, req.ParamsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter manifest: %w", err)
	}
	set, err := params.Parse(req.ParamsPath, string(raw))
	if err != nil {
		return nil, err
	}

	return set.Resolve(req.Environment, append(cfg.paramsOptions(), params.WithLookupEnv(cfg.Deps.LookupEnv))...)
}

func displayEnv(env string) string {
	if env == "" {
		return "(shared)"
	}

	return env
}
