package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rushops/rush/commands/flags"
	"github.com/rushops/rush/commands/text"
	"github.com/rushops/rush/job"
	"github.com/rushops/rush/operations"
)

var (
	opsShort = "List the available operations"

	opsLong = text.LongDesc(`
		Lists every registered operation with its category, version and the arguments it
		accepts. Required arguments must be bound by every invocation in an operations manifest.
	`)

	opsExample = text.Examples(`
		# List every operation
		rush ops

		# List the database operations as JSON
		rush ops --category db -f json
	`)

	jobsShort = "List the jobs found in the job locations"

	jobsLong = text.LongDesc(`
		Lists the jobs of every configured job location. A job found in more than one location
		is listed once, from the first location holding it.
	`)
)

type operationDocument struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Category    string   `json:"category" yaml:"category" toml:"category"`
	Version     string   `json:"version" yaml:"version" toml:"version"`
	Description string   `json:"description" yaml:"description" toml:"description"`
	Required    []string `json:"required" yaml:"required" toml:"required"`
	Optional    []string `json:"optional" yaml:"optional" toml:"optional"`
}

// newOpsCmd creates the "ops" command.
func newOpsCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ops",
		Aliases: []string{"operations"},
		Short:   opsShort,
		Long:    opsLong,
		Example: opsExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := job.ParseFormat(cmd.Flags().Lookup("format").Value.String())
			if err != nil {
				return err
			}

			return runOps(cmd, cfg, flags.MustString(cmd.Flags().GetString("category")), format)
		},
	}

	flags.Format(cmd)
	cmd.Flags().StringP("category", "c", "", "Only list operations of this category")

	return cmd
}

// runOps executes the ops command logic.
func runOps(cmd *cobra.Command, cfg Config, category string, format job.Format) error {
	reg, closeFn, err := cfg.Deps.RegistryLoader(cfg.Settings, cfg.Deps.Fs, cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to load operations: %w", err)
	}
	if closeFn != nil {
		defer func() { _ = closeFn() }()
	}

	var specs []operations.Spec
	for _, spec := range reg.List() {
		if category == "" || spec.Category == category {
			specs = append(specs, spec)
		}
	}

	out := cmd.OutOrStdout()
	if format != job.FormatText {
		docs := make([]operationDocument, 0, len(specs))
		for _, spec := range specs {
			docs = append(docs, operationDocument{
				Name:        spec.Name,
				Category:    spec.Category,
				Version:     spec.VersionString(),
				Description: spec.Description,
				Required:    spec.RequiredArgs,
				Optional:    spec.OptionalArgs,
			})
		}

		return encodeDocument(out, format, map[string][]operationDocument{"operations": docs})
	}

	table := newTable(out, "Operation", "Category", "Version", "Required", "Optional", "Description")
	for _, spec := range specs {
		table.Append([]string{
			spec.Name, spec.Category, spec.VersionString(),
			strings.Join(spec.RequiredArgs, ", "), strings.Join(spec.OptionalArgs, ", "), spec.Description,
		})
	}
	table.Render()

	return nil
}

// newJobsCmd creates the "jobs" command.
func newJobsCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: jobsShort,
		Long:  jobsLong,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws := cfg.workspace()
			jobs, err := ws.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				_, err := fmt.Fprintf(out, "No jobs found in %s\n", strings.Join(ws.Locations(), ", "))

				return err
			}

			table := newTable(out, "Job", "Location", "Directory")
			for _, dir := range jobs {
				table.Append([]string{dir.Name(), dir.Location(), dir.DirPath()})
			}
			table.Render()

			return nil
		},
	}
}
