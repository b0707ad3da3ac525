// Package flags provides the flags shared by several rush commands, so they are named and
// behave the same everywhere. Flags used by a single command are defined next to it.
package flags

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rushops/rush/job"
)

// MustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func MustString(s string, _ error) string { return s }

// MustBool returns the bool value, ignoring the error.
// Safe to use with registered flags where GetBool cannot fail.
func MustBool(b bool, _ error) bool { return b }

// MustInt returns the int value, ignoring the error.
// Safe to use with registered flags where GetInt cannot fail.
func MustInt(i int, _ error) int { return i }

// Environment adds the required --environment/-e flag selecting the parameter section.
// Retrieve the value with cmd.Flags().GetString("environment").
func Environment(cmd *cobra.Command) {
	cmd.Flags().StringP("environment", "e", "", "Job environment, e.g. local or staging (required)")
	_ = cmd.MarkFlagRequired("environment")
}

// Manifests adds the --params and --operations flags naming manifest files directly instead
// of a job in the workspace. Both must be given together.
func Manifests(cmd *cobra.Command) {
	cmd.Flags().String("params", "", "Path of a parameter manifest")
	cmd.Flags().String("operations", "", "Path of an operations manifest")
	cmd.MarkFlagsRequiredTogether("params", "operations")
}

// Format adds the --format/-f flag selecting the output encoding, validated when parsed.
// Retrieve the value with cmd.Flags().GetString("format").
func Format(cmd *cobra.Command) {
	cmd.Flags().VarP(&formatValue{format: job.FormatText}, "format", "f",
		"Output format: "+strings.Join(formatNames(), ", "))
}

// Lenient adds the --lenient flag switching the failure policy to lenient. The --continue
// alias is accepted too.
func Lenient(cmd *cobra.Command) {
	cmd.Flags().Bool("lenient", false, "Keep running the remaining operations after a failure")

	existing := cmd.Flags().GetNormalizeFunc()
	cmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "continue" {
			return pflag.NormalizedName("lenient")
		}
		if existing != nil {
			return existing(f, name)
		}

		return pflag.NormalizedName(name)
	})
}

type formatValue struct {
	format job.Format
}

var _ pflag.Value = (*formatValue)(nil)

func (v *formatValue) String() string { return string(v.format) }

func (v *formatValue) Set(s string) error {
	f, err := job.ParseFormat(s)
	if err != nil {
		return fmt.Errorf("must be one of %s", strings.Join(formatNames(), ", "))
	}
	v.format = f

	return nil
}

func (v *formatValue) Type() string { return "format" }

func formatNames() []string {
	names := make([]string, 0, len(job.Formats()))
	for _, f := range job.Formats() {
		names = append(names, string(f))
	}

	return names
}
