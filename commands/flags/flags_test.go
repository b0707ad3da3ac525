package flags

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(*cobra.Command, []string) {}

func TestEnvironment(t *testing.T) {
	t.Parallel()

	t.Run("is required", func(t *testing.T) {
		t.Parallel()

		cmd := &cobra.Command{Use: "test"}
		Environment(cmd)

		f := cmd.Flags().Lookup("environment")
		require.NotNil(t, f)
		assert.Equal(t, "e", f.Shorthand)

		err := cmd.ValidateRequiredFlags()
		require.ErrorContains(t, err, "environment")
	})

	t.Run("value retrieval", func(t *testing.T) {
		t.Parallel()

		cmd := &cobra.Command{Use: "test", Run: noop}
		Environment(cmd)

		cmd.SetArgs([]string{"-e", "staging"})
		require.NoError(t, cmd.Execute())
		assert.Equal(t, "staging", MustString(cmd.Flags().GetString("environment")))
	})
}

func TestManifests(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{Use: "test", Run: noop}
	Manifests(cmd)
	cmd.SetArgs([]string{"--params", "params.ini"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.ErrorContains(t, err, "operations")
}

func TestFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{name: "default", want: "text"},
		{name: "long", args: []string{"--format", "json"}, want: "json"},
		{name: "short mixed case", args: []string{"-f", "YAML"}, want: "yaml"},
		{name: "unknown", args: []string{"-f", "xml"}, wantErr: "must be one of text, json, yaml, toml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := &cobra.Command{Use: "test", Run: noop, SilenceErrors: true, SilenceUsage: true}
			Format(cmd)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Flags().Lookup("format").Value.String())
		})
	}
}

func TestLenient(t *testing.T) {
	t.Parallel()

	for _, arg := range []string{"--lenient", "--continue"} {
		cmd := &cobra.Command{Use: "test", Run: noop}
		Lenient(cmd)
		cmd.SetArgs([]string{arg})

		require.NoError(t, cmd.Execute())
		assert.True(t, MustBool(cmd.Flags().GetBool("lenient")), arg)
	}
}
