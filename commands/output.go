package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/rushops/rush/job"
)

// encodeDocument writes v in one of the structured formats. Text output is rendered by the
// caller.
func encodeDocument(w io.Writer, format job.Format, v any) error {
	switch format {
	case job.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case job.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}

		return enc.Close()
	case job.FormatTOML:
		return toml.NewEncoder(w).Encode(v)
	default:
		return fmt.Errorf("%w: %q", job.ErrUnknownFormat, format)
	}
}

// writeSeparator separates two consecutive documents of the same format.
func writeSeparator(w io.Writer, format job.Format) error {
	var sep string
	switch format {
	case job.FormatYAML:
		sep = "---\n"
	case job.FormatJSON, job.FormatTOML:
		sep = ""
	default:
		sep = "\n"
	}
	_, err := io.WriteString(w, sep)

	return err
}

// newTable returns a table writer in the style of the job reports.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)

	return table
}
