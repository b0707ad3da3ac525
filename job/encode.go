package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a report encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var ErrUnknownFormat = errors.New("unknown report format")

// Formats lists every supported format.
func Formats() []Format { return []Format{FormatText, FormatJSON, FormatYAML, FormatTOML} }

// ParseFormat parses a format name. The empty string is FormatText.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML, FormatTOML:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Encode writes the report to w in the given format.
func (r *Report) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatText, "":
		return r.encodeText(w)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r.document()); err != nil {
			return err
		}

		return enc.Close()
	case FormatTOML:
		return toml.NewEncoder(w).Encode(r.document())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func (r *Report) encodeText(w io.Writer) error {
	title := r.ID
	if r.Name != "" {
		title = r.Name + " " + r.ID
	}
	env := r.Environment
	if env == "" {
		env = "(shared)"
	}
	if _, err := fmt.Fprintf(w, "Job %s\nEnvironment: %s  Policy: %s  Status: %s  Duration: %s\n",
		title, env, r.Policy, strings.ToUpper(string(r.Status)), r.Duration().Round(time.Millisecond)); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Operation", "Status", "Message", "Duration"})
	table.SetAutoWrapText(false)
	for _, s := range r.Steps {
		op := s.Operation
		if s.Label != "" {
			op += " (" + s.Label + ")"
		}
		dur := ""
		if s.StartedAt != nil {
			dur = s.Duration.Round(time.Millisecond).String()
		}
		table.Append([]string{strconv.Itoa(s.Index + 1), op, string(s.Status), firstLine(s.Message), dur})
	}
	table.Render()

	for _, s := range r.Failures() {
		if s.Output == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "\nOutput of step %d (%s):\n%s\n", s.Index+1, s.Operation,
			strings.TrimRight(s.Output, "\n")); err != nil {
			return err
		}
	}

	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")

	return line
}

// reportDocument is the flat shape used by the YAML and TOML encoders.
type reportDocument struct {
	ID          string         `yaml:"id" toml:"id"`
	Name        string         `yaml:"name,omitempty" toml:"name,omitempty"`
	Environment string         `yaml:"environment" toml:"environment"`
	Source      string         `yaml:"source,omitempty" toml:"source,omitempty"`
	Policy      string         `yaml:"policy" toml:"policy"`
	Status      string         `yaml:"status" toml:"status"`
	StartedAt   string         `yaml:"started_at,omitempty" toml:"started_at,omitempty"`
	FinishedAt  string         `yaml:"finished_at,omitempty" toml:"finished_at,omitempty"`
	Steps       []stepDocument `yaml:"steps" toml:"steps"`
}

type stepDocument struct {
	Step      int    `yaml:"step" toml:"step"`
	ID        string `yaml:"id" toml:"id"`
	Operation string `yaml:"operation" toml:"operation"`
	Label     string `yaml:"label,omitempty" toml:"label,omitempty"`
	Status    string `yaml:"status" toml:"status"`
	Message   string `yaml:"message" toml:"message"`
	Output    string `yaml:"output,omitempty" toml:"output,omitempty"`
	Panicked  bool   `yaml:"panicked,omitempty" toml:"panicked,omitempty"`
	Duration  string `yaml:"duration,omitempty" toml:"duration,omitempty"`
}

func (r *Report) document() reportDocument {
	doc := reportDocument{
		ID:          r.ID,
		Name:        r.Name,
		Environment: r.Environment,
		Source:      r.Source,
		Policy:      string(r.Policy),
		Status:      string(r.Status),
		StartedAt:   formatTime(r.StartedAt),
		FinishedAt:  formatTime(r.FinishedAt),
		Steps:       make([]stepDocument, 0, len(r.Steps)),
	}
	for _, s := range r.Steps {
		sd := stepDocument{
			Step:      s.Index + 1,
			ID:        s.ID,
			Operation: s.Operation,
			Label:     s.Label,
			Status:    string(s.Status),
			Message:   s.Message,
			Output:    s.Output,
			Panicked:  s.Panicked,
		}
		if s.StartedAt != nil {
			sd.Duration = s.Duration.String()
		}
		doc.Steps = append(doc.Steps, sd)
	}

	return doc
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}
