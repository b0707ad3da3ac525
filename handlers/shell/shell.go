// Package shell runs external programs on behalf of operation handlers.
//
// Handlers never call os/exec directly. They receive a Commander, which lets tests substitute
// a recording fake (see shelltest) and lets the CLI log every command it runs.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/rushops/rush/pkg/logger"
)

var ErrEmptyCommand = errors.New("empty command")

// Command is one program invocation.
type Command struct {
	// Name is the program, looked up in PATH.
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env is appended to the environment of the current process, in KEY=value form.
	Env []string
	// Stdin is written to the standard input of the program.
	Stdin string
}

// String renders the command as it would be typed in a shell.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, p := range append([]string{c.Name}, c.Args...) {
		if p == "" || strings.ContainsAny(p, " \t\n\"'$\\") {
			p = strconv.Quote(p)
		}
		parts = append(parts, p)
	}

	return strings.Join(parts, " ")
}

// Commander runs commands. Run returns the combined standard output and error of the program;
// a non-zero exit status is an error.
type Commander interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// Parse splits a command line using shell quoting rules, e.g. "apachectl -k graceful".
func Parse(line string) (Command, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("failed to parse command %q: %w", line, err)
	}
	if len(words) == 0 {
		return Command{}, ErrEmptyCommand
	}

	return Command{Name: words[0], Args: words[1:]}, nil
}

// ExecCommander runs commands with os/exec.
type ExecCommander struct {
	lggr logger.Logger
}

var _ Commander = (*ExecCommander)(nil)

// NewExecCommander returns a Commander running real processes. Every command is logged at
// debug level before it starts.
func NewExecCommander(lggr logger.Logger) *ExecCommander {
	return &ExecCommander{lggr: lggr}
}

func (e *ExecCommander) Run(ctx context.Context, c Command) (string, error) {
	if c.Name == "" {
		return "", ErrEmptyCommand
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec // commands come from the job manifests
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	e.lggr.Debugw("Running command", "command", c.String(), "dir", c.Dir)
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s: %w", c.Name, err)
	}

	return out.String(), nil
}
