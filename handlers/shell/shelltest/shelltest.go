// Package shelltest provides a fake shell.Commander for handler tests.
package shelltest

import (
	"context"
	"slices"
	"sync"

	"github.com/rushops/rush/handlers/shell"
)

// Responder produces the output and error of a faked command.
type Responder func(cmd shell.Command) (string, error)

// Commander records every command instead of running it. Safe for concurrent use.
type Commander struct {
	mu       sync.Mutex
	commands []shell.Command
	respond  Responder
}

var _ shell.Commander = (*Commander)(nil)

// New returns a Commander that answers with respond. A nil respond succeeds with no output.
func New(respond Responder) *Commander {
	return &Commander{respond: respond}
}

func (c *Commander) Run(ctx context.Context, cmd shell.Command) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	cmd.Args = slices.Clone(cmd.Args)
	c.commands = append(c.commands, cmd)
	c.mu.Unlock()

	if c.respond == nil {
		return "", nil
	}

	return c.respond(cmd)
}

// Commands returns the recorded commands in call order.
func (c *Commander) Commands() []shell.Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.commands)
}

// Lines returns the recorded commands rendered with shell.Command.String.
func (c *Commander) Lines() []string {
	cmds := c.Commands()
	lines := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		lines = append(lines, cmd.String())
	}

	return lines
}
