// Command rush runs declarative jobs against project environments.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rushops/rush/commands"
	"github.com/rushops/rush/engine/config"
	"github.com/rushops/rush/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigFile = "rush.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	path := defaultConfigFile
	if p, ok := os.LookupEnv("RUSH_CONFIG"); ok && p != "" {
		path = p
	}

	settings, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}

	lggr, err := logger.NewCLI(logger.ParseLevel(settings.Log.Level), settings.Log.Format == "json")
	if err != nil {
		return err
	}
	defer func() { _ = lggr.Sync() }()

	cmd, err := commands.NewCommand(commands.Config{
		Logger:   lggr,
		Settings: settings,
		Version:  version,
	})
	if err != nil {
		return err
	}

	return cmd.ExecuteContext(ctx)
}
