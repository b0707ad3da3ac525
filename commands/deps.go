package commands

import (
	"os"

	"github.com/spf13/afero"

	"github.com/rushops/rush/engine/config"
	"github.com/rushops/rush/handlers/builtin"
	"github.com/rushops/rush/operations"
	"github.com/rushops/rush/pkg/logger"
)

// RegistryLoaderFunc builds the operation registry used by a command. The returned function
// releases the resources held by the handlers.
type RegistryLoaderFunc func(settings *config.Config, fs afero.Fs, lggr logger.Logger) (*operations.Registry, func() error, error)

// defaultRegistryLoader registers the built-in catalogue with production collaborators.
func defaultRegistryLoader(settings *config.Config, fs afero.Fs, lggr logger.Logger) (*operations.Registry, func() error, error) {
	deps, err := builtin.DepsFromConfig(settings, lggr)
	if err != nil {
		return nil, nil, err
	}
	deps.Fs = fs

	reg := operations.NewRegistry()
	closeFn, err := builtin.Register(reg, deps)
	if err != nil {
		return nil, nil, err
	}

	return reg, closeFn, nil
}

// Deps holds the injectable dependencies of the rush commands.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// Fs is the filesystem manifests and jobs are read from.
	// Default: afero.NewOsFs()
	Fs afero.Fs

	// RegistryLoader builds the operation registry.
	// Default: the built-in catalogue from builtin.Register
	RegistryLoader RegistryLoaderFunc

	// LookupEnv resolves ${env:NAME} expressions.
	// Default: os.LookupEnv
	LookupEnv func(string) (string, bool)
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.Fs == nil {
		d.Fs = afero.NewOsFs()
	}
	if d.RegistryLoader == nil {
		d.RegistryLoader = defaultRegistryLoader
	}
	if d.LookupEnv == nil {
		d.LookupEnv = os.LookupEnv
	}
}
