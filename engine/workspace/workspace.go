// Package workspace discovers job directories.
//
// A job is a directory holding a parameter manifest and an operations manifest. Jobs are looked
// up by name under an ordered list of locations, e.g.
//
//	./rush/jobs/<job>/params.ini
//	./rush/jobs/<job>/operations.ini
//	~/.rush/jobs/<job>/...
//	/etc/rush/jobs/<job>/...
//
// The first location holding a job wins, so a project local job shadows a global one.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

const (
	// ParamsFileName is the standard name of the parameter manifest in a job directory.
	ParamsFileName = "params.ini"
	// OperationsFileName is the standard name of the operations manifest in a job directory.
	OperationsFileName = "operations.ini"
)

var ErrJobNotFound = errors.New("job not found")

// JobDir represents a job directory.
type JobDir struct {
	// location is the search location the job was found in.
	location string
	// name is the name of the job directory. e.g. "intranet"
	name string

	paramsFile     string
	operationsFile string
}

// NewJobDir creates a new JobDir with the standard manifest file names.
func NewJobDir(location, name string) JobDir {
	return JobDir{location: location, name: name, paramsFile: ParamsFileName, operationsFile: OperationsFileName}
}

// String returns the name of the job.
func (d JobDir) String() string { return d.name }

// Name returns the name of the job.
func (d JobDir) Name() string { return d.name }

// Location returns the search location the job was found in.
func (d JobDir) Location() string { return d.location }

// DirPath returns the path to the job directory.
func (d JobDir) DirPath() string {
	return filepath.Join(d.location, d.name)
}

// ParamsFilePath returns the path to the parameter manifest of the job.
func (d JobDir) ParamsFilePath() string {
	return filepath.Join(d.DirPath(), d.paramsFile)
}

// OperationsFilePath returns the path to the operations manifest of the job.
func (d JobDir) OperationsFilePath() string {
	return filepath.Join(d.DirPath(), d.operationsFile)
}

// Workspace searches job locations on a filesystem.
type Workspace struct {
	fs             afero.Fs
	locations      []string
	paramsFile     string
	operationsFile string
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithManifestNames overrides the manifest file names looked for in job directories.
func WithManifestNames(paramsFile, operationsFile string) Option {
	return func(w *Workspace) {
		if paramsFile != "" {
			w.paramsFile = paramsFile
		}
		if operationsFile != "" {
			w.operationsFile = operationsFile
		}
	}
}

// New creates a Workspace searching locations in order. A leading ~ in a location is expanded
// to the home directory; locations that cannot be expanded are dropped.
func New(fsys afero.Fs, locations []string, opts ...Option) *Workspace {
	w := &Workspace{
		fs:             fsys,
		paramsFile:     ParamsFileName,
		operationsFile: OperationsFileName,
	}
	for _, loc := range locations {
		if expanded, ok := expandHome(loc); ok && !slices.Contains(w.locations, expanded) {
			w.locations = append(w.locations, expanded)
		}
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Locations returns the expanded search locations.
func (w *Workspace) Locations() []string { return slices.Clone(w.locations) }

// Find returns the first job directory named name. Returns ErrJobNotFound if no location holds
// a complete job of that name.
func (w *Workspace) Find(name string) (JobDir, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return JobDir{}, fmt.Errorf("invalid job name %q", name)
	}

	for _, loc := range w.locations {
		dir := w.jobDir(loc, name)
		ok, err := w.complete(dir)
		if err != nil {
			return JobDir{}, err
		}
		if ok {
			return dir, nil
		}
	}

	return JobDir{}, fmt.Errorf("%w: %s (searched %s)", ErrJobNotFound, name, strings.Join(w.locations, ", "))
}

// List returns every job in every location, sorted by name. When two locations hold a job of
// the same name only the first one is listed. Missing locations are ignored.
func (w *Workspace) List() ([]JobDir, error) {
	seen := make(map[string]bool)
	var jobs []JobDir

	for _, loc := range w.locations {
		entries, err := afero.ReadDir(w.fs, loc)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read job location %s: %w", loc, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() || seen[entry.Name()] {
				continue
			}
			dir := w.jobDir(loc, entry.Name())
			ok, err := w.complete(dir)
			if err != nil {
				return nil, err
			}
			if ok {
				seen[entry.Name()] = true
				jobs = append(jobs, dir)
			}
		}
	}

	slices.SortFunc(jobs, func(a, b JobDir) int { return strings.Compare(a.name, b.name) })

	return jobs, nil
}

func (w *Workspace) jobDir(loc, name string) JobDir {
	return JobDir{location: loc, name: name, paramsFile: w.paramsFile, operationsFile: w.operationsFile}
}

// complete reports whether both manifests of dir exist.
func (w *Workspace) complete(dir JobDir) (bool, error) {
	for _, path := range []string{dir.ParamsFilePath(), dir.OperationsFilePath()} {
		ok, err := afero.Exists(w.fs, path)
		if err != nil {
			return false, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func expandHome(loc string) (string, bool) {
	if loc != "~" && !strings.HasPrefix(loc, "~/") {
		return filepath.Clean(loc), true
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}

	return filepath.Join(home, strings.TrimPrefix(loc, "~")), true
}
