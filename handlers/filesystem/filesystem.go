// Package filesystem implements the operations that scaffold a build directory: creating and
// destroying it, creating directories and files inside it and writing its .gitignore.
package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"

	"github.com/rushops/rush/operations"
)

var version = semver.MustParse("1.0.0")

const (
	defaultDirMode  os.FileMode = 0o755
	defaultFileMode os.FileMode = 0o644
)

var errOutsideRoot = errors.New("path escapes the root directory")

// Handlers implements the filesystem operations on top of an afero.Fs.
type Handlers struct {
	fs afero.Fs
}

// New returns the filesystem handlers working on fs.
func New(fs afero.Fs) *Handlers {
	return &Handlers{fs: fs}
}

// Specs returns the specs of every filesystem operation.
func (h *Handlers) Specs() []operations.Spec {
	in := operations.InCategory(operations.CategoryFilesystem)

	return []operations.Spec{
		operations.NewSpec("create_build_directory", version, "Create the build directory of a site",
			operations.HandlerFunc(h.CreateBuildDirectory), in,
			operations.Required("path"), operations.Optional("mode", "clean")),
		operations.NewSpec("destroy_build_directory", version, "Remove the build directory of a site and everything in it",
			operations.HandlerFunc(h.DestroyBuildDirectory), in,
			operations.Required("path")),
		operations.NewSpec("create_directories", version, "Create directories below a root directory",
			operations.HandlerFunc(h.CreateDirectories), in,
			operations.Required("root", "directories"), operations.Optional("mode")),
		operations.NewSpec("create_files", version, "Create files below a root directory",
			operations.HandlerFunc(h.CreateFiles), in,
			operations.Required("root", "files"), operations.Optional("content", "mode", "overwrite")),
		operations.NewSpec("create_git_ignore", version, "Add entries to the .gitignore of a directory",
			operations.HandlerFunc(h.CreateGitIgnore), in,
			operations.Required("path", "entries")),
	}
}

// CreateBuildDirectory creates path and its parents. With clean=true an existing directory is
// emptied first.
func (h *Handlers) CreateBuildDirectory(_ context.Context, args operations.Args) (operations.Result, error) {
	path := filepath.Clean(args.Get("path"))
	mode, err := fileMode(args, defaultDirMode)
	if err != nil {
		return operations.Result{}, err
	}
	clean, err := args.Bool("clean")
	if err != nil {
		return operations.Result{}, err
	}

	exists, err := afero.DirExists(h.fs, path)
	if err != nil {
		return operations.Result{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if exists && clean {
		if err = guardRemoval(path); err != nil {
			return operations.Result{}, err
		}
		if err = h.fs.RemoveAll(path); err != nil {
			return operations.Result{}, fmt.Errorf("failed to clean %s: %w", path, err)
		}
		exists = false
	}
	if exists {
		return operations.Result{Message: path + " already exists"}, nil
	}

	if err = h.fs.MkdirAll(path, mode); err != nil {
		return operations.Result{}, fmt.Errorf("failed to create %s: %w", path, err)
	}

	return operations.Result{Message: "created " + path}, nil
}

// DestroyBuildDirectory removes path recursively. A missing directory is not an error.
func (h *Handlers) DestroyBuildDirectory(_ context.Context, args operations.Args) (operations.Result, error) {
	path := filepath.Clean(args.Get("path"))
	if err := guardRemoval(path); err != nil {
		return operations.Result{}, err
	}

	exists, err := afero.Exists(h.fs, path)
	if err != nil {
		return operations.Result{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !exists {
		return operations.Result{Message: path + " does not exist"}, nil
	}
	if err = h.fs.RemoveAll(path); err != nil {
		return operations.Result{}, fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return operations.Result{Message: "removed " + path}, nil
}

// CreateDirectories creates every directory of the comma separated list directories below root.
func (h *Handlers) CreateDirectories(_ context.Context, args operations.Args) (operations.Result, error) {
	root := args.Get("root")
	mode, err := fileMode(args, defaultDirMode)
	if err != nil {
		return operations.Result{}, err
	}

	var created []string
	for _, dir := range args.List("directories") {
		path, err := within(root, dir)
		if err != nil {
			return resultOf(created), err
		}
		if err = h.fs.MkdirAll(path, mode); err != nil {
			return resultOf(created), fmt.Errorf("failed to create %s: %w", path, err)
		}
		created = append(created, path)
	}

	return operations.Result{
		Message: fmt.Sprintf("created %d directories below %s", len(created), root),
		Output:  strings.Join(created, "\n"),
	}, nil
}

// CreateFiles creates every file of the comma separated list files below root, with the
// optional content. Existing files are left alone unless overwrite=true.
func (h *Handlers) CreateFiles(_ context.Context, args operations.Args) (operations.Result, error) {
	root := args.Get("root")
	mode, err := fileMode(args, defaultFileMode)
	if err != nil {
		return operations.Result{}, err
	}
	overwrite, err := args.Bool("overwrite")
	if err != nil {
		return operations.Result{}, err
	}
	content := []byte(args.Get("content"))

	var created []string
	for _, file := range args.List("files") {
		path, err := within(root, file)
		if err != nil {
			return resultOf(created), err
		}

		exists, err := afero.Exists(h.fs, path)
		if err != nil {
			return resultOf(created), fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if exists && !overwrite {
			continue
		}
		if err = h.fs.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
			return resultOf(created), fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
		}
		if err = afero.WriteFile(h.fs, path, content, mode); err != nil {
			return resultOf(created), fmt.Errorf("failed to write %s: %w", path, err)
		}
		created = append(created, path)
	}

	return operations.Result{
		Message: fmt.Sprintf("wrote %d files below %s", len(created), root),
		Output:  strings.Join(created, "\n"),
	}, nil
}

// CreateGitIgnore appends the comma separated entries to path/.gitignore, skipping entries the
// file already lists.
func (h *Handlers) CreateGitIgnore(_ context.Context, args operations.Args) (operations.Result, error) {
	path := filepath.Join(args.Get("path"), ".gitignore")

	existing, err := afero.ReadFile(h.fs, path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return operations.Result{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var lines []string
	for _, l := range strings.Split(string(existing), "\n") {
		lines = append(lines, strings.TrimSpace(l))
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	added := 0
	for _, entry := range args.List("entries") {
		if slices.Contains(lines, entry) {
			continue
		}
		lines = append(lines, entry)
		buf.WriteString(entry + "\n")
		added++
	}

	if err = afero.WriteFile(h.fs, path, buf.Bytes(), defaultFileMode); err != nil {
		return operations.Result{}, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return operations.Result{Message: fmt.Sprintf("added %d entries to %s", added, path)}, nil
}

func resultOf(paths []string) operations.Result {
	return operations.Result{Output: strings.Join(paths, "\n")}
}

// within joins rel to root and rejects results outside root.
func within(root, rel string) (string, error) {
	rel = filepath.Clean(strings.TrimPrefix(rel, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, rel)
	}

	return filepath.Join(root, rel), nil
}

// guardRemoval refuses to remove the filesystem root or a relative path pointing at the
// working directory.
func guardRemoval(path string) error {
	if path == "/" || path == "." || path == "" || filepath.Dir(path) == path {
		return fmt.Errorf("refusing to remove %q", path)
	}

	return nil
}

func fileMode(args operations.Args, def os.FileMode) (os.FileMode, error) {
	raw, ok := args.Lookup("mode")
	if !ok || raw == "" {
		return def, nil
	}
	m, err := strconv.ParseUint(raw, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("argument mode: %q is not an octal file mode", raw)
	}

	return os.FileMode(m), nil
}
