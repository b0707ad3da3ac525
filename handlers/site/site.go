// Package site implements the site build operations, run through drush: installing a site and
// building a code base from a make file.
package site

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/rushops/rush/handlers/shell"
	"github.com/rushops/rush/operations"
)

var version = semver.MustParse("1.0.0")

const defaultProfile = "standard"

// Deps are the collaborators of the site handlers.
type Deps struct {
	Commander shell.Commander
	// Drush is the drush executable. Defaults to "drush".
	Drush string
}

// Handlers implements the site operations.
type Handlers struct {
	cmd   shell.Commander
	drush string
}

// New returns the site handlers.
func New(deps Deps) *Handlers {
	drush := deps.Drush
	if drush == "" {
		drush = "drush"
	}

	return &Handlers{cmd: deps.Commander, drush: drush}
}

// Specs returns the specs of every site operation.
func (h *Handlers) Specs() []operations.Spec {
	in := operations.InCategory(operations.CategorySite)
	install := func(name string) operations.Spec {
		return operations.NewSpec(name, version, "Install a site into an existing code base",
			operations.HandlerFunc(h.Install), in,
			operations.Required("path", "db_url"),
			operations.Optional("profile", "site_name", "site_mail", "account_name", "account_pass", "account_mail", "locale"))
	}

	// site_install is a descriptive alias of si.
	return []operations.Spec{
		install("si"),
		install("site_install"),
		operations.NewSpec("make", version, "Build a code base from a make file",
			operations.HandlerFunc(h.Make), in,
			operations.Required("makefile", "path"),
			operations.Optional("working_copy", "no_core", "concurrency")),
	}
}

// Install runs drush site-install in path.
func (h *Handlers) Install(ctx context.Context, args operations.Args) (operations.Result, error) {
	profile := args.GetOr("profile", defaultProfile)
	drushArgs := []string{"--root=" + args.Get("path"), "site-install", profile, "--yes", "--db-url=" + args.Get("db_url")}
	for _, opt := range []string{"site_name", "site_mail", "account_name", "account_pass", "account_mail", "locale"} {
		if v := args.Get(opt); v != "" {
			drushArgs = append(drushArgs, fmt.Sprintf("--%s=%s", dashed(opt), v))
		}
	}

	out, err := h.cmd.Run(ctx, shell.Command{Name: h.drush, Args: drushArgs})
	if err != nil {
		return operations.Result{Output: out}, fmt.Errorf("site install failed: %w", err)
	}

	return operations.Result{
		Message: fmt.Sprintf("installed %s profile in %s", profile, args.Get("path")),
		Output:  out,
	}, nil
}

// Make runs drush make, building the code base of makefile into path.
func (h *Handlers) Make(ctx context.Context, args operations.Args) (operations.Result, error) {
	drushArgs := []string{"make", "--yes"}
	for _, flag := range []string{"working_copy", "no_core"} {
		on, err := args.Bool(flag)
		if err != nil {
			return operations.Result{}, err
		}
		if on {
			drushArgs = append(drushArgs, "--"+dashed(flag))
		}
	}
	if c := args.Get("concurrency"); c != "" {
		drushArgs = append(drushArgs, "--concurrency="+c)
	}
	drushArgs = append(drushArgs, args.Get("makefile"), args.Get("path"))

	out, err := h.cmd.Run(ctx, shell.Command{Name: h.drush, Args: drushArgs})
	if err != nil {
		return operations.Result{Output: out}, fmt.Errorf("make failed: %w", err)
	}

	return operations.Result{Message: fmt.Sprintf("built %s into %s", args.Get("makefile"), args.Get("path")), Output: out}, nil
}

func dashed(arg string) string { return strings.ReplaceAll(arg, "_", "-") }
