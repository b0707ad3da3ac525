// Package utility implements the helper operations: echoing arguments, writing a local
// settings file and opening a URI.
package utility

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/afero"

	"github.com/rushops/rush/handlers/shell"
	"github.com/rushops/rush/operations"
)

var version = semver.MustParse("1.0.0")

//go:embed templates/*
var templates embed.FS

var settingsTemplate = template.Must(template.New("settings.local.php.tmpl").
	Funcs(template.FuncMap{"php": phpString}).
	ParseFS(templates, "templates/settings.local.php.tmpl"))

const (
	defaultSettingsFile = "settings.local.php"
	defaultOpenCommand  = "xdg-open"
)

// Deps are the collaborators of the utility handlers.
type Deps struct {
	Fs        afero.Fs
	Commander shell.Commander
	// OpenCommand opens a URI. Defaults to "xdg-open".
	OpenCommand string
}

// Settings is the data the local settings template is rendered with.
type Settings struct {
	Environment string
	Driver      string
	Database    string
	Username    string
	Password    string
	Host        string
	Port        string
	Extra       []Setting
}

// Setting is one extra key of the local settings file.
type Setting struct {
	Key   string
	Value string
}

// Handlers implements the utility operations.
type Handlers struct {
	fs   afero.Fs
	cmd  shell.Commander
	open string
}

// New returns the utility handlers.
func New(deps Deps) *Handlers {
	open := deps.OpenCommand
	if open == "" {
		open = defaultOpenCommand
	}

	return &Handlers{fs: deps.Fs, cmd: deps.Commander, open: open}
}

// Specs returns the specs of every utility operation.
func (h *Handlers) Specs() []operations.Spec {
	in := operations.InCategory(operations.CategoryUtility)

	return []operations.Spec{
		operations.NewSpec("test_params", version, "Print the arguments, optionally checking value against expect",
			operations.HandlerFunc(h.TestParams), in,
			operations.Optional("message", "value", "expect")),
		operations.NewSpec("create_settings_local", version, "Write the local settings file of a site",
			operations.HandlerFunc(h.CreateSettingsLocal), in,
			operations.Required("path", "db_name"),
			operations.Optional("db_user", "db_pass", "db_host", "db_port", "db_driver", "environment", "settings", "file")),
		operations.NewSpec("open_uri", version, "Open a URI in the desktop browser",
			operations.HandlerFunc(h.OpenURI), in,
			operations.Required("uri")),
	}
}

// TestParams echoes its arguments in the output. When expect is bound, value must equal it.
func (h *Handlers) TestParams(_ context.Context, args operations.Args) (operations.Result, error) {
	var out strings.Builder
	for _, name := range args.Names() {
		fmt.Fprintf(&out, "%s = %s\n", name, args.Get(name))
	}
	res := operations.Result{Message: args.GetOr("message", "parameters ok"), Output: out.String()}

	if expect, ok := args.Lookup("expect"); ok && args.Get("value") != expect {
		return res, fmt.Errorf("value %q does not match expected %q", args.Get("value"), expect)
	}

	return res, nil
}

// CreateSettingsLocal renders the local settings file into path. Extra settings are given as a
// comma separated list of key=value pairs.
func (h *Handlers) CreateSettingsLocal(_ context.Context, args operations.Args) (operations.Result, error) {
	settings := Settings{
		Environment: args.GetOr("environment", "local"),
		Driver:      args.GetOr("db_driver", "pgsql"),
		Database:    args.Get("db_name"),
		Username:    args.Get("db_user"),
		Password:    args.Get("db_pass"),
		Host:        args.GetOr("db_host", "localhost"),
		Port:        args.GetOr("db_port", "5432"),
	}
	for _, pair := range args.List("settings") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return operations.Result{}, fmt.Errorf("argument settings: %q is not a key=value pair", pair)
		}
		settings.Extra = append(settings.Extra, Setting{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}

	var buf bytes.Buffer
	if err := settingsTemplate.Execute(&buf, settings); err != nil {
		return operations.Result{}, fmt.Errorf("failed to render settings: %w", err)
	}

	dir := args.Get("path")
	path := filepath.Join(dir, filepath.Base(args.GetOr("file", defaultSettingsFile)))
	if err := h.fs.MkdirAll(dir, 0o755); err != nil {
		return operations.Result{}, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := afero.WriteFile(h.fs, path, buf.Bytes(), 0o640); err != nil {
		return operations.Result{}, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return operations.Result{Message: "wrote " + path}, nil
}

// OpenURI opens an http, https or file URI with the open command.
func (h *Handlers) OpenURI(ctx context.Context, args operations.Args) (operations.Result, error) {
	raw := args.Get("uri")
	u, err := url.Parse(raw)
	if err != nil {
		return operations.Result{}, fmt.Errorf("invalid uri %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "file":
	default:
		return operations.Result{}, fmt.Errorf("invalid uri %q: unsupported scheme %q", raw, u.Scheme)
	}

	cmd, err := shell.Parse(h.open)
	if err != nil {
		return operations.Result{}, err
	}
	cmd.Args = append(cmd.Args, u.String())

	out, err := h.cmd.Run(ctx, cmd)
	if err != nil {
		return operations.Result{Output: out}, fmt.Errorf("failed to open %s: %w", raw, err)
	}

	return operations.Result{Message: "opened " + u.String(), Output: out}, nil
}

// phpString renders s as a single quoted PHP string literal.
func phpString(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}
