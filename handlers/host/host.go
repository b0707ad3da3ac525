// Package host implements the web host operations: Apache virtual hosts, local DNS entries in
// the hosts file and restarting Apache.
package host

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
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

var vhostTemplate = template.Must(template.ParseFS(templates, "templates/vhost.conf.tmpl"))

const (
	defaultIP      = "127.0.0.1"
	defaultPort    = "80"
	defaultLogDir  = "/var/log/apache2"
	defaultRestart = "apachectl graceful"
)

// Deps are the collaborators of the host handlers.
type Deps struct {
	Fs        afero.Fs
	Commander shell.Commander
	// VhostDir receives the virtual host files.
	VhostDir string
	// HostsFile is the hosts file DNS entries are written to.
	HostsFile string
	// RestartCommand restarts Apache. Defaults to "apachectl graceful".
	RestartCommand string
	// VhostTemplate replaces the built-in virtual host template. Optional.
	VhostTemplate *template.Template
}

// VirtualHost is the data the virtual host template is rendered with.
type VirtualHost struct {
	ServerName    string
	ServerAliases []string
	ServerAdmin   string
	DocumentRoot  string
	Port          string
	LogDir        string
}

// Handlers implements the host operations.
type Handlers struct {
	fs        afero.Fs
	cmd       shell.Commander
	vhostDir  string
	hostsFile string
	restart   string
	tmpl      *template.Template
}

// New returns the host handlers.
func New(deps Deps) *Handlers {
	h := &Handlers{
		fs:        deps.Fs,
		cmd:       deps.Commander,
		vhostDir:  deps.VhostDir,
		hostsFile: deps.HostsFile,
		restart:   deps.RestartCommand,
		tmpl:      deps.VhostTemplate,
	}
	if h.restart == "" {
		h.restart = defaultRestart
	}
	if h.tmpl == nil {
		h.tmpl = vhostTemplate
	}

	return h
}

// Specs returns the specs of every host operation.
func (h *Handlers) Specs() []operations.Spec {
	in := operations.InCategory(operations.CategoryHost)

	return []operations.Spec{
		operations.NewSpec("create_vhost", version, "Write an Apache virtual host",
			operations.HandlerFunc(h.CreateVhost), in,
			operations.Required("server_name", "document_root"),
			operations.Optional("server_alias", "server_admin", "port", "log_dir", "file", "overwrite")),
		operations.NewSpec("delete_vhost", version, "Remove an Apache virtual host",
			operations.HandlerFunc(h.DeleteVhost), in,
			operations.Required("server_name"), operations.Optional("file")),
		operations.NewSpec("create_dns", version, "Point a host name at an address in the hosts file",
			operations.HandlerFunc(h.CreateDNS), in,
			operations.Required("hostname"), operations.Optional("ip")),
		operations.NewSpec("delete_dns", version, "Remove a host name from the hosts file",
			operations.HandlerFunc(h.DeleteDNS), in,
			operations.Required("hostname")),
		operations.NewSpec("restart_apache", version, "Restart Apache",
			operations.HandlerFunc(h.RestartApache), in,
			operations.Optional("command")),
	}
}

// CreateVhost renders the virtual host of server_name into the vhost directory. The rendered
// file is returned as the output.
func (h *Handlers) CreateVhost(_ context.Context, args operations.Args) (operations.Result, error) {
	overwrite, err := args.Bool("overwrite")
	if err != nil {
		return operations.Result{}, err
	}

	path := h.vhostPath(args)
	exists, err := afero.Exists(h.fs, path)
	if err != nil {
		return operations.Result{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if exists && !overwrite {
		return operations.Result{}, fmt.Errorf("virtual host %s already exists", path)
	}

	var buf bytes.Buffer
	err = h.tmpl.Execute(&buf, VirtualHost{
		ServerName:    args.Get("server_name"),
		ServerAliases: args.List("server_alias"),
		ServerAdmin:   args.Get("server_admin"),
		DocumentRoot:  args.Get("document_root"),
		Port:          args.GetOr("port", defaultPort),
		LogDir:        args.GetOr("log_dir", defaultLogDir),
	})
	if err != nil {
		return operations.Result{}, fmt.Errorf("failed to render virtual host: %w", err)
	}

	if err = h.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return operations.Result{}, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err = afero.WriteFile(h.fs, path, buf.Bytes(), 0o644); err != nil {
		return operations.Result{}, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return operations.Result{Message: "wrote " + path, Output: buf.String()}, nil
}

func (h *Handlers) DeleteVhost(_ context.Context, args operations.Args) (operations.Result, error) {
	path := h.vhostPath(args)
	if err := h.fs.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return operations.Result{Message: path + " does not exist"}, nil
		}

		return operations.Result{}, fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return operations.Result{Message: "removed " + path}, nil
}

// CreateDNS maps hostname to ip in the hosts file. An existing mapping of hostname to another
// address is replaced.
func (h *Handlers) CreateDNS(_ context.Context, args operations.Args) (operations.Result, error) {
	hostname, ip := args.Get("hostname"), args.GetOr("ip", defaultIP)

	var msg string
	err := h.editHosts(func(entries []hostsEntry) []hostsEntry {
		for _, e := range entries {
			if e.ip == ip && slices.Contains(e.names, hostname) {
				msg = fmt.Sprintf("%s already points at %s", hostname, ip)

				return entries
			}
		}
		entries = removeName(entries, hostname)
		msg = fmt.Sprintf("pointed %s at %s", hostname, ip)

		return append(entries, hostsEntry{ip: ip, names: []string{hostname}})
	})
	if err != nil {
		return operations.Result{}, err
	}

	return operations.Result{Message: msg}, nil
}

// DeleteDNS removes hostname from every line of the hosts file. Lines left without a name are
// dropped.
func (h *Handlers) DeleteDNS(_ context.Context, args operations.Args) (operations.Result, error) {
	hostname := args.Get("hostname")

	removed := false
	err := h.editHosts(func(entries []hostsEntry) []hostsEntry {
		out := removeName(entries, hostname)
		removed = len(out) != len(entries) || namesCount(out) != namesCount(entries)

		return out
	})
	if err != nil {
		return operations.Result{}, err
	}
	if !removed {
		return operations.Result{Message: hostname + " is not in " + h.hostsFile}, nil
	}

	return operations.Result{Message: "removed " + hostname + " from " + h.hostsFile}, nil
}

// RestartApache runs the configured restart command, or the command argument when given.
func (h *Handlers) RestartApache(ctx context.Context, args operations.Args) (operations.Result, error) {
	cmd, err := shell.Parse(args.GetOr("command", h.restart))
	if err != nil {
		return operations.Result{}, err
	}

	out, err := h.cmd.Run(ctx, cmd)
	if err != nil {
		return operations.Result{Output: out}, fmt.Errorf("failed to restart apache: %w", err)
	}

	return operations.Result{Message: "restarted apache", Output: out}, nil
}

func (h *Handlers) vhostPath(args operations.Args) string {
	file := args.GetOr("file", args.Get("server_name")+".conf")

	return filepath.Join(h.vhostDir, filepath.Base(file))
}

// hostsEntry is one line of the hosts file. Comment and blank lines keep their raw text and
// have no ip.
type hostsEntry struct {
	raw     string
	ip      string
	names   []string
	comment string
}

func (e hostsEntry) String() string {
	if e.ip == "" {
		return e.raw
	}
	line := e.ip + "\t" + strings.Join(e.names, " ")
	if e.comment != "" {
		line += " #" + e.comment
	}

	return line
}

func parseHosts(text string) []hostsEntry {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}

	var entries []hostsEntry
	for line := range strings.SplitSeq(text, "\n") {
		content, comment, _ := strings.Cut(line, "#")
		fields := strings.Fields(content)
		if len(fields) < 2 {
			entries = append(entries, hostsEntry{raw: line})
			continue
		}
		entries = append(entries, hostsEntry{ip: fields[0], names: fields[1:], comment: comment})
	}

	return entries
}

func (h *Handlers) editHosts(edit func([]hostsEntry) []hostsEntry) error {
	if h.hostsFile == "" {
		return errors.New("no hosts file configured")
	}

	content, err := afero.ReadFile(h.fs, h.hostsFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", h.hostsFile, err)
	}

	entries := edit(parseHosts(string(content)))

	var buf strings.Builder
	for _, e := range entries {
		buf.WriteString(e.String() + "\n")
	}
	if err = afero.WriteFile(h.fs, h.hostsFile, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", h.hostsFile, err)
	}

	return nil
}

func removeName(entries []hostsEntry, name string) []hostsEntry {
	out := make([]hostsEntry, 0, len(entries))
	for _, e := range entries {
		if e.ip != "" {
			e.names = slices.DeleteFunc(slices.Clone(e.names), func(n string) bool { return n == name })
			if len(e.names) == 0 {
				continue
			}
		}
		out = append(out, e)
	}

	return out
}

func namesCount(entries []hostsEntry) int {
	n := 0
	for _, e := range entries {
		n += len(e.names)
	}

	return n
}
