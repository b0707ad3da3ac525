// Package repo implements the source repository operations: git commands run through a
// shell.Commander and remote repository creation through the GitHub API.
//
// Operations talking to a remote (clone, pull, push, remote repository creation) are wrapped
// with operations.Retry using the configured policy. Local operations never retry.
package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-github/v72/github"

	"github.com/rushops/rush/handlers/shell"
	"github.com/rushops/rush/operations"
)

var version = semver.MustParse("1.0.0")

// Deps are the collaborators of the repo handlers.
type Deps struct {
	Commander shell.Commander
	// GitHub creates remote repositories. create_remote_repo fails when nil.
	GitHub *github.Client
	// Retry applies to operations talking to a remote.
	Retry operations.RetryPolicy
	// Git is the git executable. Defaults to "git".
	Git string
}

// Handlers implements the repo operations.
type Handlers struct {
	cmd    shell.Commander
	github *github.Client
	retry  operations.RetryPolicy
	git    string
}

// New returns the repo handlers.
func New(deps Deps) *Handlers {
	git := deps.Git
	if git == "" {
		git = "git"
	}

	return &Handlers{cmd: deps.Commander, github: deps.GitHub, retry: deps.Retry, git: git}
}

// Specs returns the specs of every repo operation.
func (h *Handlers) Specs() []operations.Spec {
	in := operations.InCategory(operations.CategoryRepo)
	remote := func(fn operations.HandlerFunc) operations.Handler { return operations.Retry(fn, h.retry) }

	return []operations.Spec{
		operations.NewSpec("git_init", version, "Initialise a git repository",
			operations.HandlerFunc(h.Init), in,
			operations.Required("path"), operations.Optional("bare", "branch")),
		operations.NewSpec("git_clone", version, "Clone a git repository",
			remote(h.Clone), in,
			operations.Required("url", "path"), operations.Optional("branch", "depth")),
		operations.NewSpec("git_add", version, "Stage files of a git working tree",
			operations.HandlerFunc(h.Add), in,
			operations.Required("path"), operations.Optional("files")),
		operations.NewSpec("git_commit", version, "Commit the staged changes",
			operations.HandlerFunc(h.Commit), in,
			operations.Required("path", "message"), operations.Optional("author", "all", "allow_empty")),
		operations.NewSpec("git_branch", version, "List the branches of a repository",
			operations.HandlerFunc(h.Branch), in,
			operations.Required("path"), operations.Optional("pattern", "all")),
		operations.NewSpec("git_create_branch", version, "Create a branch",
			operations.HandlerFunc(h.CreateBranch), in,
			operations.Required("path", "name"), operations.Optional("start_point", "checkout")),
		operations.NewSpec("git_checkout", version, "Check out a branch, tag or commit",
			operations.HandlerFunc(h.Checkout), in,
			operations.Required("path", "ref")),
		operations.NewSpec("git_pull", version, "Pull from a remote",
			remote(h.Pull), in,
			operations.Required("path"), operations.Optional("remote", "branch", "rebase")),
		operations.NewSpec("git_push", version, "Push to a remote",
			remote(h.Push), in,
			operations.Required("path"), operations.Optional("remote", "branch", "set_upstream", "tags")),
		operations.NewSpec("git_remote_add", version, "Add a remote",
			operations.HandlerFunc(h.RemoteAdd), in,
			operations.Required("path", "name", "url")),
		operations.NewSpec("create_remote_repo", version, "Create a repository on GitHub",
			remote(h.CreateRemoteRepo), in,
			operations.Required("name"), operations.Optional("owner", "description", "private")),
		operations.NewSpec("flow_init", version, "Initialise git-flow with the default branch names",
			operations.HandlerFunc(h.FlowInit), in,
			operations.Required("path"), operations.Optional("force")),
	}
}

func (h *Handlers) Init(ctx context.Context, args operations.Args) (operations.Result, error) {
	bare, err := args.Bool("bare")
	if err != nil {
		return operations.Result{}, err
	}

	gitArgs := []string{"init"}
	if bare {
		gitArgs = append(gitArgs, "--bare")
	}
	if branch := args.Get("branch"); branch != "" {
		gitArgs = append(gitArgs, "--initial-branch="+branch)
	}

	return h.run(ctx, "", "initialised "+args.Get("path"), append(gitArgs, args.Get("path"))...)
}

func (h *Handlers) Clone(ctx context.Context, args operations.Args) (operations.Result, error) {
	gitArgs := []string{"clone"}
	if branch := args.Get("branch"); branch != "" {
		gitArgs = append(gitArgs, "--branch", branch)
	}
	if depth := args.Get("depth"); depth != "" {
		gitArgs = append(gitArgs, "--depth", depth)
	}
	gitArgs = append(gitArgs, "--", args.Get("url"), args.Get("path"))

	return h.run(ctx, "", fmt.Sprintf("cloned %s into %s", args.Get("url"), args.Get("path")), gitArgs...)
}

// Add stages the comma separated files, or the whole working tree when none are given.
func (h *Handlers) Add(ctx context.Context, args operations.Args) (operations.Result, error) {
	files := args.List("files")
	if len(files) == 0 {
		files = []string{"."}
	}

	return h.run(ctx, args.Get("path"), "staged "+strings.Join(files, ", "), append([]string{"add", "--"}, files...)...)
}

func (h *Handlers) Commit(ctx context.Context, args operations.Args) (operations.Result, error) {
	all, err := args.Bool("all")
	if err != nil {
		return operations.Result{}, err
	}
	allowEmpty, err := args.Bool("allow_empty")
	if err != nil {
		return operations.Result{}, err
	}

	gitArgs := []string{"commit", "-m", args.Get("message")}
	if all {
		gitArgs = append(gitArgs, "--all")
	}
	if allowEmpty {
		gitArgs = append(gitArgs, "--allow-empty")
	}
	if author := args.Get("author"); author != "" {
		gitArgs = append(gitArgs, "--author", author)
	}

	return h.run(ctx, args.Get("path"), "committed to "+args.Get("path"), gitArgs...)
}

// Branch lists the branches in the output, all=true includes remote tracking branches.
func (h *Handlers) Branch(ctx context.Context, args operations.Args) (operations.Result, error) {
	all, err := args.Bool("all")
	if err != nil {
		return operations.Result{}, err
	}

	gitArgs := []string{"branch", "--list"}
	if all {
		gitArgs = append(gitArgs, "--all")
	}
	if pattern := args.Get("pattern"); pattern != "" {
		gitArgs = append(gitArgs, pattern)
	}

	res, err := h.run(ctx, args.Get("path"), "", gitArgs...)
	if err != nil {
		return res, err
	}
	res.Message = fmt.Sprintf("%d branches", countLines(res.Output))

	return res, nil
}

func (h *Handlers) CreateBranch(ctx context.Context, args operations.Args) (operations.Result, error) {
	checkout, err := args.Bool("checkout")
	if err != nil {
		return operations.Result{}, err
	}

	name := args.Get("name")
	gitArgs := []string{"branch", name}
	if checkout {
		gitArgs = []string{"checkout", "-b", name}
	}
	if start := args.Get("start_point"); start != "" {
		gitArgs = append(gitArgs, start)
	}

	return h.run(ctx, args.Get("path"), "created branch "+name, gitArgs...)
}

func (h *Handlers) Checkout(ctx context.Context, args operations.Args) (operations.Result, error) {
	return h.run(ctx, args.Get("path"), "checked out "+args.Get("ref"), "checkout", args.Get("ref"))
}

func (h *Handlers) Pull(ctx context.Context, args operations.Args) (operations.Result, error) {
	rebase, err := args.Bool("rebase")
	if err != nil {
		return operations.Result{}, err
	}

	gitArgs := []string{"pull"}
	if rebase {
		gitArgs = append(gitArgs, "--rebase")
	}
	gitArgs = append(gitArgs, remoteAndBranch(args)...)

	return h.run(ctx, args.Get("path"), "pulled "+strings.Join(remoteAndBranch(args), " "), gitArgs...)
}

func (h *Handlers) Push(ctx context.Context, args operations.Args) (operations.Result, error) {
	upstream, err := args.Bool("set_upstream")
	if err != nil {
		return operations.Result{}, err
	}
	tags, err := args.Bool("tags")
	if err != nil {
		return operations.Result{}, err
	}

	gitArgs := []string{"push"}
	if upstream {
		gitArgs = append(gitArgs, "--set-upstream")
	}
	if tags {
		gitArgs = append(gitArgs, "--tags")
	}
	gitArgs = append(gitArgs, remoteAndBranch(args)...)

	return h.run(ctx, args.Get("path"), "pushed "+strings.Join(remoteAndBranch(args), " "), gitArgs...)
}

func (h *Handlers) RemoteAdd(ctx context.Context, args operations.Args) (operations.Result, error) {
	return h.run(ctx, args.Get("path"), fmt.Sprintf("added remote %s (%s)", args.Get("name"), args.Get("url")),
		"remote", "add", args.Get("name"), args.Get("url"))
}

// FlowInit runs git flow init with the default branch names.
func (h *Handlers) FlowInit(ctx context.Context, args operations.Args) (operations.Result, error) {
	force, err := args.Bool("force")
	if err != nil {
		return operations.Result{}, err
	}

	gitArgs := []string{"flow", "init", "-d"}
	if force {
		gitArgs = append(gitArgs, "-f")
	}

	return h.run(ctx, args.Get("path"), "initialised git-flow in "+args.Get("path"), gitArgs...)
}

// CreateRemoteRepo creates a GitHub repository, in the owner organisation when given and for
// the authenticated user otherwise. The clone URL is returned as the output.
func (h *Handlers) CreateRemoteRepo(ctx context.Context, args operations.Args) (operations.Result, error) {
	if h.github == nil {
		return operations.Result{}, operations.Unrecoverable(fmt.Errorf("no GitHub client configured"))
	}

	private := true
	if _, ok := args.Lookup("private"); ok {
		var err error
		if private, err = args.Bool("private"); err != nil {
			return operations.Result{}, operations.Unrecoverable(err)
		}
	}

	repo, resp, err := h.github.Repositories.Create(ctx, args.Get("owner"), &github.Repository{
		Name:        github.Ptr(args.Get("name")),
		Description: github.Ptr(args.Get("description")),
		Private:     github.Ptr(private),
	})
	if err != nil {
		// 4xx responses will not succeed on retry.
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return operations.Result{}, operations.Unrecoverable(fmt.Errorf("failed to create repository %s: %w", args.Get("name"), err))
		}

		return operations.Result{}, fmt.Errorf("failed to create repository %s: %w", args.Get("name"), err)
	}

	return operations.Result{
		Message: "created repository " + repo.GetFullName(),
		Output:  repo.GetSSHURL(),
	}, nil
}

func (h *Handlers) run(ctx context.Context, dir, message string, args ...string) (operations.Result, error) {
	out, err := h.cmd.Run(ctx, shell.Command{Name: h.git, Args: args, Dir: dir})
	if err != nil {
		return operations.Result{Output: out}, err
	}

	return operations.Result{Message: message, Output: out}, nil
}

func remoteAndBranch(args operations.Args) []string {
	out := []string{args.GetOr("remote", "origin")}
	if branch := args.Get("branch"); branch != "" {
		out = append(out, branch)
	}

	return out
}

func countLines(s string) int {
	n := 0
	for line := range strings.SplitSeq(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}

	return n
}
