package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// AutoRoot asks Resolve to detect the root.
const AutoRoot = "auto"

var projectMarkers = []string{
	"playwright.config.ts",
	"playwright.config.js",
	"playwright.config.mts",
	"playwright.config.mjs",
	"playwright.config.cjs",
}

//go:generate mockgen -package=workspace -destination=mock_git_runner_test.go github.com/odvcencio/playwire/pkg/workspace gitCommandRunner
type gitCommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

type execGitRunner struct{}

func (execGitRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.Output()
}

// Resolver finds workspace roots.
type Resolver struct {
	// NoProject skips Playwright project detection.
	NoProject bool

	git     gitCommandRunner
	timeout time.Duration
	getwd   func() (string, error)
}

// NewResolver returns a resolver that shells out to git.
func NewResolver(noProject bool) *Resolver {
	return &Resolver{
		NoProject: noProject,
		git:       execGitRunner{},
		timeout:   3 * time.Second,
		getwd:     os.Getwd,
	}
}

// Resolve returns the scope for an explicit workspace path, or detects the
// root when workspace is empty or "auto".
func (r *Resolver) Resolve(workspace, namespace string) (Scope, error) {
	workspace = strings.TrimSpace(workspace)
	if workspace != "" && workspace != AutoRoot {
		if !filepath.IsAbs(workspace) {
			cwd, err := r.getwd()
			if err != nil {
				return Scope{}, err
			}
			workspace = filepath.Join(cwd, workspace)
		}
		return NewScope(workspace, namespace), nil
	}
	cwd, err := r.getwd()
	if err != nil {
		return Scope{}, err
	}
	return NewScope(r.detect(cwd), namespace), nil
}

// detect prefers the nearest Playwright project, then the git toplevel,
// then cwd.
func (r *Resolver) detect(cwd string) string {
	if !r.NoProject {
		if root, ok := findProjectRoot(cwd); ok {
			return root
		}
	}
	if root := r.gitRoot(cwd); root != "" {
		return root
	}
	return cwd
}

func (r *Resolver) gitRoot(cwd string) string {
	if r.git == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	out, err := r.git.Run(ctx, cwd, "rev-parse", "--show-toplevel")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func findProjectRoot(start string) (string, bool) {
	current := start
	for {
		for _, marker := range projectMarkers {
			if _, err := os.Stat(filepath.Join(current, marker)); err == nil {
				return current, true
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}
