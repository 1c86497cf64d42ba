package driver

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	perrors "github.com/odvcencio/playwire/pkg/errors"
)

// Executable is a resolved node binary and Playwright CLI script.
type Executable struct {
	Node string
	CLI  string
}

//go:generate mockgen -package=driver -destination=mock_npm_runner_test.go github.com/odvcencio/playwire/pkg/driver npmRunner
type npmRunner interface {
	Root(ctx context.Context, global bool) (string, error)
}

type execNPMRunner struct{}

func (execNPMRunner) Root(ctx context.Context, global bool) (string, error) {
	args := []string{"root"}
	if global {
		args = append(args, "-g")
	}
	out, err := exec.CommandContext(ctx, "npm", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

type locator struct {
	getenv   func(string) string
	lookPath func(string) (string, error)
	npm      npmRunner
	timeout  time.Duration
}

func defaultLocator() *locator {
	return &locator{
		getenv:   os.Getenv,
		lookPath: exec.LookPath,
		npm:      execNPMRunner{},
		timeout:  5 * time.Second,
	}
}

// Locate resolves the driver from cfg, then the environment, then npm.
func Locate(ctx context.Context, cfg Config) (Executable, error) {
	return defaultLocator().locate(ctx, cfg)
}

func (l *locator) locate(ctx context.Context, cfg Config) (Executable, error) {
	node := firstNonEmpty(cfg.NodePath, l.getenv("PLAYWRIGHT_NODE_EXE"))
	cli := firstNonEmpty(cfg.CLIPath, l.getenv("PLAYWRIGHT_CLI_JS"))
	if node != "" && cli != "" {
		if !fileExists(node) || !fileExists(cli) {
			return Executable{}, perrors.New(perrors.ErrCodeDriverNotFound, "configured node or cli.js does not exist").
				WithContext("node", node).
				WithContext("cli", cli)
		}
		return Executable{Node: node, CLI: cli}, nil
	}

	if dir := firstNonEmpty(cfg.DriverDir, l.getenv("PLAYWRIGHT_DRIVER_PATH")); dir != "" {
		exe := Executable{Node: filepath.Join(dir, nodeBinary()), CLI: filepath.Join(dir, "package", "cli.js")}
		if fileExists(exe.Node) && fileExists(exe.CLI) {
			return exe, nil
		}
		return Executable{}, perrors.New(perrors.ErrCodeDriverNotFound, "driver directory has no node or package/cli.js").
			WithContext("dir", dir)
	}

	nodePath, err := l.lookPath("node")
	if err != nil {
		return Executable{}, perrors.Wrap(err, perrors.ErrCodeDriverNotFound, "node not found on PATH").
			WithRemediation("install Node.js", "or set PLAYWRIGHT_DRIVER_PATH to a Playwright driver bundle")
	}
	for _, global := range []bool{true, false} {
		lctx, cancel := context.WithTimeout(ctx, l.timeout)
		root, err := l.npm.Root(lctx, global)
		cancel()
		if err != nil || root == "" {
			continue
		}
		for _, pkg := range []string{"playwright", "playwright-core"} {
			cli := filepath.Join(root, pkg, "cli.js")
			if fileExists(cli) {
				return Executable{Node: nodePath, CLI: cli}, nil
			}
		}
	}
	return Executable{}, perrors.New(perrors.ErrCodeDriverNotFound, "playwright driver not found").
		WithRemediation("npm install -g playwright", "or set PLAYWRIGHT_NODE_EXE and PLAYWRIGHT_CLI_JS")
}

func nodeBinary() string {
	if runtime.GOOS == "windows" {
		return "node.exe"
	}
	return "node"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
