// Package driver locates and runs the Playwright driver process whose stdio
// carries the object protocol.
package driver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	perrors "github.com/odvcencio/playwire/pkg/errors"
	"github.com/odvcencio/playwire/pkg/observability"
	"github.com/odvcencio/playwire/pkg/protocol"
)

// Version is reported to the driver and recorded as the descriptor driver hash.
var Version = "0.1.0-dev"

const (
	defaultStartGrace = 100 * time.Millisecond
	defaultStopGrace  = 5 * time.Second
)

// Config selects the driver and its environment.
type Config struct {
	NodePath     string        `yaml:"node_path"`
	CLIPath      string        `yaml:"cli_path"`
	DriverDir    string        `yaml:"driver_dir"`
	BrowsersPath string        `yaml:"browsers_path"`
	StartGrace   time.Duration `yaml:"start_grace"`
	StopGrace    time.Duration `yaml:"stop_grace"`
}

func (c Config) withDefaults() Config {
	if c.StartGrace <= 0 {
		c.StartGrace = defaultStartGrace
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	return c
}

// Process is a running driver.
type Process struct {
	cmd       *exec.Cmd
	transport *protocol.PipeTransport
	logger    *observability.Logger
	stopGrace time.Duration

	waitDone chan struct{}
	waitErr  error

	closeOnce sync.Once
	closeErr  error
}

// Start locates and spawns the driver. The process outlives ctx, which only
// bounds discovery and the startup check.
func Start(ctx context.Context, cfg Config, logger *observability.Logger) (*Process, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = observability.Nop()
	}
	exe, err := Locate(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe.Node, exe.CLI, "run-driver")
	cmd.Env = driverEnv(os.Environ(), cfg)
	return start(ctx, cmd, cfg, logger)
}

func driverEnv(base []string, cfg Config) []string {
	env := append([]string{}, base...)
	env = append(env,
		"PW_LANG_NAME=go",
		"PW_LANG_NAME_VERSION="+runtime.Version(),
		"PW_CLI_DISPLAY_VERSION="+Version,
	)
	if cfg.BrowsersPath != "" {
		env = append(env, "PLAYWRIGHT_BROWSERS_PATH="+cfg.BrowsersPath)
	}
	return env
}

func start(ctx context.Context, cmd *exec.Cmd, cfg Config, logger *observability.Logger) (*Process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeDriverLaunch, "driver stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeDriverLaunch, "driver stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeDriverLaunch, "driver stderr")
	}
	if err := cmd.Start(); err != nil {
		return nil, perrors.Wrap(err, perrors.ErrCodeDriverLaunch, "start driver").
			WithContext("path", cmd.Path)
	}

	p := &Process{
		cmd:       cmd,
		transport: protocol.NewPipeTransport(stdout, stdin, stdin),
		logger:    &observability.Logger{Logger: logger.With(slog.Int("pid", cmd.Process.Pid))},
		stopGrace: cfg.StopGrace,
		waitDone:  make(chan struct{}),
	}
	go func() {
		// Wait must follow the last read from the stderr pipe.
		p.pumpStderr(stderr)
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()

	timer := time.NewTimer(cfg.StartGrace)
	defer timer.Stop()
	select {
	case <-p.waitDone:
		return nil, perrors.New(perrors.ErrCodeDriverLaunch, fmt.Sprintf("driver exited immediately: %v", exitStatus(cmd, p.waitErr)))
	case <-ctx.Done():
		_ = p.kill()
		return nil, ctx.Err()
	case <-timer.C:
	}
	p.logger.Debug("driver started", slog.String("cli", cmd.Args[1]))
	return p, nil
}

func (p *Process) pumpStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.logger.Debug("driver stderr", slog.String("line", scanner.Text()))
	}
}

// Transport is the framed pipe over the driver's stdio.
func (p *Process) Transport() *protocol.PipeTransport { return p.transport }

// Pid of the driver process.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.waitDone }

// Close closes stdin, which makes the driver exit, and kills it if it has not
// exited within the stop grace period.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.transport.Close()
		timer := time.NewTimer(p.stopGrace)
		defer timer.Stop()
		select {
		case <-p.waitDone:
		case <-timer.C:
			p.logger.Warn("driver did not exit, killing")
			p.closeErr = p.kill()
			return
		}
		var exitErr *exec.ExitError
		if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
			p.closeErr = p.waitErr
		}
	})
	return p.closeErr
}

func (p *Process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-p.waitDone
	return nil
}

func exitStatus(cmd *exec.Cmd, waitErr error) string {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.String()
	}
	if waitErr != nil {
		return waitErr.Error()
	}
	return "unknown"
}
