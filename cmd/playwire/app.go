package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/odvcencio/playwire/pkg/config"
	"github.com/odvcencio/playwire/pkg/driver"
	"github.com/odvcencio/playwire/pkg/lease"
	"github.com/odvcencio/playwire/pkg/observability"
	"github.com/odvcencio/playwire/pkg/workspace"
)

var (
	loadConfigFn     = config.Load
	loadConfigPathFn = config.LoadFromPath
)

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *observability.Logger
	stdout io.Writer
	stderr io.Writer
}

func newApp(configPath string, stdout, stderr io.Writer) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = loadConfigPathFn(configPath)
	} else {
		cfg, err = loadConfigFn()
	}
	if err != nil {
		return nil, err
	}
	logger := observability.NewLoggerTo(stderr, "playwire", observability.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	return &app{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}, nil
}

// startTelemetry starts span export and the metrics listener as configured.
// The returned func flushes spans.
func (a *app) startTelemetry(ctx context.Context) func() {
	var tp *observability.TracerProvider
	if a.cfg.Telemetry.Tracing {
		var err error
		tp, err = observability.NewTracerProvider(a.stderr, "playwire", driver.Version)
		if err != nil {
			a.logger.Warn("tracing disabled", slog.String("error", err.Error()))
		}
	}
	if addr := a.cfg.Telemetry.MetricsAddr; addr != "" {
		go func() {
			if err := observability.ServeMetrics(ctx, addr); err != nil {
				a.logger.Warn("metrics listener stopped", slog.String("addr", addr), slog.String("error", err.Error()))
			}
		}()
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}
}

// leaseSource returns the configured coordinator client. The caller closes
// it.
func (a *app) leaseSource() (lease.Source, error) {
	logger := a.logger.Component("lease")
	switch a.cfg.Coordinator.Backend {
	case config.BackendRedis:
		src, err := lease.NewRedisSource(a.cfg.Coordinator.Redis, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.BackendNATS:
		src, err := lease.NewNATSSource(a.cfg.Coordinator.NATS)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return lease.Disabled{}, nil
	}
}

// scopeFlags are the workspace selectors shared by open and session.
type scopeFlags struct {
	workspace string
	namespace string
	noProject bool
}

func (a *app) registerScopeFlags(fs *flag.FlagSet) *scopeFlags {
	sf := &scopeFlags{}
	fs.StringVar(&sf.workspace, "workspace", a.cfg.WorkspacePath(), "workspace root (default: detected project or git root)")
	fs.StringVar(&sf.namespace, "namespace", a.cfg.Session.Namespace, "session namespace within the workspace")
	fs.BoolVar(&sf.noProject, "no-project", a.cfg.Session.NoProject, "do not search for a project root")
	return sf
}

func (sf *scopeFlags) resolve() (workspace.Scope, error) {
	return workspace.NewResolver(sf.noProject).Resolve(sf.workspace, sf.namespace)
}

// writeJSON prints v, indented when stdout is a terminal and one line per
// document otherwise.
func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	if isTerminal(a.stdout) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
