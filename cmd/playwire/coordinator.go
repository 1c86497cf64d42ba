package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/odvcencio/playwire/pkg/bus"
	"github.com/odvcencio/playwire/pkg/config"
	perrors "github.com/odvcencio/playwire/pkg/errors"
	"github.com/odvcencio/playwire/pkg/lease"
)

func (a *app) runCoordinator(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return withExitCode(errors.New("usage: playwire coordinator <serve|list|register|kill|shutdown|ping> [flags]"), exitUsage)
	}
	switch args[0] {
	case "serve":
		return a.coordinatorServe(ctx, args[1:])
	case "register":
		return a.coordinatorRegister(ctx, args[1:])
	case "list", "kill", "shutdown", "ping":
		return a.coordinatorClient(ctx, args[0], args[1:])
	default:
		return withExitCode(fmt.Errorf("unknown coordinator command %q", args[0]), exitUsage)
	}
}

// coordinatorServe answers NATS lease requests from the Redis pool until
// interrupted or asked to shut down.
func (a *app) coordinatorServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("coordinator serve", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	natsURL := fs.String("nats", a.cfg.Coordinator.NATS.Bus.URL, "NATS server URL")
	redisURL := fs.String("redis", a.cfg.Coordinator.Redis.URL, "Redis URL holding the browser pool")
	subject := fs.String("subject", a.cfg.Coordinator.NATS.Subject, "subject prefix to answer on")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}

	logger := a.logger.Component("lease")
	redisCfg := a.cfg.Coordinator.Redis
	redisCfg.URL = *redisURL
	pool, err := lease.NewRedisSource(redisCfg, logger)
	if err != nil {
		return perrors.Wrap(err, perrors.ErrCodeLeaseBackend, "open browser pool")
	}
	defer pool.Close()

	busCfg := a.cfg.Coordinator.NATS.Bus
	busCfg.URL = *natsURL
	b, err := bus.NewNATSBus(busCfg)
	if err != nil {
		return perrors.Wrap(err, perrors.ErrCodeLeaseBackend, "connect to NATS")
	}
	defer b.Close()

	stopTelemetry := a.startTelemetry(ctx)
	defer stopTelemetry()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger.Info("coordinator serving", slog.String("subject", *subject), slog.String("nats", busCfg.URL))
	return lease.Serve(ctx, b, *subject, pool, logger, cancel)
}

func (a *app) coordinatorRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("coordinator register", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	port := fs.Int("port", 0, "remote debugging port of the browser")
	endpoint := fs.String("endpoint", "", "CDP endpoint (default: http://127.0.0.1:<port>)")
	browser := fs.String("browser", "chromium", "browser engine")
	headless := fs.Bool("headless", true, "whether the browser is headless")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if *port <= 0 || *port > 65535 {
		return withExitCode(errors.New("register requires --port"), exitUsage)
	}
	if a.cfg.Coordinator.Backend != config.BackendRedis {
		return withExitCode(errors.New("register needs the redis coordinator backend"), exitConfig)
	}
	if *endpoint == "" {
		*endpoint = "http://127.0.0.1:" + strconv.Itoa(*port)
	}

	pool, err := lease.NewRedisSource(a.cfg.Coordinator.Redis, a.logger.Component("lease"))
	if err != nil {
		return perrors.Wrap(err, perrors.ErrCodeLeaseBackend, "open browser pool")
	}
	defer pool.Close()
	info := lease.BrowserInfo{Port: *port, Endpoint: *endpoint, Browser: *browser, Headless: *headless}
	if err := pool.Register(ctx, info); err != nil {
		return perrors.Wrap(err, perrors.ErrCodeLeaseBackend, "register browser")
	}
	return a.writeJSON(info)
}

func (a *app) coordinatorClient(ctx context.Context, op string, args []string) error {
	if a.cfg.Coordinator.Backend == "" || a.cfg.Coordinator.Backend == config.BackendNone {
		return withExitCode(perrors.New(perrors.ErrCodeLeaseUnavailable, "no coordinator backend configured"), exitConfig)
	}
	src, err := a.leaseSource()
	if err != nil {
		return perrors.Wrap(err, perrors.ErrCodeLeaseUnavailable, "connect to coordinator")
	}
	defer src.Close()

	switch op {
	case "list":
		browsers, err := src.List(ctx)
		if err != nil {
			return err
		}
		return a.writeJSON(browsers)
	case "ping":
		ok, err := src.Ping(ctx)
		if err != nil {
			return err
		}
		return a.writeJSON(map[string]bool{"ok": ok})
	case "kill":
		if len(args) != 1 {
			return withExitCode(errors.New("usage: playwire coordinator kill <port>"), exitUsage)
		}
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return withExitCode(fmt.Errorf("invalid port %q", args[0]), exitUsage)
		}
		return src.Kill(ctx, port)
	default:
		return src.Shutdown(ctx)
	}
}
