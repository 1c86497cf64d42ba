package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"

	perrors "github.com/odvcencio/playwire/pkg/errors"
	"github.com/odvcencio/playwire/pkg/lease"
	"github.com/odvcencio/playwire/pkg/pw"
	"github.com/odvcencio/playwire/pkg/session"
)

// managerFactory builds the session manager; tests swap it for one backed
// by a scripted driver.
var managerFactory = func(a *app, repo *session.Repository, leases lease.Source, refresh bool) *session.Manager {
	launcher := session.DriverLauncher{Options: pw.Options{Driver: a.cfg.Driver, Logger: a.logger}}
	return session.NewManager(repo, launcher,
		session.WithLeaseSource(leases),
		session.WithLogger(a.logger.Component("session")),
		session.WithRefresh(refresh),
		session.WithNavigationTimeout(a.cfg.Session.NavigationTimeout),
	)
}

type openResult struct {
	SessionID string             `json:"sessionId"`
	Source    string             `json:"source"`
	Mode      string             `json:"mode"`
	URL       string             `json:"url"`
	Title     string             `json:"title"`
	Navigated bool               `json:"navigated"`
	Endpoints session.Endpoints  `json:"endpoints"`
	Auth      session.AuthReport `json:"auth"`
}

func (a *app) runOpen(ctx context.Context, args []string) (err error) {
	s := a.cfg.Session
	protected := append([]string{}, s.ProtectedURLs...)

	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	scope := a.registerScopeFlags(fs)
	browser := fs.String("browser", s.Browser, "browser engine: chromium, firefox or webkit")
	headed := fs.Bool("headed", !s.Headless, "show the browser window")
	waitUntil := fs.String("wait-until", s.WaitUntil, "navigation readiness: load, domcontentloaded, networkidle or commit")
	authFile := fs.String("auth", s.AuthFile, "storage state file applied to a new context")
	endpoint := fs.String("endpoint", s.Endpoint, "attach to a running chromium at this CDP endpoint")
	debugPort := fs.Int("debug-port", s.DebugPort, "launch chromium with this remote debugging port")
	keep := fs.Bool("keep", s.KeepBrowserRunning, "leave the browser running after exit")
	server := fs.Bool("server", s.LaunchServer, "launch a browser server other invocations can connect to")
	refresh := fs.Bool("refresh", s.Refresh, "ignore and discard the recorded session")
	preferred := fs.String("prefer", s.PreferredURL, "reuse an attached page at this URL when present")
	noCoordinator := fs.Bool("no-coordinator", false, "do not ask the coordinator for a browser")
	fs.Var(&stringListValue{target: &protected}, "protect", "never reuse attached pages whose URL contains this (repeatable)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() != 1 {
		return withExitCode(errors.New("open requires exactly one URL"), exitUsage)
	}
	target := fs.Arg(0)

	kind, err := session.ParseBrowserKind(*browser)
	if err != nil {
		return perrors.Wrap(err, perrors.ErrCodeInvalidInput, "parse --browser")
	}
	req := session.NewRequest().
		WithBrowser(kind).
		WithHeadless(!*headed).
		WithWaitUntil(pw.WaitUntil(*waitUntil)).
		WithAuthFile(*authFile).
		WithEndpoint(*endpoint).
		WithDebugPort(*debugPort).
		WithKeepBrowserRunning(*keep).
		WithLaunchServer(*server).
		WithProtectedURLs(protected...).
		WithPreferredURL(*preferred)

	sc, err := scope.resolve()
	if err != nil {
		return err
	}

	stopTelemetry := a.startTelemetry(ctx)
	defer stopTelemetry()

	var leases lease.Source = lease.Disabled{}
	if !*noCoordinator {
		if leases, err = a.leaseSource(); err != nil {
			a.logger.Warn("coordinator unavailable", slog.String("error", err.Error()))
			leases = lease.Disabled{}
		}
	}
	defer leases.Close()

	m := managerFactory(a, session.NewRepository(sc), leases, *refresh)
	h, err := m.Acquire(ctx, req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = fmt.Errorf("close session: %w", closeErr)
		}
	}()

	navigated, err := h.NavigateIfNeeded(ctx, target)
	if err != nil {
		return err
	}
	title, err := h.Page().Title(ctx)
	if err != nil {
		return err
	}
	return a.writeJSON(openResult{
		SessionID: h.ID(),
		Source:    string(h.Source()),
		Mode:      h.Mode().String(),
		URL:       h.Page().URL(),
		Title:     title,
		Navigated: navigated,
		Endpoints: h.Endpoints(),
		Auth:      h.AuthReport(),
	})
}
