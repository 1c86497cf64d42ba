package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/odvcencio/playwire/pkg/driver"
	perrors "github.com/odvcencio/playwire/pkg/errors"
	"github.com/odvcencio/playwire/pkg/lease"
	"github.com/odvcencio/playwire/pkg/observability"
	"github.com/odvcencio/playwire/pkg/pw"
)

// Manager acquires sessions for one workspace namespace.
type Manager struct {
	repo       *Repository
	launcher   Launcher
	leases     lease.Source
	logger     *observability.Logger
	refresh    bool
	driverHash string
	navTimeout time.Duration
	httpClient *http.Client
	now        func() time.Time
	pid        func() int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLeaseSource enables the coordinator.
func WithLeaseSource(src lease.Source) Option {
	return func(m *Manager) {
		if src != nil {
			m.leases = src
		}
	}
}

func WithLogger(logger *observability.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRefresh discards the stored descriptor before every acquisition.
func WithRefresh(refresh bool) Option {
	return func(m *Manager) { m.refresh = refresh }
}

// WithDriverHash overrides the build identity stamped into descriptors.
func WithDriverHash(hash string) Option {
	return func(m *Manager) { m.driverHash = hash }
}

// WithNavigationTimeout bounds Handle.Navigate.
func WithNavigationTimeout(d time.Duration) Option {
	return func(m *Manager) { m.navTimeout = d }
}

// WithHTTPClient sets the client used to probe DevTools endpoints.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

func NewManager(repo *Repository, launcher Launcher, opts ...Option) *Manager {
	m := &Manager{
		repo:       repo,
		launcher:   launcher,
		leases:     lease.Disabled{},
		logger:     observability.Nop(),
		driverHash: driver.Version,
		now:        time.Now,
		pid:        os.Getpid,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithNamespace(repo.Scope().WorkspaceID(), repo.Scope().Namespace())
	return m
}

func (m *Manager) Repository() *Repository { return m.repo }

// acquired is the outcome of one acquisition path before it becomes a
// Handle.
type acquired struct {
	playwright        *pw.Playwright
	browser           *pw.Browser
	context           *pw.BrowserContext
	page              *pw.Page
	server            *pw.LaunchedServer
	endpoints         Endpoints
	ownsContext       bool
	driverOwnsBrowser bool
}

// Acquire obtains a session for req. Reuse paths that turn out to be stale
// fall through to the next one; only failures of the path finally chosen
// are returned.
func (m *Manager) Acquire(ctx context.Context, req Request) (_ *Handle, err error) {
	ctx, span := observability.StartSpan(ctx, "session.acquire",
		observability.AttrBrowser.String(req.Browser.String()))
	defer func() { observability.EndSpan(span, err) }()

	if req.Browser == "" {
		req.Browser = Chromium
	}
	if req.WaitUntil == "" {
		req.WaitUntil = pw.WaitLoad
	}
	id := newHandleID()
	logger := m.logger.WithSession(id)

	if m.refresh {
		if _, err := m.repo.Clear(); err != nil {
			return nil, err
		}
	}

	var storage *pw.StorageState
	if req.AuthFile != "" {
		storage, err = pw.LoadStorageState(req.AuthFile)
		if err != nil {
			return nil, perrors.Wrap(err, perrors.ErrCodeAuthLoad, "load auth file").
				WithContext("path", req.AuthFile)
		}
	}

	in := StrategyInput{Request: req}
	if !m.refresh {
		d, err := m.reusableDescriptor(req, logger)
		if err != nil {
			return nil, err
		}
		in.Descriptor = d
	}

	var leaseKey string
	leaseTried := false
	for {
		if in.Descriptor == nil && !leaseTried && req.wantsLease() {
			leaseTried = true
			leaseKey = m.repo.Scope().SessionKey(req.Browser.String(), req.Headless)
			in.LeaseEndpoint = m.tryLease(ctx, req, leaseKey, logger)
			if in.LeaseEndpoint == "" {
				leaseKey = ""
			}
		}

		strat, err := ResolveStrategy(in)
		if err != nil {
			observability.SessionAcquireFailures.WithLabelValues("resolve").Inc()
			return nil, err
		}
		span.SetAttributes(observability.AttrStrategy.String(string(strat.Source)))

		got, err := m.run(ctx, strat, req, storage, in.Descriptor, logger)
		if err == nil {
			return m.finish(ctx, id, strat, req, got, leaseKey, logger)
		}
		observability.SessionAcquireFailures.WithLabelValues(string(strat.Source)).Inc()

		switch strat.Source {
		case SourceDescriptor:
			logger.Debug("recorded session unusable, discarding", slog.String("endpoint", strat.Endpoint), slog.String("error", err.Error()))
			if _, clearErr := m.repo.Clear(); clearErr != nil {
				return nil, clearErr
			}
			in.Descriptor = nil
		case SourceLease:
			logger.Debug("leased browser unusable, falling back", slog.String("endpoint", strat.Endpoint), slog.String("error", err.Error()))
			m.releaseLease(leaseKey, logger)
			leaseKey = ""
			in.LeaseEndpoint = ""
		default:
			return nil, wrapAcquisition(err, strat.Source, fmt.Sprintf("acquire %s session", strat.Source))
		}
	}
}

// reusableDescriptor returns the stored descriptor when it belongs to this
// namespace, matches req and its owner is alive.
func (m *Manager) reusableDescriptor(req Request, logger *observability.Logger) (*Descriptor, error) {
	d, err := m.repo.Load()
	if err != nil || d == nil {
		return nil, err
	}
	switch {
	case !d.BelongsTo(m.repo.Scope()):
		logger.Debug("descriptor belongs to another scope", slog.String("workspace_id", d.WorkspaceID), slog.String("namespace", d.Namespace))
	case !d.Matches(req.Browser, req.Headless, req.Endpoint, m.driverHash):
		logger.Debug("descriptor does not match request")
	case !d.IsAlive():
		logger.Debug("descriptor owner is gone", slog.Int("pid", d.PID))
	case d.Endpoint() == "":
		logger.Debug("descriptor lacks endpoint")
	default:
		return d, nil
	}
	return nil, nil
}

func (m *Manager) tryLease(ctx context.Context, req Request, key string, logger *observability.Logger) string {
	l, err := m.leases.Acquire(ctx, req.Browser.String(), req.Headless, key)
	if err != nil {
		if !errors.Is(err, lease.ErrUnavailable) {
			logger.Debug("lease request failed, falling back", slog.String("session_key", key), slog.String("error", err.Error()))
		}
		return ""
	}
	logger.Debug("using leased browser", slog.String("endpoint", l.Endpoint), slog.String("session_key", key))
	return l.Endpoint
}

func (m *Manager) releaseLease(key string, logger *observability.Logger) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.leases.Release(ctx, key); err != nil {
		logger.Debug("lease release failed", slog.String("session_key", key), slog.String("error", err.Error()))
	}
}

func (m *Manager) run(ctx context.Context, strat Strategy, req Request, storage *pw.StorageState, d *Descriptor, logger *observability.Logger) (*acquired, error) {
	switch strat.Source {
	case SourceDescriptor:
		if strat.Endpoint != d.CDPEndpoint {
			return m.connectServer(ctx, req, storage, strat.Endpoint)
		}
		return m.attach(ctx, req, storage, strat.Endpoint, logger)
	case SourceLease, SourceAttach:
		return m.attach(ctx, req, storage, strat.Endpoint, logger)
	case SourcePersistent:
		return m.launchPersistent(ctx, req, storage, logger)
	case SourceServer:
		return m.launchServer(ctx, req, storage)
	default:
		return m.launchFresh(ctx, req, storage)
	}
}

// finish injects credentials, records the descriptor and builds the Handle.
func (m *Manager) finish(ctx context.Context, id string, strat Strategy, req Request, got *acquired, leaseKey string, logger *observability.Logger) (*Handle, error) {
	h := &Handle{
		id:                id,
		playwright:        got.playwright,
		browser:           got.browser,
		context:           got.context,
		page:              got.page,
		server:            got.server,
		endpoints:         got.endpoints,
		source:            strat.Source,
		mode:              strat.Mode,
		waitUntil:         req.WaitUntil,
		navTimeout:        m.navTimeout,
		ownsContext:       got.ownsContext,
		driverOwnsBrowser: got.driverOwnsBrowser,
		logger:            logger,
	}

	if strat.Source.attached() && req.AuthFile == "" {
		if files := m.repo.Scope().AuthFiles(); len(files) > 0 {
			report, err := injectAuthFiles(ctx, h.context, files, logger)
			h.auth = report
			if err != nil {
				_ = h.Shutdown(ctx, KeepBrowserAlive)
				return nil, perrors.Wrap(err, perrors.ErrCodeAuthLoad, "inject project auth files")
			}
			logger.Debug("auth injection summary",
				slog.Int("files_seen", report.FilesSeen),
				slog.Int("files_loaded", report.FilesLoaded),
				slog.Int("cookies_added", report.CookiesAdded))
		}
	}

	if strat.Source != SourceDescriptor {
		m.record(req, got, leaseKey, logger)
	}

	observability.SessionAcquisitions.WithLabelValues(string(strat.Source), req.Browser.String()).Inc()
	endpoint := got.endpoints.CDP
	if endpoint == "" {
		endpoint = got.endpoints.WS
	}
	logger.SessionAcquired(string(strat.Source), req.Browser.String(), req.Headless, endpoint)
	return h, nil
}

// record persists a descriptor when the session has an endpoint another
// invocation could attach to. Failures are logged, not returned.
func (m *Manager) record(req Request, got *acquired, leaseKey string, logger *observability.Logger) {
	if got.endpoints.empty() {
		logger.Debug("no endpoint available, skipping descriptor save")
		return
	}
	scope := m.repo.Scope()
	key := leaseKey
	if key == "" {
		key = scope.SessionKey(req.Browser.String(), req.Headless)
	}
	pid := got.playwright.DriverPID()
	if pid == 0 || !got.driverOwnsBrowser {
		pid = m.pid()
	}
	d := Descriptor{
		PID:         pid,
		Browser:     req.Browser,
		Headless:    req.Headless,
		CDPEndpoint: got.endpoints.CDP,
		WSEndpoint:  got.endpoints.WS,
		WorkspaceID: scope.WorkspaceID(),
		Namespace:   scope.Namespace(),
		SessionKey:  key,
		DriverHash:  m.driverHash,
		CreatedAt:   m.now().Unix(),
	}
	if err := m.repo.Save(d); err != nil {
		logger.Warn("failed to save session descriptor", slog.String("path", m.repo.Path()), slog.String("error", err.Error()))
		return
	}
	logger.Debug("saved session descriptor", slog.String("cdp", d.CDPEndpoint), slog.String("ws", d.WSEndpoint))
}

func (m *Manager) browserType(p *pw.Playwright, kind BrowserKind) (*pw.BrowserType, error) {
	return p.BrowserType(kind.String())
}

func (m *Manager) attach(ctx context.Context, req Request, storage *pw.StorageState, endpoint string, logger *observability.Logger) (_ *acquired, err error) {
	p, err := m.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()
	bt, err := m.browserType(p, Chromium)
	if err != nil {
		return nil, err
	}
	conn, err := bt.ConnectOverCDP(ctx, endpoint, 0)
	if err != nil {
		return nil, err
	}
	got := &acquired{playwright: p, browser: conn.Browser, endpoints: Endpoints{CDP: endpoint}}
	switch {
	case storage != nil:
		got.context, err = conn.Browser.NewContext(ctx, pw.ContextOptions{StorageState: storage})
		if err != nil {
			return nil, err
		}
		got.ownsContext = true
		got.page, err = got.context.NewPage(ctx)
	case conn.DefaultContext != nil:
		got.context = conn.DefaultContext
		got.page, err = selectPage(ctx, got.context, req.ProtectedURLs, req.PreferredURL, logger)
	default:
		got.context, err = conn.Browser.NewContext(ctx, pw.ContextOptions{})
		if err != nil {
			return nil, err
		}
		got.ownsContext = true
		got.page, err = got.context.NewPage(ctx)
	}
	if err != nil {
		return nil, err
	}
	return got, nil
}

func (m *Manager) connectServer(ctx context.Context, req Request, storage *pw.StorageState, wsEndpoint string) (_ *acquired, err error) {
	browser, p, err := m.launcher.ConnectServer(ctx, req.Browser, wsEndpoint)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()
	got := &acquired{playwright: p, browser: browser, endpoints: Endpoints{WS: wsEndpoint}, ownsContext: true}
	if err := m.newContextAndPage(ctx, got, storage); err != nil {
		return nil, err
	}
	return got, nil
}

func (m *Manager) launchPersistent(ctx context.Context, req Request, storage *pw.StorageState, logger *observability.Logger) (_ *acquired, err error) {
	p, err := m.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()
	bt, err := m.browserType(p, Chromium)
	if err != nil {
		return nil, err
	}
	handleSignals := !req.KeepBrowserRunning
	browser, err := bt.Launch(ctx, pw.LaunchOptions{
		Headless:      &req.Headless,
		Args:          []string{"--remote-debugging-port=" + strconv.Itoa(req.DebugPort)},
		HandleSignals: &handleSignals,
	})
	if err != nil {
		return nil, err
	}
	got := &acquired{playwright: p, browser: browser, ownsContext: true, driverOwnsBrowser: true}
	if err := m.newContextAndPage(ctx, got, storage); err != nil {
		return nil, err
	}

	endpoint, _, probeErr := DiscoverCDP(ctx, m.httpClient, req.DebugPort)
	if probeErr != nil {
		endpoint = "http://localhost:" + strconv.Itoa(req.DebugPort)
		logger.Debug("debug port did not answer yet", slog.String("endpoint", endpoint), slog.String("error", probeErr.Error()))
	}
	got.endpoints = Endpoints{CDP: endpoint}
	return got, nil
}

func (m *Manager) launchServer(ctx context.Context, req Request, storage *pw.StorageState) (_ *acquired, err error) {
	p, err := m.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()
	bt, err := m.browserType(p, req.Browser)
	if err != nil {
		return nil, err
	}
	srv, err := bt.LaunchServer(ctx, pw.LaunchOptions{Headless: &req.Headless})
	if err != nil {
		return nil, err
	}
	got := &acquired{
		playwright:        p,
		browser:           srv.Browser,
		server:            srv,
		endpoints:         Endpoints{WS: srv.WSEndpoint},
		ownsContext:       true,
		driverOwnsBrowser: true,
	}
	if err := m.newContextAndPage(ctx, got, storage); err != nil {
		return nil, err
	}
	return got, nil
}

func (m *Manager) launchFresh(ctx context.Context, req Request, storage *pw.StorageState) (_ *acquired, err error) {
	p, err := m.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()
	bt, err := m.browserType(p, req.Browser)
	if err != nil {
		return nil, err
	}
	browser, err := bt.Launch(ctx, pw.LaunchOptions{Headless: &req.Headless})
	if err != nil {
		return nil, err
	}
	got := &acquired{playwright: p, browser: browser, ownsContext: true, driverOwnsBrowser: true}
	if err := m.newContextAndPage(ctx, got, storage); err != nil {
		return nil, err
	}
	return got, nil
}

func (m *Manager) newContextAndPage(ctx context.Context, got *acquired, storage *pw.StorageState) error {
	bc, err := got.browser.NewContext(ctx, pw.ContextOptions{StorageState: storage})
	if err != nil {
		return err
	}
	page, err := bc.NewPage(ctx)
	if err != nil {
		return err
	}
	got.context, got.page = bc, page
	return nil
}
