package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/playwire/pkg/observability"
	"github.com/odvcencio/playwire/pkg/pw"
)

// Endpoints are the addresses a later invocation can attach through.
type Endpoints struct {
	CDP string `json:"cdp,omitempty"`
	WS  string `json:"ws,omitempty"`
}

func (e Endpoints) empty() bool { return e.CDP == "" && e.WS == "" }

// Handle is one acquired session: a browser, a context and a page. It is
// runtime-only; only its endpoints are persisted.
type Handle struct {
	id         string
	playwright *pw.Playwright
	browser    *pw.Browser
	context    *pw.BrowserContext
	page       *pw.Page
	server     *pw.LaunchedServer
	endpoints  Endpoints
	source     Source
	mode       ShutdownMode
	auth       AuthReport

	waitUntil  pw.WaitUntil
	navTimeout time.Duration
	// ownsContext is false when the context was the attached browser's
	// default one.
	ownsContext bool
	// driverOwnsBrowser is true when the local driver launched the browser,
	// so stopping the driver would stop the browser too.
	driverOwnsBrowser bool
	logger            *observability.Logger

	closeOnce sync.Once
	closeErr  error
}

func (h *Handle) ID() string                  { return h.id }
func (h *Handle) Page() *pw.Page              { return h.page }
func (h *Handle) Context() *pw.BrowserContext { return h.context }
func (h *Handle) Browser() *pw.Browser        { return h.browser }
func (h *Handle) Endpoints() Endpoints        { return h.endpoints }
func (h *Handle) Source() Source              { return h.source }

// Mode is the shutdown mode Close applies.
func (h *Handle) Mode() ShutdownMode { return h.mode }

// AuthReport describes credentials injected at acquisition, if any.
func (h *Handle) AuthReport() AuthReport { return h.auth }

// Navigate loads url in the session's page.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	_, err := h.page.Goto(ctx, url, pw.GotoOptions{WaitUntil: h.waitUntil, Timeout: h.navTimeout})
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// NavigateIfNeeded navigates unless the page is already at url, ignoring a
// trailing slash. It reports whether it navigated.
func (h *Handle) NavigateIfNeeded(ctx context.Context, url string) (bool, error) {
	current := h.page.URL()
	if v, err := h.page.Evaluate(ctx, "window.location.href"); err == nil {
		if s, ok := v.(string); ok {
			current = s
		}
	}
	if urlsMatch(current, url) {
		return false, nil
	}
	return true, h.Navigate(ctx, url)
}

// Close tears the session down with the mode fixed at acquisition.
func (h *Handle) Close(ctx context.Context) error {
	return h.Shutdown(ctx, h.mode)
}

// Shutdown tears the session down with mode. Only the first call on a
// handle has any effect.
func (h *Handle) Shutdown(ctx context.Context, mode ShutdownMode) error {
	h.closeOnce.Do(func() {
		h.closeErr = h.shutdown(ctx, mode)
		h.logger.Debug("session closed", "mode", mode.String(), "error", h.closeErr)
	})
	return h.closeErr
}

func (h *Handle) shutdown(ctx context.Context, mode ShutdownMode) error {
	var errs []error
	closeContext := func() {
		if h.context != nil && !h.context.IsClosed() {
			errs = append(errs, h.context.Close(ctx))
		}
	}
	closeBrowser := func() {
		if h.browser != nil {
			errs = append(errs, h.browser.Close(ctx))
		}
	}

	switch mode {
	case KeepBrowserAlive:
		if h.ownsContext {
			closeContext()
		}
		// A launched server lives in the driver process.
		if h.driverOwnsBrowser || h.server != nil {
			h.playwright.Detach()
			return errors.Join(errs...)
		}
	case CloseSessionOnly:
		closeContext()
		closeBrowser()
	case ShutdownServer:
		closeContext()
		if h.server != nil {
			errs = append(errs, h.server.Browser.Close(ctx))
		} else {
			closeBrowser()
		}
	default:
		closeBrowser()
	}
	errs = append(errs, h.playwright.Close())
	return errors.Join(errs...)
}

func newHandleID() string {
	return ulid.Make().String()
}
