package session

import (
	"context"

	"github.com/odvcencio/playwire/pkg/pw"
)

// Launcher produces driver connections for the session manager.
type Launcher interface {
	// Launch starts a local driver. Attach paths use it too, since
	// connectOverCDP runs inside the driver.
	Launch(ctx context.Context) (*pw.Playwright, error)
	// ConnectServer attaches to a browser server's websocket endpoint.
	ConnectServer(ctx context.Context, browser BrowserKind, wsEndpoint string) (*pw.Browser, *pw.Playwright, error)
}

// DriverLauncher runs the Playwright driver found by package driver.
type DriverLauncher struct {
	Options pw.Options
}

func (l DriverLauncher) Launch(ctx context.Context) (*pw.Playwright, error) {
	return pw.Launch(ctx, l.Options)
}

func (l DriverLauncher) ConnectServer(ctx context.Context, browser BrowserKind, wsEndpoint string) (*pw.Browser, *pw.Playwright, error) {
	return pw.ConnectServer(ctx, browser.String(), wsEndpoint, l.Options)
}
