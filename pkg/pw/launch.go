package pw

import (
	"context"
	"errors"
	"fmt"

	"github.com/odvcencio/playwire/pkg/driver"
	"github.com/odvcencio/playwire/pkg/observability"
	"github.com/odvcencio/playwire/pkg/protocol"
)

// SDKLanguage is reported in the initialize handshake. The driver only
// accepts the languages it ships clients for.
const SDKLanguage = "javascript"

// Options configures Launch and Connect.
type Options struct {
	Driver  driver.Config
	Logger  *observability.Logger
	Headers map[string]string
}

// Launch starts a local driver process and completes the handshake over its
// stdio pipe.
func Launch(ctx context.Context, opts Options) (*Playwright, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	proc, err := driver.Start(ctx, opts.Driver, logger.Component("driver"))
	if err != nil {
		return nil, err
	}
	p, err := connect(ctx, proc.Transport(), proc.Close, logger)
	if err != nil {
		_ = proc.Close()
		return nil, err
	}
	p.driverPID = proc.Pid()
	return p, nil
}

// Connect completes the handshake over an already open transport. Closing
// the returned Playwright closes the transport.
func Connect(ctx context.Context, transport protocol.Transport, opts Options) (*Playwright, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	p, err := connect(ctx, transport, nil, logger)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}
	return p, nil
}

// ConnectWebSocket completes the handshake with a driver server listening at
// url.
func ConnectWebSocket(ctx context.Context, url string, opts Options) (*Playwright, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	transport, err := protocol.DialWebSocket(ctx, url, opts.Headers)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, transport, Options{Logger: logger})
}

// Connect attaches to a browser server started by LaunchServer. The returned
// Playwright owns the websocket and must be closed by the caller.
func (bt *BrowserType) Connect(ctx context.Context, wsEndpoint string, opts Options) (*Browser, *Playwright, error) {
	return ConnectServer(ctx, bt.Name(), wsEndpoint, opts)
}

// ConnectServer attaches to the browser server for browser ("chromium",
// "firefox" or "webkit") listening at wsEndpoint.
func ConnectServer(ctx context.Context, browser, wsEndpoint string, opts Options) (*Browser, *Playwright, error) {
	headers := make(map[string]string, len(opts.Headers)+1)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	headers["x-playwright-browser"] = browser
	opts.Headers = headers
	p, err := ConnectWebSocket(ctx, wsEndpoint, opts)
	if err != nil {
		return nil, nil, err
	}
	b, err := p.preLaunchedBrowser(ctx)
	if err != nil {
		_ = p.Close()
		return nil, nil, fmt.Errorf("connect %s: %w", wsEndpoint, err)
	}
	return b, p, nil
}

func connect(ctx context.Context, transport protocol.Transport, closeDriver func() error, logger *observability.Logger) (*Playwright, error) {
	conn := protocol.NewConnection(transport, Factory, protocol.WithLogger(logger.Component("protocol")))
	runCtx, cancel := context.WithCancel(context.Background())
	conn.Start(runCtx)

	obj, err := conn.Initialize(ctx, SDKLanguage)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, err
	}
	p, ok := obj.(*Playwright)
	if !ok {
		cancel()
		_ = conn.Close()
		return nil, &protocol.ProtocolError{Op: "initialize", GUID: obj.GUID(), Message: "expected Playwright, got " + obj.Type()}
	}
	p.closer = func() error {
		cancel()
		err := conn.Close()
		if closeDriver != nil {
			err = errors.Join(err, closeDriver())
		}
		return err
	}
	return p, nil
}
