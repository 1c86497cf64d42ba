package pw

import (
	"context"
	"time"

	"github.com/odvcencio/playwire/pkg/protocol"
)

const (
	// DefaultLaunchTimeout is sent when LaunchOptions.Timeout is unset.
	DefaultLaunchTimeout = 3 * time.Minute
	// DefaultConnectTimeout is the connectOverCDP budget.
	DefaultConnectTimeout = 30 * time.Second
)

// BrowserType launches or attaches to one browser engine.
type BrowserType struct {
	*protocol.Base
	init struct {
		Name           string `json:"name"`
		ExecutablePath string `json:"executablePath"`
	}
}

func newBrowserType(base *protocol.Base) (*BrowserType, error) {
	bt := &BrowserType{Base: base}
	if err := base.DecodeInitializer(&bt.init); err != nil {
		return nil, err
	}
	return bt, nil
}

func (bt *BrowserType) Name() string           { return bt.init.Name }
func (bt *BrowserType) ExecutablePath() string { return bt.init.ExecutablePath }

// LaunchOptions configures launch and launchServer.
type LaunchOptions struct {
	Headless       *bool
	Args           []string
	Channel        string
	ExecutablePath string
	Timeout        time.Duration
	// HandleSignals, when false, stops the browser from exiting on
	// SIGINT, SIGTERM and SIGHUP sent to the driver.
	HandleSignals *bool
}

func (o LaunchOptions) params() map[string]any {
	params := map[string]any{}
	if o.Headless != nil {
		params["headless"] = *o.Headless
	}
	if len(o.Args) > 0 {
		params["args"] = o.Args
	}
	if o.Channel != "" {
		params["channel"] = o.Channel
	}
	if o.ExecutablePath != "" {
		params["executablePath"] = o.ExecutablePath
	}
	if o.HandleSignals != nil {
		params["handleSIGINT"] = *o.HandleSignals
		params["handleSIGTERM"] = *o.HandleSignals
		params["handleSIGHUP"] = *o.HandleSignals
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultLaunchTimeout
	}
	params["timeout"] = millis(timeout)
	return params
}

// Launch starts a new browser process owned by the driver.
func (bt *BrowserType) Launch(ctx context.Context, opts LaunchOptions) (*Browser, error) {
	var result struct {
		Browser protocol.GUIDRef `json:"browser"`
	}
	if err := bt.Channel().Call(ctx, "launch", opts.params(), &result); err != nil {
		return nil, err
	}
	return resolve[*Browser](ctx, bt.Connection(), result.Browser.GUID)
}

// LaunchedServer is a browser started in server mode. It outlives the
// connection that launched it until explicitly closed.
type LaunchedServer struct {
	WSEndpoint string
	Browser    *Browser
}

// LaunchServer starts a browser server and returns its websocket endpoint.
func (bt *BrowserType) LaunchServer(ctx context.Context, opts LaunchOptions) (*LaunchedServer, error) {
	var result struct {
		WSEndpoint string           `json:"wsEndpoint"`
		Browser    protocol.GUIDRef `json:"browser"`
	}
	if err := bt.Channel().Call(ctx, "launchServer", opts.params(), &result); err != nil {
		return nil, err
	}
	browser, err := resolve[*Browser](ctx, bt.Connection(), result.Browser.GUID)
	if err != nil {
		return nil, err
	}
	return &LaunchedServer{WSEndpoint: result.WSEndpoint, Browser: browser}, nil
}

// CDPConnection is the result of attaching over the DevTools protocol.
// DefaultContext is the browser's persistent profile context, when it has one.
type CDPConnection struct {
	Browser        *Browser
	DefaultContext *BrowserContext
}

// ConnectOverCDP attaches to a running Chromium at endpoint.
func (bt *BrowserType) ConnectOverCDP(ctx context.Context, endpoint string, timeout time.Duration) (*CDPConnection, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	var result struct {
		Browser        protocol.GUIDRef  `json:"browser"`
		DefaultContext *protocol.GUIDRef `json:"defaultContext"`
	}
	params := map[string]any{
		"endpointURL": endpoint,
		"timeout":     millis(timeout),
	}
	if err := bt.Channel().Call(ctx, "connectOverCDP", params, &result); err != nil {
		return nil, err
	}
	browser, err := resolve[*Browser](ctx, bt.Connection(), result.Browser.GUID)
	if err != nil {
		return nil, err
	}
	out := &CDPConnection{Browser: browser}
	if result.DefaultContext != nil && result.DefaultContext.GUID != "" {
		bc, err := resolve[*BrowserContext](ctx, bt.Connection(), result.DefaultContext.GUID)
		if err != nil {
			return nil, err
		}
		out.DefaultContext = bc
	}
	return out, nil
}
