package pw

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/odvcencio/playwire/pkg/protocol"
)

// Playwright is the top-level driver object returned by the handshake.
type Playwright struct {
	*protocol.Base
	init struct {
		Chromium protocol.GUIDRef `json:"chromium"`
		Firefox  protocol.GUIDRef `json:"firefox"`
		Webkit   protocol.GUIDRef `json:"webkit"`

		PreLaunchedBrowser *protocol.GUIDRef `json:"preLaunchedBrowser"`
	}

	closeOnce sync.Once
	closer    func() error
	closeErr  error
	driverPID int
}

func newPlaywright(base *protocol.Base) (*Playwright, error) {
	p := &Playwright{Base: base}
	if err := base.DecodeInitializer(&p.init); err != nil {
		return nil, err
	}
	return p, nil
}

// BrowserType returns the launcher for "chromium", "firefox" or "webkit".
func (p *Playwright) BrowserType(name string) (*BrowserType, error) {
	var ref protocol.GUIDRef
	switch name {
	case "chromium":
		ref = p.init.Chromium
	case "firefox":
		ref = p.init.Firefox
	case "webkit":
		ref = p.init.Webkit
	default:
		return nil, fmt.Errorf("unknown browser type %q", name)
	}
	if ref.GUID == "" {
		return nil, fmt.Errorf("driver did not advertise %s", name)
	}
	obj, ok := p.Connection().Registry().TryGet(ref.GUID)
	if !ok {
		return nil, &protocol.ProtocolError{Op: "browserType", GUID: ref.GUID, Message: "browser type not registered"}
	}
	bt, ok := obj.(*BrowserType)
	if !ok {
		return nil, &protocol.ProtocolError{Op: "browserType", GUID: ref.GUID, Message: "expected BrowserType, got " + obj.Type()}
	}
	return bt, nil
}

func (p *Playwright) Chromium() (*BrowserType, error) { return p.BrowserType("chromium") }
func (p *Playwright) Firefox() (*BrowserType, error)  { return p.BrowserType("firefox") }
func (p *Playwright) Webkit() (*BrowserType, error)   { return p.BrowserType("webkit") }

func (p *Playwright) preLaunchedBrowser(ctx context.Context) (*Browser, error) {
	if p.init.PreLaunchedBrowser == nil || p.init.PreLaunchedBrowser.GUID == "" {
		return nil, errors.New("server did not expose a browser")
	}
	return resolve[*Browser](ctx, p.Connection(), p.init.PreLaunchedBrowser.GUID)
}

// DriverPID is the pid of the local driver process, or 0 when connected
// over a websocket or a caller-supplied transport.
func (p *Playwright) DriverPID() int { return p.driverPID }

// Detach gives up ownership of the driver without stopping it, so browsers it
// launched outlive this handle. A later Close does nothing.
func (p *Playwright) Detach() {
	p.closeOnce.Do(func() {})
}

// Close shuts the connection and the driver process it came from.
func (p *Playwright) Close() error {
	p.closeOnce.Do(func() {
		if p.closer != nil {
			p.closeErr = p.closer()
		}
	})
	return p.closeErr
}
