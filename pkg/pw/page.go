package pw

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/odvcencio/playwire/pkg/protocol"
)

// Page is a single tab.
type Page struct {
	*protocol.Base
	init struct {
		MainFrame protocol.GUIDRef `json:"mainFrame"`
		IsClosed  bool             `json:"isClosed"`
	}
	closed atomic.Bool
}

func newPage(base *protocol.Base) (*Page, error) {
	p := &Page{Base: base}
	if err := base.DecodeInitializer(&p.init); err != nil {
		return nil, err
	}
	p.closed.Store(p.init.IsClosed)
	base.On("close", func(json.RawMessage) { p.closed.Store(true) })
	return p, nil
}

// Context returns the owning browser context.
func (p *Page) Context() *BrowserContext {
	bc, _ := p.Parent().(*BrowserContext)
	return bc
}

// IsClosed reports whether the page has been closed.
func (p *Page) IsClosed() bool {
	return p.closed.Load() || p.Disposed()
}

// MainFrame returns the top-level frame, nil if the driver has not created it.
func (p *Page) MainFrame() *Frame {
	conn := p.Connection()
	if conn == nil || p.init.MainFrame.GUID == "" {
		return nil
	}
	obj, ok := conn.Registry().TryGet(p.init.MainFrame.GUID)
	if !ok {
		return nil
	}
	f, _ := obj.(*Frame)
	return f
}

func (p *Page) mainFrame(ctx context.Context) (*Frame, error) {
	if f := p.MainFrame(); f != nil {
		return f, nil
	}
	return resolve[*Frame](ctx, p.Connection(), p.init.MainFrame.GUID)
}

// URL is the main frame's last committed URL.
func (p *Page) URL() string {
	if f := p.MainFrame(); f != nil {
		return f.URL()
	}
	return ""
}

// Goto navigates the main frame.
func (p *Page) Goto(ctx context.Context, url string, opts GotoOptions) (*Response, error) {
	f, err := p.mainFrame(ctx)
	if err != nil {
		return nil, err
	}
	return f.Goto(ctx, url, opts)
}

// Title returns the document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	f, err := p.mainFrame(ctx)
	if err != nil {
		return "", err
	}
	return f.Title(ctx)
}

// Evaluate runs expression in the main frame.
func (p *Page) Evaluate(ctx context.Context, expression string) (any, error) {
	f, err := p.mainFrame(ctx)
	if err != nil {
		return nil, err
	}
	return f.Evaluate(ctx, expression)
}

// BringToFront activates the tab.
func (p *Page) BringToFront(ctx context.Context) error {
	return p.Channel().Call(ctx, "bringToFront", nil, nil)
}

// Close closes the page without running beforeunload handlers.
func (p *Page) Close(ctx context.Context) error {
	if p.IsClosed() {
		return nil
	}
	err := p.Channel().Call(ctx, "close", map[string]any{"runBeforeUnload": false}, nil)
	if err != nil && !protocol.IsTargetClosed(err) {
		return err
	}
	p.closed.Store(true)
	return nil
}
