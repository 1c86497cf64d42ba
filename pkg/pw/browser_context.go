package pw

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/odvcencio/playwire/pkg/protocol"
)

// BrowserContext is an isolated cookie and storage jar holding pages.
type BrowserContext struct {
	*protocol.Base
	closed atomic.Bool
}

func newBrowserContext(base *protocol.Base) (*BrowserContext, error) {
	bc := &BrowserContext{Base: base}
	base.On("close", func(json.RawMessage) { bc.closed.Store(true) })
	return bc, nil
}

// Browser returns the owning browser, nil for contexts of a persistent launch.
func (bc *BrowserContext) Browser() *Browser {
	b, _ := bc.Parent().(*Browser)
	return b
}

// IsClosed reports whether the context has been closed.
func (bc *BrowserContext) IsClosed() bool {
	return bc.closed.Load() || bc.Disposed()
}

// NewPage opens a blank page in this context.
func (bc *BrowserContext) NewPage(ctx context.Context) (*Page, error) {
	var result struct {
		Page protocol.GUIDRef `json:"page"`
	}
	if err := bc.Channel().Call(ctx, "newPage", nil, &result); err != nil {
		return nil, err
	}
	return resolve[*Page](ctx, bc.Connection(), result.Page.GUID)
}

// Pages lists open pages in creation order.
func (bc *BrowserContext) Pages() []*Page {
	var out []*Page
	for _, p := range childrenOf[*Page](bc) {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

// AddCookies installs cookies into the context jar.
func (bc *BrowserContext) AddCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return bc.Channel().Call(ctx, "addCookies", map[string]any{"cookies": cookies}, nil)
}

// Cookies returns the cookies visible to urls, or all cookies when empty.
func (bc *BrowserContext) Cookies(ctx context.Context, urls ...string) ([]Cookie, error) {
	if urls == nil {
		urls = []string{}
	}
	var result struct {
		Cookies []Cookie `json:"cookies"`
	}
	if err := bc.Channel().Call(ctx, "cookies", map[string]any{"urls": urls}, &result); err != nil {
		return nil, err
	}
	return result.Cookies, nil
}

// StorageState snapshots cookies and local storage.
func (bc *BrowserContext) StorageState(ctx context.Context) (*StorageState, error) {
	var state StorageState
	if err := bc.Channel().Call(ctx, "storageState", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Close closes the context and every page in it.
func (bc *BrowserContext) Close(ctx context.Context) error {
	if bc.IsClosed() {
		return nil
	}
	err := bc.Channel().Call(ctx, "close", nil, nil)
	if err != nil && !protocol.IsTargetClosed(err) {
		return err
	}
	bc.closed.Store(true)
	return nil
}
