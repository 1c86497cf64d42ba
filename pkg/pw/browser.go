package pw

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/odvcencio/playwire/pkg/protocol"
)

// Browser is a launched or attached browser.
type Browser struct {
	*protocol.Base
	init struct {
		Version string `json:"version"`
		Name    string `json:"name"`
	}
	closed atomic.Bool
}

func newBrowser(base *protocol.Base) (*Browser, error) {
	b := &Browser{Base: base}
	if err := base.DecodeInitializer(&b.init); err != nil {
		return nil, err
	}
	base.On("close", func(json.RawMessage) { b.closed.Store(true) })
	return b, nil
}

func (b *Browser) Version() string { return b.init.Version }
func (b *Browser) Name() string    { return b.init.Name }

// IsConnected reports whether the browser is still reachable.
func (b *Browser) IsConnected() bool {
	return !b.closed.Load() && !b.Disposed()
}

// ContextOptions configures newContext.
type ContextOptions struct {
	StorageState      *StorageState `json:"storageState,omitempty"`
	Viewport          *Viewport     `json:"viewport,omitempty"`
	UserAgent         string        `json:"userAgent,omitempty"`
	IgnoreHTTPSErrors bool          `json:"ignoreHTTPSErrors,omitempty"`
	AcceptDownloads   string        `json:"acceptDownloads,omitempty"`
}

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewContext creates an isolated browser context.
func (b *Browser) NewContext(ctx context.Context, opts ContextOptions) (*BrowserContext, error) {
	var result struct {
		Context protocol.GUIDRef `json:"context"`
	}
	if err := b.Channel().Call(ctx, "newContext", opts, &result); err != nil {
		return nil, err
	}
	return resolve[*BrowserContext](ctx, b.Connection(), result.Context.GUID)
}

// Contexts lists the open contexts owned by this browser.
func (b *Browser) Contexts() []*BrowserContext {
	return childrenOf[*BrowserContext](b)
}

// Close closes the browser. Closing an already gone browser succeeds.
func (b *Browser) Close(ctx context.Context) error {
	if !b.IsConnected() {
		return nil
	}
	err := b.Channel().Call(ctx, "close", nil, nil)
	if err != nil && !protocol.IsTargetClosed(err) {
		return err
	}
	b.closed.Store(true)
	return nil
}
