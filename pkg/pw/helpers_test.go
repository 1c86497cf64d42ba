package pw

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/playwire/pkg/observability"
	"github.com/odvcencio/playwire/pkg/pw/pwtest"
)

// startPlaywright runs the handshake against a scripted driver. Handlers must
// be registered by setup before the connection starts.
func startPlaywright(t *testing.T, setup func(d *pwtest.Driver)) (*Playwright, *pwtest.Driver) {
	t.Helper()
	d, client := pwtest.New(t)
	if setup != nil {
		setup(d)
	}
	go d.Serve()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := connect(ctx, client, d.Close, observability.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, d
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func decodeParams(t *testing.T, req pwtest.Request) map[string]any {
	t.Helper()
	return req.Decode(t)
}

func openPage(t *testing.T, p *Playwright) (*Browser, *BrowserContext, *Page) {
	t.Helper()
	ctx := testContext(t)
	bt, err := p.Chromium()
	require.NoError(t, err)
	browser, err := bt.Launch(ctx, LaunchOptions{})
	require.NoError(t, err)
	bc, err := browser.NewContext(ctx, ContextOptions{})
	require.NoError(t, err)
	page, err := bc.NewPage(ctx)
	require.NoError(t, err)
	return browser, bc, page
}
