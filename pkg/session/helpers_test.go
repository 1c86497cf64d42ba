package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/playwire/pkg/pw"
	"github.com/odvcencio/playwire/pkg/pw/pwtest"
	"github.com/odvcencio/playwire/pkg/workspace"
)

// fakeLauncher hands out connections to scripted drivers.
type fakeLauncher struct {
	t     *testing.T
	setup func(d *pwtest.Driver)

	mu      sync.Mutex
	drivers []*pwtest.Driver
	servers []string
}

func newFakeLauncher(t *testing.T, setup func(d *pwtest.Driver)) *fakeLauncher {
	return &fakeLauncher{t: t, setup: setup}
}

func (l *fakeLauncher) Launch(ctx context.Context) (*pw.Playwright, error) {
	d, client := pwtest.New(l.t)
	if l.setup != nil {
		l.setup(d)
	}
	go d.Serve()
	l.mu.Lock()
	l.drivers = append(l.drivers, d)
	l.mu.Unlock()

	p, err := pw.Connect(ctx, client, pw.Options{})
	if err != nil {
		return nil, err
	}
	l.t.Cleanup(func() { _ = p.Close() })
	return p, nil
}

// ConnectServer stands in for a websocket attach by launching a browser on
// a fresh scripted driver.
func (l *fakeLauncher) ConnectServer(ctx context.Context, browser BrowserKind, wsEndpoint string) (*pw.Browser, *pw.Playwright, error) {
	l.mu.Lock()
	l.servers = append(l.servers, wsEndpoint)
	l.mu.Unlock()
	p, err := l.Launch(ctx)
	if err != nil {
		return nil, nil, err
	}
	bt, err := p.BrowserType(browser.String())
	if err != nil {
		return nil, nil, err
	}
	b, err := bt.Launch(ctx, pw.LaunchOptions{})
	if err != nil {
		return nil, nil, err
	}
	return b, p, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.drivers)
}

// seen collects method calls across every driver launched so far.
func (l *fakeLauncher) seen(method string) []pwtest.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []pwtest.Request
	for _, d := range l.drivers {
		out = append(out, d.Seen(method)...)
	}
	return out
}

// withCDP answers connectOverCDP with a browser whose default context holds
// pages at the given URLs.
func withCDP(urls ...string) func(d *pwtest.Driver) {
	return func(d *pwtest.Driver) {
		pwtest.WithPage(d)
		d.Handle("connectOverCDP", func(d *pwtest.Driver, req pwtest.Request) (any, error) {
			d.Create(req.GUID, "Browser", "browser@cdp", map[string]any{"version": "121.0", "name": "chromium"})
			d.Create("browser@cdp", "BrowserContext", "browser-context@default", map[string]any{})
			for i, url := range urls {
				frame := "frame@cdp" + string(rune('a'+i))
				d.Create("browser-context@default", "Frame", frame, map[string]any{"url": url})
				d.Create("browser-context@default", "Page", "page@cdp"+string(rune('a'+i)), map[string]any{"mainFrame": pwtest.Ref(frame)})
			}
			return map[string]any{"browser": pwtest.Ref("browser@cdp"), "defaultContext": pwtest.Ref("browser-context@default")}, nil
		})
	}
}

func testScope(t *testing.T) workspace.Scope {
	t.Helper()
	return workspace.NewScope(t.TempDir(), "test")
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func saveDescriptor(t *testing.T, repo *Repository, d Descriptor) {
	t.Helper()
	require.NoError(t, repo.Save(d))
}
