package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	perrors "github.com/odvcencio/playwire/pkg/errors"
	"github.com/odvcencio/playwire/pkg/lease"
	"github.com/odvcencio/playwire/pkg/lease/leasemock"
	"github.com/odvcencio/playwire/pkg/pw/pwtest"
)

const testHash = "test-hash"

func newTestManager(t *testing.T, launcher Launcher, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithDriverHash(testHash)}, opts...)
	return NewManager(NewRepository(testScope(t)), launcher, opts...)
}

func liveDescriptor(repo *Repository, cdp string) Descriptor {
	return Descriptor{
		PID:         os.Getpid(),
		Browser:     Chromium,
		Headless:    true,
		CDPEndpoint: cdp,
		WorkspaceID: repo.Scope().WorkspaceID(),
		Namespace:   repo.Scope().Namespace(),
		DriverHash:  testHash,
		CreatedAt:   1,
	}
}

func TestAcquireFreshLaunch(t *testing.T) {
	launcher := newFakeLauncher(t, pwtest.WithPage)
	m := newTestManager(t, launcher)
	ctx := testContext(t)

	h, err := m.Acquire(ctx, NewRequest().WithHeadless(false))
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, h.Source())
	assert.Equal(t, CloseAll, h.Mode())
	assert.Equal(t, Endpoints{}, h.Endpoints())
	assert.Equal(t, "page@1", h.Page().GUID())
	assert.NotEmpty(t, h.ID())

	launch := launcher.seen("launch")
	require.Len(t, launch, 1)
	assert.Equal(t, false, launch[0].Decode(t)["headless"])

	_, err = os.Stat(m.Repository().Path())
	assert.True(t, os.IsNotExist(err), "no endpoint, no descriptor")

	require.NoError(t, h.Close(ctx))
	closes := launcher.seen("close")
	require.Len(t, closes, 1)
	assert.Equal(t, "browser@1", closes[0].GUID)
	assert.NoError(t, h.Close(ctx), "second close is a no-op")
}

func TestAcquirePrefersDescriptorOverLease(t *testing.T) {
	ctrl := gomock.NewController(t)
	leases := leasemock.NewMockSource(ctrl)
	launcher := newFakeLauncher(t, withCDP("https://app.test/"))
	m := newTestManager(t, launcher, WithLeaseSource(leases))
	saveDescriptor(t, m.Repository(), liveDescriptor(m.Repository(), "http://127.0.0.1:9555"))

	// No lease calls are expected; gomock fails the test on any.
	h, err := m.Acquire(testContext(t), NewRequest())
	require.NoError(t, err)
	assert.Equal(t, SourceDescriptor, h.Source())
	assert.Equal(t, "http://127.0.0.1:9555", h.Endpoints().CDP)
	assert.Equal(t, KeepBrowserAlive, h.Mode())
	assert.Equal(t, "https://app.test/", h.Page().URL(), "existing page is reused")

	connects := launcher.seen("connectOverCDP")
	require.Len(t, connects, 1)
	assert.Equal(t, "http://127.0.0.1:9555", connects[0].Decode(t)["endpointURL"])
}

func TestAcquireUsesLease(t *testing.T) {
	ctrl := gomock.NewController(t)
	leases := leasemock.NewMockSource(ctrl)
	launcher := newFakeLauncher(t, withCDP())
	m := newTestManager(t, launcher, WithLeaseSource(leases))
	key := m.Repository().Scope().SessionKey("chromium", true)

	leases.EXPECT().Acquire(gomock.Any(), "chromium", true, key).
		Return(lease.Lease{Endpoint: "http://127.0.0.1:9222", Port: 9222, SessionKey: key}, nil)

	ctx := testContext(t)
	h, err := m.Acquire(ctx, NewRequest())
	require.NoError(t, err)
	assert.Equal(t, SourceLease, h.Source())
	assert.Equal(t, KeepBrowserAlive, h.Mode())
	assert.Equal(t, "http://127.0.0.1:9222", h.Endpoints().CDP)

	d, err := m.Repository().Load()
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "http://127.0.0.1:9222", d.CDPEndpoint)
	assert.Equal(t, key, d.SessionKey)
	assert.Equal(t, testHash, d.DriverHash)
	assert.Equal(t, os.Getpid(), d.PID)

	require.NoError(t, h.Close(ctx))
	assert.Empty(t, launcher.seen("close"), "a leased browser is never closed")
}

func TestAcquireFallsBackWhenLeaseFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	leases := leasemock.NewMockSource(ctrl)
	launcher := newFakeLauncher(t, pwtest.WithPage)
	m := newTestManager(t, launcher, WithLeaseSource(leases))

	leases.EXPECT().Acquire(gomock.Any(), "chromium", true, gomock.Any()).Return(lease.Lease{}, lease.ErrNoBrowser)

	h, err := m.Acquire(testContext(t), NewRequest())
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, h.Source())
}

func TestAcquireReleasesUnusableLease(t *testing.T) {
	ctrl := gomock.NewController(t)
	leases := leasemock.NewMockSource(ctrl)
	launcher := newFakeLauncher(t, func(d *pwtest.Driver) {
		pwtest.WithPage(d)
		d.Handle("connectOverCDP", func(*pwtest.Driver, pwtest.Request) (any, error) {
			return nil, pwtest.RemoteFailure{Name: "Error", Message: "connect ECONNREFUSED"}
		})
	})
	m := newTestManager(t, launcher, WithLeaseSource(leases))

	gomock.InOrder(
		leases.EXPECT().Acquire(gomock.Any(), "chromium", true, gomock.Any()).
			Return(lease.Lease{Endpoint: "http://127.0.0.1:9222"}, nil),
		leases.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil),
	)

	h, err := m.Acquire(testContext(t), NewRequest())
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, h.Source())
}

// withServer answers launchServer with a firefox browser server.
func withServer(d *pwtest.Driver) {
	pwtest.WithPage(d)
	d.Handle("launchServer", func(d *pwtest.Driver, req pwtest.Request) (any, error) {
		d.Create(req.GUID, "Browser", "browser@srv", map[string]any{"name": "firefox"})
		return map[string]any{"wsEndpoint": "ws://127.0.0.1:5000/srv", "browser": pwtest.Ref("browser@srv")}, nil
	})
}

func TestAcquireSkipsLeaseForExplicitPaths(t *testing.T) {
	ctrl := gomock.NewController(t)
	leases := leasemock.NewMockSource(ctrl)
	launcher := newFakeLauncher(t, withServer)
	m := newTestManager(t, launcher, WithLeaseSource(leases))
	ctx := testContext(t)

	h, err := m.Acquire(ctx, NewRequest().WithBrowser(Firefox).WithLaunchServer(true))
	require.NoError(t, err)
	assert.Equal(t, SourceServer, h.Source())
	assert.Equal(t, KeepBrowserAlive, h.Mode())
	assert.Equal(t, "ws://127.0.0.1:5000/srv", h.Endpoints().WS)
	assert.Equal(t, "browser-type@firefox", launcher.seen("launchServer")[0].GUID)

	d, err := m.Repository().Load()
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "ws://127.0.0.1:5000/srv", d.WSEndpoint)
	assert.Equal(t, Firefox, d.Browser)

	// The server outlives the invocation that launched it.
	require.NoError(t, h.Close(ctx))
	closes := launcher.seen("close")
	require.Len(t, closes, 1)
	assert.Equal(t, "browser-context@1", closes[0].GUID)
}

func TestShutdownServerStopsLaunchedServer(t *testing.T) {
	launcher := newFakeLauncher(t, withServer)
	m := newTestManager(t, launcher)
	ctx := testContext(t)

	h, err := m.Acquire(ctx, NewRequest().WithBrowser(Firefox).WithLaunchServer(true))
	require.NoError(t, err)
	require.Equal(t, SourceServer, h.Source())

	require.NoError(t, h.Shutdown(ctx, ShutdownServer))
	closes := launcher.seen("close")
	require.Len(t, closes, 2)
	assert.Equal(t, "browser-context@1", closes[0].GUID)
	assert.Equal(t, "browser@srv", closes[1].GUID)

	require.NoError(t, h.Close(ctx))
	assert.Len(t, launcher.seen("close"), 2)
}

func TestAcquireReconnectsToRecordedServer(t *testing.T) {
	launcher := newFakeLauncher(t, pwtest.WithPage)
	m := newTestManager(t, launcher)
	d := liveDescriptor(m.Repository(), "")
	d.WSEndpoint = "ws://127.0.0.1:5000/srv"
	saveDescriptor(t, m.Repository(), d)

	h, err := m.Acquire(testContext(t), NewRequest())
	require.NoError(t, err)
	assert.Equal(t, SourceDescriptor, h.Source())
	assert.Equal(t, []string{"ws://127.0.0.1:5000/srv"}, launcher.servers)
	assert.Empty(t, launcher.seen("connectOverCDP"))
}

func TestAcquireReusesRequestedRecordedEndpoint(t *testing.T) {
	launcher := newFakeLauncher(t, withCDP("https://app.test/"))
	m := newTestManager(t, launcher)
	d := liveDescriptor(m.Repository(), "http://127.0.0.1:9555")
	d.WSEndpoint = "ws://127.0.0.1:5000/srv"
	saveDescriptor(t, m.Repository(), d)

	h, err := m.Acquire(testContext(t), NewRequest().WithEndpoint("ws://127.0.0.1:5000/srv"))
	require.NoError(t, err)
	assert.Equal(t, SourceDescriptor, h.Source())
	assert.Equal(t, []string{"ws://127.0.0.1:5000/srv"}, launcher.servers)
	assert.Empty(t, launcher.seen("connectOverCDP"))
}

func TestAcquireRejectsEndpointForFirefoxWithoutLaunching(t *testing.T) {
	launcher := newFakeLauncher(t, pwtest.WithPage)
	m := newTestManager(t, launcher)

	_, err := m.Acquire(testContext(t), NewRequest().WithBrowser(Firefox).WithEndpoint("ws://127.0.0.1:9222"))
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.ErrCodeSessionAcquisition))
	assert.Zero(t, launcher.launches())
}

func TestAcquireSurfacesUnknownDescriptorSchema(t *testing.T) {
	launcher := newFakeLauncher(t, pwtest.WithPage)
	m := newTestManager(t, launcher)
	path := m.Repository().Path()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion":99}`), 0o600))

	_, err := m.Acquire(testContext(t), NewRequest())
	assert.True(t, perrors.IsCode(err, perrors.ErrCodeDescriptorSchema))
	assert.Zero(t, launcher.launches())
}

func TestAcquireRefreshDeletesDescriptorFirst(t *testing.T) {
	launcher := newFakeLauncher(t, pwtest.WithPage)
	m := newTestManager(t, launcher, WithRefresh(true))
	saveDescriptor(t, m.Repository(), liveDescriptor(m.Repository(), "http://127.0.0.1:9555"))

	_, err := m.Acquire(testContext(t), NewRequest().WithAuthFile(filepath.Join(t.TempDir(), "missing.json")))
	assert.True(t, perrors.IsCode(err, perrors.ErrCodeAuthLoad))
	_, statErr := os.Stat(m.Repository().Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquireDiscardsStaleDescriptor(t *testing.T) {
	launcher := newFakeLauncher(t, func(d *pwtest.Driver) {
		pwtest.WithPage(d)
		d.Handle("connectOverCDP", func(*pwtest.Driver, pwtest.Request) (any, error) {
			return nil, pwtest.RemoteFailure{Name: "Error", Message: "connect ECONNREFUSED 127.0.0.1:9555"}
		})
	})
	m := newTestManager(t, launcher)
	saveDescriptor(t, m.Repository(), liveDescriptor(m.Repository(), "http://127.0.0.1:9555"))

	h, err := m.Acquire(testContext(t), NewRequest())
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, h.Source())
	_, statErr := os.Stat(m.Repository().Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquireIgnoresForeignDescriptor(t *testing.T) {
	launcher := newFakeLauncher(t, pwtest.WithPage)
	m := newTestManager(t, launcher)
	d := liveDescriptor(m.Repository(), "http://127.0.0.1:9555")
	d.Namespace = "someone-else"
	saveDescriptor(t, m.Repository(), d)

	h, err := m.Acquire(testContext(t), NewRequest())
	require.NoError(t, err)
	assert.Equal(t, SourceFresh, h.Source())
}

func TestAcquireInjectsProjectAuthOnAttach(t *testing.T) {
	launcher := newFakeLauncher(t, withCDP())
	m := newTestManager(t, launcher)
	authDir := m.Repository().Scope().AuthDir()
	require.NoError(t, os.MkdirAll(authDir, 0o755))
	state := `{"cookies":[{"name":"a","value":"1","domain":".app.test","path":"/"},{"name":"b","value":"2","domain":".app.test","path":"/"}],"origins":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(authDir, "app.json"), []byte(state), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(authDir, "broken.json"), []byte(`{`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(authDir, "notes.txt"), []byte(`ignored`), 0o600))

	h, err := m.Acquire(testContext(t), NewRequest().WithEndpoint("http://127.0.0.1:9222"))
	require.NoError(t, err)
	assert.Equal(t, SourceAttach, h.Source())
	assert.Equal(t, AuthReport{FilesSeen: 2, FilesLoaded: 1, CookiesAdded: 2}, h.AuthReport())

	adds := launcher.seen("addCookies")
	require.Len(t, adds, 1)
	assert.Equal(t, "browser-context@default", adds[0].GUID)
	assert.Len(t, adds[0].Decode(t)["cookies"], 2)
}

func TestAcquireWithAuthFileSkipsInjection(t *testing.T) {
	launcher := newFakeLauncher(t, withCDP("https://app.test/"))
	m := newTestManager(t, launcher)
	authDir := m.Repository().Scope().AuthDir()
	require.NoError(t, os.MkdirAll(authDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(authDir, "app.json"), []byte(`{"cookies":[{"name":"a","value":"1"}]}`), 0o600))
	authFile := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, os.WriteFile(authFile, []byte(`{"cookies":[{"name":"s","value":"t","domain":".app.test","path":"/"}]}`), 0o600))

	h, err := m.Acquire(testContext(t), NewRequest().WithEndpoint("http://127.0.0.1:9222").WithAuthFile(authFile))
	require.NoError(t, err)
	assert.Empty(t, launcher.seen("addCookies"))
	assert.Equal(t, "browser-context@1", h.Context().GUID(), "a storage state needs its own context")

	params := launcher.seen("newContext")[0].Decode(t)
	require.Contains(t, params, "storageState")
}

func TestAcquirePersistentDebug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(CDPVersion{Browser: "Chrome/121", WebSocketDebuggerURL: "ws://127.0.0.1/devtools/browser/x"})
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	launcher := newFakeLauncher(t, pwtest.WithPage)
	m := newTestManager(t, launcher, WithHTTPClient(srv.Client()))
	ctx := testContext(t)

	h, err := m.Acquire(ctx, NewRequest().WithDebugPort(port).WithKeepBrowserRunning(true))
	require.NoError(t, err)
	assert.Equal(t, SourcePersistent, h.Source())
	assert.Equal(t, KeepBrowserAlive, h.Mode())
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", port), h.Endpoints().CDP)

	params := launcher.seen("launch")[0].Decode(t)
	assert.Equal(t, []any{"--remote-debugging-port=" + u.Port()}, params["args"])
	assert.Equal(t, false, params["handleSIGINT"])

	d, err := m.Repository().Load()
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, h.Endpoints().CDP, d.CDPEndpoint)

	require.NoError(t, h.Close(ctx))
	closes := launcher.seen("close")
	require.Len(t, closes, 1)
	assert.Equal(t, "browser-context@1", closes[0].GUID, "the browser stays up")
}

func TestHandleNavigateIfNeeded(t *testing.T) {
	launcher := newFakeLauncher(t, func(d *pwtest.Driver) {
		pwtest.WithPage(d)
		d.Handle("evaluateExpression", func(*pwtest.Driver, pwtest.Request) (any, error) {
			return map[string]any{"value": map[string]any{"s": "https://app.test/"}}, nil
		})
		d.Handle("goto", func(*pwtest.Driver, pwtest.Request) (any, error) {
			return map[string]any{}, nil
		})
	})
	m := newTestManager(t, launcher)
	ctx := testContext(t)
	h, err := m.Acquire(ctx, NewRequest().WithWaitUntil("networkidle"))
	require.NoError(t, err)

	navigated, err := h.NavigateIfNeeded(ctx, "https://app.test")
	require.NoError(t, err)
	assert.False(t, navigated)
	assert.Empty(t, launcher.seen("goto"))

	navigated, err = h.NavigateIfNeeded(ctx, "https://app.test/orders")
	require.NoError(t, err)
	assert.True(t, navigated)
	gotos := launcher.seen("goto")
	require.Len(t, gotos, 1)
	params := gotos[0].Decode(t)
	assert.Equal(t, "https://app.test/orders", params["url"])
	assert.Equal(t, "networkidle", params["waitUntil"])
}
