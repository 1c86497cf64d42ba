package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/playwire/pkg/config"
	perrors "github.com/odvcencio/playwire/pkg/errors"
	"github.com/odvcencio/playwire/pkg/lease"
	"github.com/odvcencio/playwire/pkg/pw"
	"github.com/odvcencio/playwire/pkg/pw/pwtest"
	"github.com/odvcencio/playwire/pkg/session"
)

func stubConfig(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	prev := loadConfigFn
	t.Cleanup(func() { loadConfigFn = prev })
	loadConfigFn = func() (*config.Config, error) {
		cfg := config.DefaultConfig()
		if mutate != nil {
			mutate(cfg)
		}
		return cfg, cfg.Validate()
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("boom"), exitFailure},
		{withExitCode(errors.New("usage"), exitUsage), exitUsage},
		{perrors.New(perrors.ErrCodeConfigInvalid, "bad"), exitConfig},
		{fmt.Errorf("wrapped: %w", perrors.New(perrors.ErrCodeSessionAcquisition, "no")), exitAcquisition},
		{perrors.New(perrors.ErrCodeDescriptorSchema, "schema"), exitAcquisition},
		{exitError{err: errors.New("zero code")}, exitFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCodeForError(tt.err), "%v", tt.err)
	}
}

func TestStringListValue(t *testing.T) {
	var got []string
	v := &stringListValue{target: &got}
	require.NoError(t, v.Set("admin, billing"))
	require.NoError(t, v.Set("settings"))
	assert.Equal(t, []string{"admin", "billing", "settings"}, got)
	assert.Equal(t, "admin,billing,settings", v.String())
	assert.Error(t, (&stringListValue{}).Set("x"))
}

func TestDispatchUsageErrors(t *testing.T) {
	stubConfig(t, nil)

	code, _, stderr := runCLI(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Usage: playwire")

	code, _, stderr = runCLI(t, "teleport")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `unknown command "teleport"`)

	code, _, _ = runCLI(t, "open")
	assert.Equal(t, exitUsage, code)

	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.NotEmpty(t, stdout)
}

func TestConfigErrorExitCode(t *testing.T) {
	stubConfig(t, func(c *config.Config) { c.Coordinator.Backend = "etcd" })
	code, _, stderr := runCLI(t, "session", "status")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "CONFIG_INVALID")
}

func TestSessionStatusAndClear(t *testing.T) {
	stubConfig(t, nil)
	dir := t.TempDir()

	code, stdout, stderr := runCLI(t, "session", "status", "--workspace", dir, "--namespace", "cli")
	require.Equal(t, exitOK, code, stderr)
	var st session.Status
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.False(t, st.Active)
	assert.Equal(t, "cli", st.Namespace)
	assert.Equal(t, "no session descriptor", st.Reason)

	code, stdout, stderr = runCLI(t, "session", "clear", "--workspace", dir, "--namespace", "cli")
	require.Equal(t, exitOK, code, stderr)
	var report session.ClearReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.False(t, report.Removed)
	assert.Equal(t, st.Path, report.Path)

	code, _, _ = runCLI(t, "session", "purge", "--workspace", dir)
	assert.Equal(t, exitUsage, code)
}

func TestCoordinatorRequiresBackend(t *testing.T) {
	stubConfig(t, nil)
	code, _, stderr := runCLI(t, "coordinator", "list")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "no coordinator backend")
}

// scriptedLauncher serves every launch from a fresh pwtest driver.
type scriptedLauncher struct {
	t     *testing.T
	setup func(*pwtest.Driver)
}

func (l scriptedLauncher) Launch(ctx context.Context) (*pw.Playwright, error) {
	d, client := pwtest.New(l.t)
	l.setup(d)
	go d.Serve()
	return pw.Connect(ctx, client, pw.Options{})
}

func (l scriptedLauncher) ConnectServer(context.Context, session.BrowserKind, string) (*pw.Browser, *pw.Playwright, error) {
	return nil, nil, errors.New("not scripted")
}

func TestOpenPrintsTitle(t *testing.T) {
	stubConfig(t, nil)
	prev := managerFactory
	t.Cleanup(func() { managerFactory = prev })
	managerFactory = func(a *app, repo *session.Repository, leases lease.Source, refresh bool) *session.Manager {
		launcher := scriptedLauncher{t: t, setup: func(d *pwtest.Driver) {
			pwtest.WithPage(d)
			d.Handle("evaluateExpression", func(*pwtest.Driver, pwtest.Request) (any, error) {
				return map[string]any{"value": map[string]any{"s": "about:blank"}}, nil
			})
			d.Handle("title", func(*pwtest.Driver, pwtest.Request) (any, error) {
				return map[string]any{"value": "Example Domain"}, nil
			})
		}}
		return session.NewManager(repo, launcher, session.WithLeaseSource(leases), session.WithRefresh(refresh))
	}

	code, stdout, stderr := runCLI(t, "open", "--workspace", t.TempDir(), "--no-coordinator", "https://example.test/")
	require.Equal(t, exitOK, code, stderr)

	var res openResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "Example Domain", res.Title)
	assert.Equal(t, string(session.SourceFresh), res.Source)
	assert.Equal(t, session.CloseAll.String(), res.Mode)
	assert.True(t, res.Navigated)
	assert.NotEmpty(t, res.SessionID)
}

func TestOpenRejectsUnknownBrowser(t *testing.T) {
	stubConfig(t, nil)
	code, _, stderr := runCLI(t, "open", "--browser", "netscape", "https://example.test/")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "unknown browser")
}
