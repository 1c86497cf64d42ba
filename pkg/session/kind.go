// Package session decides how each invocation obtains a browser: reuse a
// recorded session, lease one from the coordinator, attach to an endpoint,
// or launch one. It persists a descriptor so later invocations can attach
// instead of relaunching.
package session

import (
	"fmt"
	"strings"
)

// BrowserKind is the browser engine a session runs on.
type BrowserKind string

const (
	Chromium BrowserKind = "chromium"
	Firefox  BrowserKind = "firefox"
	Webkit   BrowserKind = "webkit"
)

// ParseBrowserKind accepts the engine names case-insensitively. Empty means
// chromium.
func ParseBrowserKind(s string) (BrowserKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chromium", "chrome":
		return Chromium, nil
	case "firefox":
		return Firefox, nil
	case "webkit":
		return Webkit, nil
	default:
		return "", fmt.Errorf("unknown browser %q (expected chromium, firefox or webkit)", s)
	}
}

func (k BrowserKind) String() string { return string(k) }

// SupportsAttach reports whether the engine can be attached to over an
// external debugging endpoint.
func (k BrowserKind) SupportsAttach() bool { return k == Chromium }

func (k BrowserKind) MarshalText() ([]byte, error) {
	return []byte(k), nil
}

func (k *BrowserKind) UnmarshalText(text []byte) error {
	parsed, err := ParseBrowserKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ShutdownMode is what Handle.Close tears down. It is fixed when the
// session is acquired.
type ShutdownMode int

const (
	// CloseAll closes the browser and everything under it.
	CloseAll ShutdownMode = iota
	// KeepBrowserAlive closes nothing remote and only drops the connection.
	KeepBrowserAlive
	// CloseSessionOnly closes the session's context, then its browser,
	// leaving a detached driver alone.
	CloseSessionOnly
	// ShutdownServer stops a launched browser server. No source fixes it at
	// acquisition; callers pass it to Handle.Shutdown explicitly.
	ShutdownServer
)

func (m ShutdownMode) String() string {
	switch m {
	case CloseAll:
		return "close-all"
	case KeepBrowserAlive:
		return "keep-browser-alive"
	case CloseSessionOnly:
		return "close-session-only"
	case ShutdownServer:
		return "shutdown-server"
	default:
		return fmt.Sprintf("ShutdownMode(%d)", int(m))
	}
}

// Source names the path that produced a session.
type Source string

const (
	SourceDescriptor Source = "cached-descriptor"
	SourceLease      Source = "lease"
	SourceAttach     Source = "cdp-connect"
	SourcePersistent Source = "persistent-debug"
	SourceServer     Source = "browser-server"
	SourceFresh      Source = "fresh"
)

// attached reports whether the source connects to a browser this process
// did not build, so context construction never applied credentials.
func (s Source) attached() bool {
	switch s {
	case SourceDescriptor, SourceLease, SourceAttach:
		return true
	}
	return false
}

// shutdownMode is the mode a source fixes at acquisition.
func (s Source) shutdownMode(keepBrowserRunning bool) ShutdownMode {
	switch s {
	case SourceDescriptor, SourceLease, SourceAttach, SourceServer:
		return KeepBrowserAlive
	case SourcePersistent:
		if keepBrowserRunning {
			return KeepBrowserAlive
		}
		return CloseSessionOnly
	default:
		return CloseAll
	}
}
