// Package lease talks to the browser coordinator: a long-lived service that
// owns a pool of debuggable browsers and hands out CDP endpoints bound to a
// session key.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when no coordinator is reachable or configured.
var ErrUnavailable = errors.New("lease: coordinator unavailable")

// ErrNoBrowser is returned when the pool has no free browser for the request.
var ErrNoBrowser = errors.New("lease: no free browser")

// Lease is a browser endpoint reserved for one session key.
type Lease struct {
	Endpoint   string `json:"cdp_endpoint"`
	Port       int    `json:"port"`
	SessionKey string `json:"session_key,omitempty"`
}

// BrowserInfo describes one pooled browser.
type BrowserInfo struct {
	Port       int    `json:"port"`
	Endpoint   string `json:"cdp_endpoint"`
	Browser    string `json:"browser"`
	Headless   bool   `json:"headless"`
	CreatedAt  int64  `json:"created_at"`
	SessionKey string `json:"session_key,omitempty"`
	LastUsedAt int64  `json:"last_used_at"`
}

//go:generate mockgen -package=leasemock -destination=leasemock/source.go github.com/odvcencio/playwire/pkg/lease Source

// Source is a coordinator client.
type Source interface {
	// Acquire returns the browser bound to sessionKey, binding a free one if
	// none is.
	Acquire(ctx context.Context, browser string, headless bool, sessionKey string) (Lease, error)
	// Release unbinds sessionKey and returns its browser to the pool.
	Release(ctx context.Context, sessionKey string) error
	List(ctx context.Context) ([]BrowserInfo, error)
	Kill(ctx context.Context, port int) error
	Shutdown(ctx context.Context) error
	Ping(ctx context.Context) (bool, error)
	Close() error
}

// Disabled is the Source used when coordination is turned off.
type Disabled struct{}

func (Disabled) Acquire(context.Context, string, bool, string) (Lease, error) {
	return Lease{}, ErrUnavailable
}
func (Disabled) Release(context.Context, string) error       { return ErrUnavailable }
func (Disabled) List(context.Context) ([]BrowserInfo, error) { return nil, ErrUnavailable }
func (Disabled) Kill(context.Context, int) error             { return ErrUnavailable }
func (Disabled) Shutdown(context.Context) error              { return ErrUnavailable }
func (Disabled) Ping(context.Context) (bool, error)          { return false, nil }
func (Disabled) Close() error                                { return nil }

func nowUnix() int64 { return time.Now().Unix() }
