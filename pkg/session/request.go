package session

import (
	"github.com/odvcencio/playwire/pkg/pw"
)

// Request describes one acquisition attempt. The With methods return
// modified copies; a Request is never mutated once built.
type Request struct {
	WaitUntil          pw.WaitUntil
	Headless           bool
	AuthFile           string
	Browser            BrowserKind
	Endpoint           string
	LaunchServer       bool
	DebugPort          int
	KeepBrowserRunning bool
	ProtectedURLs      []string
	PreferredURL       string
}

// NewRequest returns the defaults: headless chromium waiting for load.
func NewRequest() Request {
	return Request{
		WaitUntil: pw.WaitLoad,
		Headless:  true,
		Browser:   Chromium,
	}
}

func (r Request) WithWaitUntil(w pw.WaitUntil) Request {
	r.WaitUntil = w
	return r
}

func (r Request) WithHeadless(headless bool) Request {
	r.Headless = headless
	return r
}

// WithAuthFile sets a storage state file applied to the session's context.
func (r Request) WithAuthFile(path string) Request {
	r.AuthFile = path
	return r
}

func (r Request) WithBrowser(kind BrowserKind) Request {
	r.Browser = kind
	return r
}

// WithEndpoint requests attaching to a running browser's CDP or websocket
// endpoint.
func (r Request) WithEndpoint(endpoint string) Request {
	r.Endpoint = endpoint
	return r
}

func (r Request) WithLaunchServer(launch bool) Request {
	r.LaunchServer = launch
	return r
}

// WithDebugPort launches with the remote debugging port held open so later
// invocations can attach.
func (r Request) WithDebugPort(port int) Request {
	r.DebugPort = port
	return r
}

func (r Request) WithKeepBrowserRunning(keep bool) Request {
	r.KeepBrowserRunning = keep
	return r
}

// WithProtectedURLs excludes pages whose URL contains any pattern from
// reuse when attaching.
func (r Request) WithProtectedURLs(patterns ...string) Request {
	r.ProtectedURLs = append([]string(nil), patterns...)
	return r
}

func (r Request) WithPreferredURL(url string) Request {
	r.PreferredURL = url
	return r
}

// StrategyInput is everything the strategy choice depends on.
type StrategyInput struct {
	Request Request
	// Descriptor is a recorded session already checked for scope, match and
	// liveness; nil when none is reusable.
	Descriptor *Descriptor
	// LeaseEndpoint is set when the coordinator granted a browser.
	LeaseEndpoint string
}

// Strategy is the chosen acquisition path.
type Strategy struct {
	Source   Source
	Endpoint string
	Mode     ShutdownMode
}

// ResolveStrategy applies the acquisition guards in order; the first match
// wins. It fails only when the request itself cannot be satisfied.
func ResolveStrategy(in StrategyInput) (Strategy, error) {
	req := in.Request
	if d := in.Descriptor; d != nil {
		if endpoint := d.EndpointFor(req.Endpoint); endpoint != "" {
			return strategy(SourceDescriptor, endpoint, req), nil
		}
	}
	if in.LeaseEndpoint != "" {
		return strategy(SourceLease, in.LeaseEndpoint, req), nil
	}
	if req.Endpoint != "" {
		if !req.Browser.SupportsAttach() {
			return Strategy{}, acquisitionError(req, "attaching to an endpoint requires chromium, got %s", req.Browser)
		}
		return strategy(SourceAttach, req.Endpoint, req), nil
	}
	if req.DebugPort != 0 {
		if !req.Browser.SupportsAttach() {
			return Strategy{}, acquisitionError(req, "a remote debugging port requires chromium, got %s", req.Browser)
		}
		if req.DebugPort < 0 || req.DebugPort > 65535 {
			return Strategy{}, acquisitionError(req, "invalid remote debugging port %d", req.DebugPort)
		}
		return strategy(SourcePersistent, "", req), nil
	}
	if req.LaunchServer {
		return strategy(SourceServer, "", req), nil
	}
	return strategy(SourceFresh, "", req), nil
}

func strategy(src Source, endpoint string, req Request) Strategy {
	return Strategy{Source: src, Endpoint: endpoint, Mode: src.shutdownMode(req.KeepBrowserRunning)}
}

// wantsLease reports whether the coordinator should be asked for a browser.
func (r Request) wantsLease() bool {
	return r.Endpoint == "" && r.DebugPort == 0 && !r.LaunchServer && r.Browser == Chromium
}
