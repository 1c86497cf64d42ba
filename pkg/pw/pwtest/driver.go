// Package pwtest provides a scripted in-memory driver for tests of code
// built on package pw.
package pwtest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/odvcencio/playwire/pkg/protocol"
)

// Request is an inbound call as the driver sees it.
type Request struct {
	ID     uint64          `json:"id"`
	GUID   string          `json:"guid"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Decode unmarshals the request params into a generic map.
func (r Request) Decode(t testing.TB) map[string]any {
	t.Helper()
	var params map[string]any
	if err := json.Unmarshal(r.Params, &params); err != nil {
		t.Fatalf("pwtest: decode %s params: %v", r.Method, err)
	}
	return params
}

// RemoteFailure makes a handler answer with a driver-side exception.
type RemoteFailure struct {
	Name    string
	Message string
}

func (f RemoteFailure) Error() string { return f.Message }

// HandlerFunc answers one method. Creation events written before returning
// reach the client ahead of the response.
type HandlerFunc func(d *Driver, req Request) (any, error)

// Driver answers requests from per-method handlers. Methods without a
// handler get an empty result.
type Driver struct {
	t         testing.TB
	transport *protocol.PipeTransport

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	requests []Request
}

// New wires a driver to an in-memory pipe and returns the client's end.
// The driver advertises chromium and firefox browser types on initialize.
func New(t testing.TB) (*Driver, *protocol.PipeTransport) {
	s2cR, s2cW := io.Pipe()
	c2sR, c2sW := io.Pipe()
	client := protocol.NewPipeTransport(s2cR, c2sW, s2cR)
	server := protocol.NewPipeTransport(c2sR, s2cW, c2sR)

	d := &Driver{t: t, transport: server, handlers: map[string]HandlerFunc{}}
	d.Handle("initialize", func(d *Driver, _ Request) (any, error) {
		d.Create("", "BrowserType", "browser-type@chromium", map[string]any{"name": "chromium", "executablePath": "/opt/chromium"})
		d.Create("", "BrowserType", "browser-type@firefox", map[string]any{"name": "firefox"})
		d.Create("", "Playwright", "playwright@1", map[string]any{
			"chromium": Ref("browser-type@chromium"),
			"firefox":  Ref("browser-type@firefox"),
		})
		return map[string]any{"playwright": Ref("playwright@1")}, nil
	})
	return d, client
}

// Close hangs up the driver's end of the pipe.
func (d *Driver) Close() error {
	return d.transport.Close()
}

func (d *Driver) Handle(method string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = fn
}

// Seen returns the requests received for method, in arrival order.
func (d *Driver) Seen(method string) []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Request
	for _, req := range d.requests {
		if req.Method == method {
			out = append(out, req)
		}
	}
	return out
}

// Serve answers requests until the pipe closes.
func (d *Driver) Serve() {
	for {
		data, err := d.transport.Receive(context.Background())
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			d.t.Errorf("pwtest: bad request: %v", err)
			return
		}
		d.mu.Lock()
		d.requests = append(d.requests, req)
		fn := d.handlers[req.Method]
		d.mu.Unlock()

		if fn == nil {
			d.Write(map[string]any{"id": req.ID, "result": map[string]any{}})
			continue
		}
		result, err := fn(d, req)
		var failure RemoteFailure
		switch {
		case errors.As(err, &failure):
			d.Write(map[string]any{"id": req.ID, "error": map[string]any{
				"error": map[string]string{"name": failure.Name, "message": failure.Message},
			}})
		case err != nil:
			d.t.Errorf("pwtest: handler %s: %v", req.Method, err)
			return
		default:
			d.Write(map[string]any{"id": req.ID, "result": result})
		}
	}
}

// Write sends one raw frame to the client.
func (d *Driver) Write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		d.t.Errorf("pwtest: marshal: %v", err)
		return
	}
	_ = d.transport.Send(context.Background(), data)
}

func (d *Driver) Create(parent, typeName, guid string, initializer any) {
	d.Write(map[string]any{
		"guid":   parent,
		"method": protocol.MethodCreate,
		"params": map[string]any{"type": typeName, "guid": guid, "initializer": initializer},
	})
}

func (d *Driver) Event(guid, method string, params any) {
	d.Write(map[string]any{"guid": guid, "method": method, "params": params})
}

func (d *Driver) Dispose(guid string) {
	d.Write(map[string]any{"guid": guid, "method": protocol.MethodDispose, "params": map[string]any{}})
}

// Ref is the {"guid": ...} shape used for object references.
func Ref(guid string) map[string]string {
	return map[string]string{"guid": guid}
}

// WithPage registers handlers for a chromium launch that yields one context
// holding one page at about:blank.
func WithPage(d *Driver) {
	d.Handle("launch", func(d *Driver, req Request) (any, error) {
		d.Create(req.GUID, "Browser", "browser@1", map[string]any{"version": "120.0", "name": "chromium"})
		return map[string]any{"browser": Ref("browser@1")}, nil
	})
	d.Handle("newContext", func(d *Driver, req Request) (any, error) {
		d.Create(req.GUID, "BrowserContext", "browser-context@1", map[string]any{})
		return map[string]any{"context": Ref("browser-context@1")}, nil
	})
	d.Handle("newPage", func(d *Driver, req Request) (any, error) {
		d.Create(req.GUID, "Frame", "frame@1", map[string]any{"url": "about:blank", "name": ""})
		d.Create(req.GUID, "Page", "page@1", map[string]any{"mainFrame": Ref("frame@1"), "isClosed": false})
		return map[string]any{"page": Ref("page@1")}, nil
	})
}
