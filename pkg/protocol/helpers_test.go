package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testObject struct {
	*Base

	mu     sync.Mutex
	events []string
}

func (o *testObject) HandleEvent(method string, params json.RawMessage) {
	o.mu.Lock()
	o.events = append(o.events, method)
	o.mu.Unlock()
	o.Base.HandleEvent(method, params)
}

func (o *testObject) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

var testFactory = FactoryFunc(func(conn *Connection, parent Object, typeName, guid string, init json.RawMessage) (Object, error) {
	switch typeName {
	case "Playwright", "Browser", "Page", "Frame":
		return &testObject{Base: NewBase(conn, parent, typeName, guid, init)}, nil
	default:
		return nil, &ProtocolError{Op: MethodCreate, GUID: guid, Message: fmt.Sprintf("unknown type %q", typeName)}
	}
})

// pipePair returns a client transport and the driver-side transport talking
// to it.
func pipePair() (*PipeTransport, *PipeTransport) {
	s2cR, s2cW := io.Pipe()
	c2sR, c2sW := io.Pipe()
	client := NewPipeTransport(s2cR, c2sW, s2cR)
	server := NewPipeTransport(c2sR, s2cW, c2sR)
	return client, server
}

type fakeDriver struct {
	t         *testing.T
	transport *PipeTransport
}

func (d *fakeDriver) readRequest() Request {
	d.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := d.transport.Receive(ctx)
	require.NoError(d.t, err)
	var req Request
	require.NoError(d.t, json.Unmarshal(data, &req))
	return req
}

func (d *fakeDriver) write(v any) {
	d.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(d.t, err)
	require.NoError(d.t, d.transport.Send(context.Background(), data))
}

func (d *fakeDriver) respond(id uint64, result any) {
	d.write(map[string]any{"id": id, "result": result})
}

func (d *fakeDriver) create(parent, typeName, guid string, initializer any) {
	d.write(map[string]any{
		"guid":   parent,
		"method": MethodCreate,
		"params": map[string]any{"type": typeName, "guid": guid, "initializer": initializer},
	})
}

func (d *fakeDriver) event(guid, method string, params any) {
	d.write(map[string]any{"guid": guid, "method": method, "params": params})
}

// startConnection wires a running connection to a fake driver.
func startConnection(t *testing.T) (*Connection, *fakeDriver) {
	t.Helper()
	client, server := pipePair()
	conn := NewConnection(client, testFactory)
	ctx, cancel := context.WithCancel(context.Background())
	conn.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = server.Close()
		<-conn.Done()
	})
	return conn, &fakeDriver{t: t, transport: server}
}

func waitForObject(t *testing.T, conn *Connection, guid string) Object {
	t.Helper()
	obj, err := conn.Registry().WaitFor(context.Background(), guid, 2*time.Second)
	require.NoError(t, err)
	return obj
}

func jsonUnmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func uintString(v uint64) string { return fmt.Sprintf("%d", v) }
