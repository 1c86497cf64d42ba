package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/playwire/pkg/observability"
)

// InitializeTimeout caps the initialize handshake.
const InitializeTimeout = 30 * time.Second

// Factory turns a creation event into a typed object. It must recognize every
// type name it accepts and return an error for anything else.
type Factory interface {
	Create(conn *Connection, parent Object, typeName, guid string, initializer json.RawMessage) (Object, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(conn *Connection, parent Object, typeName, guid string, initializer json.RawMessage) (Object, error)

func (f FactoryFunc) Create(conn *Connection, parent Object, typeName, guid string, initializer json.RawMessage) (Object, error) {
	return f(conn, parent, typeName, guid, initializer)
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Connection correlates requests with responses over one Transport and routes
// events into the object tree.
type Connection struct {
	transport Transport
	factory   Factory
	registry  *Registry
	root      *Root
	logger    *observability.Logger

	lastID atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan callResult
	closed   bool
	closeErr error

	runOnce sync.Once
	started atomic.Bool
	done    chan struct{}
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the connection logger.
func WithLogger(logger *observability.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConnection binds a transport and factory. Call Run to start dispatching.
func NewConnection(transport Transport, factory Factory, opts ...Option) *Connection {
	c := &Connection{
		transport: transport,
		factory:   factory,
		registry:  NewRegistry(),
		logger:    observability.Nop(),
		pending:   make(map[uint64]chan callResult),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.root = newRoot(c)
	return c
}

// Registry exposes the connection-scoped object registry.
func (c *Connection) Registry() *Registry { return c.registry }

// Root returns the synthetic root object.
func (c *Connection) Root() *Root { return c.root }

// Done is closed once the dispatch loop has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection closed, or nil while it is open.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Start runs the dispatch loop in the background.
func (c *Connection) Start(ctx context.Context) {
	go func() {
		if err := c.Run(ctx); err != nil {
			c.logger.Warn("connection closed with error", slog.String("error", err.Error()))
		}
	}()
}

// Run is the dispatch loop. It returns when the transport closes or ctx is
// done, after failing every pending request. It runs at most once.
func (c *Connection) Run(ctx context.Context) error {
	var runErr error
	ran := false
	c.runOnce.Do(func() {
		ran = true
		c.started.Store(true)
		runErr = c.run(ctx)
	})
	if !ran {
		return errors.New("connection already running")
	}
	return runErr
}

func (c *Connection) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			data, err := c.transport.Receive(gctx)
			if errors.Is(err, ErrEmptyFrame) {
				c.logger.Warn("malformed frame", slog.String("error", err.Error()))
				continue
			}
			if err != nil {
				return err
			}
			c.dispatch(data)
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("transport close", slog.String("error", err.Error()))
		}
		return nil
	})

	err := g.Wait()
	c.shutdown(err)
	close(c.done)

	if errors.Is(err, ErrTransportClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close closes the transport and waits for the dispatch loop to drain.
func (c *Connection) Close() error {
	err := c.transport.Close()
	if !c.started.Load() {
		c.shutdown(ErrTransportClosed)
		return err
	}
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}
	return err
}

// shutdown fails every pending call and disposes the tree.
func (c *Connection) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if cause == nil || errors.Is(cause, ErrTransportClosed) || errors.Is(cause, context.Canceled) {
		c.closeErr = ErrChannelClosed
	} else {
		c.closeErr = fmt.Errorf("%w: %w", ErrChannelClosed, cause)
	}
	pending := c.pending
	c.pending = make(map[uint64]chan callResult)
	closeErr := c.closeErr
	c.mu.Unlock()

	for _, slot := range pending {
		slot <- callResult{err: closeErr}
	}
	observability.ProtocolPending.Sub(float64(len(pending)))

	for _, child := range c.root.Children() {
		Dispose(child, DisposeClosed)
	}
}

// Send issues a request and waits for its response. If ctx ends first the
// pending entry is dropped and a late response is ignored.
func (c *Connection) Send(ctx context.Context, guid, method string, params any) (json.RawMessage, error) {
	ctx, span := observability.StartSpan(ctx, "protocol.send",
		observability.AttrGUID.String(guid),
		observability.AttrMethod.String(method),
	)
	start := time.Now()
	result, err := c.send(ctx, guid, method, params)
	observability.EndSpan(span, err)
	observability.ProtocolLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	observability.ProtocolRequests.WithLabelValues(method, outcome(err)).Inc()
	return result, err
}

func (c *Connection) send(ctx context.Context, guid, method string, params any) (json.RawMessage, error) {
	id := c.lastID.Add(1)
	data, err := encodeRequest(id, guid, method, params, Metadata{})
	if err != nil {
		return nil, err
	}

	slot := make(chan callResult, 1)
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = slot
	c.mu.Unlock()
	observability.ProtocolPending.Inc()
	defer c.forget(id)

	if err := c.transport.Send(ctx, data); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{GUID: guid, Method: method, Err: err}
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case res := <-slot:
		return res.result, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{GUID: guid, Method: method, Err: ctx.Err()}
		}
		return nil, ctx.Err()
	}
}

func (c *Connection) forget(id uint64) {
	c.mu.Lock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		observability.ProtocolPending.Dec()
	}
}

// pendingCount reports outstanding requests.
func (c *Connection) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Initialize performs the handshake and returns the top-level driver object.
func (c *Connection) Initialize(ctx context.Context, sdkLanguage string) (Object, error) {
	ctx, cancel := context.WithTimeout(ctx, InitializeTimeout)
	defer cancel()

	if err := c.registry.Insert("", c.root); err != nil {
		return nil, err
	}
	defer c.registry.Remove("")

	var result struct {
		Playwright GUIDRef `json:"playwright"`
	}
	raw, err := c.Send(ctx, "", "initialize", map[string]any{"sdkLanguage": sdkLanguage})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, newProtocolError("initialize", "", "decode result", err)
	}
	if result.Playwright.GUID == "" {
		return nil, newProtocolError("initialize", "", "result carries no playwright guid", nil)
	}

	// The creation event for this GUID races with the response.
	remaining := InitializeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining = time.Until(deadline)
	}
	return c.registry.WaitFor(ctx, result.Playwright.GUID, remaining)
}

func (c *Connection) lookup(guid string) (Object, bool) {
	if guid == "" {
		return c.root, true
	}
	return c.registry.TryGet(guid)
}

func (c *Connection) dispatch(data []byte) {
	resp, event, err := decodeFrame(data)
	if err != nil {
		observability.ProtocolDropped.WithLabelValues("malformed").Inc()
		c.logger.Warn("malformed frame", slog.String("error", err.Error()))
		return
	}
	if resp != nil {
		c.complete(resp)
		return
	}

	observability.ProtocolEvents.WithLabelValues(event.Method).Inc()
	switch event.Method {
	case MethodCreate:
		if err := c.handleCreate(event); err != nil {
			c.logger.Warn("object creation failed", slog.String("parent", event.GUID), slog.String("error", err.Error()))
		}
	case MethodDispose:
		c.handleDispose(event)
	case MethodAdopt:
		c.handleAdopt(event)
	default:
		obj, ok := c.lookup(event.GUID)
		if !ok {
			observability.ProtocolDropped.WithLabelValues("unknown_guid").Inc()
			c.logger.FrameDropped("unknown guid", event.GUID, event.Method)
			return
		}
		obj.HandleEvent(event.Method, event.Params)
	}
}

func (c *Connection) complete(resp *Response) {
	c.mu.Lock()
	slot, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()
	if !ok {
		observability.ProtocolDropped.WithLabelValues("unknown_id").Inc()
		c.logger.Debug("response for unknown request id", slog.Uint64("id", resp.ID))
		return
	}
	observability.ProtocolPending.Dec()

	if resp.Error != nil {
		slot <- callResult{err: resp.Error}
		return
	}
	slot <- callResult{result: resp.Result}
}

func (c *Connection) handleCreate(event *Event) error {
	var params createParams
	if err := json.Unmarshal(event.Params, &params); err != nil {
		return newProtocolError(MethodCreate, event.GUID, "decode params", err)
	}
	if params.GUID == "" {
		return newProtocolError(MethodCreate, event.GUID, "creation without guid", nil)
	}
	parent, ok := c.lookup(event.GUID)
	if !ok {
		return newProtocolError(MethodCreate, params.GUID, "unknown parent "+event.GUID, nil)
	}
	if c.factory == nil {
		return newProtocolError(MethodCreate, params.GUID, "no object factory", nil)
	}
	obj, err := c.factory.Create(c, parent, params.Type, params.GUID, params.Initializer)
	if err != nil {
		return err
	}
	if err := c.registry.Insert(params.GUID, obj); err != nil {
		return err
	}
	parent.base().addChild(obj)
	return nil
}

func (c *Connection) handleDispose(event *Event) {
	obj, ok := c.registry.TryGet(event.GUID)
	if !ok {
		c.logger.FrameDropped("dispose of unknown guid", event.GUID, event.Method)
		return
	}
	var params disposeParams
	_ = json.Unmarshal(event.Params, &params)
	reason := DisposeClosed
	if params.Reason == string(DisposeCollected) {
		reason = DisposeCollected
	}
	Dispose(obj, reason)
}

func (c *Connection) handleAdopt(event *Event) {
	owner, ok := c.lookup(event.GUID)
	if !ok {
		c.logger.FrameDropped("adopt by unknown guid", event.GUID, event.Method)
		return
	}
	var params adoptParams
	if err := json.Unmarshal(event.Params, &params); err != nil {
		c.logger.Warn("malformed adopt", slog.String("guid", event.GUID), slog.String("error", err.Error()))
		return
	}
	child, ok := c.registry.TryGet(params.GUID)
	if !ok {
		c.logger.FrameDropped("adopt of unknown guid", params.GUID, event.Method)
		return
	}
	adopt(owner, child)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTimeout(err):
		return "timeout"
	case IsConnectionError(err):
		return "closed"
	default:
		var remote *RemoteError
		if errors.As(err, &remote) {
			return "remote_error"
		}
		return "error"
	}
}
