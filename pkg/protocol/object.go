package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Object is a client-side handle for one remote object. Concrete kinds embed
// *Base; the unexported method keeps the set closed to this module.
type Object interface {
	GUID() string
	Type() string
	Initializer() json.RawMessage
	Parent() Object
	Children() []Object
	Channel() *Channel
	Disposed() bool
	// HandleEvent receives every non-reserved event addressed to this GUID.
	HandleEvent(method string, params json.RawMessage)

	base() *Base
}

// DisposeReason distinguishes server-side garbage collection from closing.
type DisposeReason string

const (
	DisposeClosed    DisposeReason = "closed"
	DisposeCollected DisposeReason = "gc"
)

// EventHandler observes one event method on one object.
type EventHandler func(params json.RawMessage)

// Base holds the state shared by every remote object: identity, the tree
// links and the RPC stub. The parent link is set once at creation and only
// used for lookup. Owned children are the only strong references, and
// ownership can move with __adopt__ while the parent link stays put.
type Base struct {
	guid        string
	typeName    string
	initializer json.RawMessage
	parent      Object
	conn        *Connection
	channel     *Channel

	mu        sync.Mutex
	owner     Object
	children  map[string]Object
	order     []string
	disposed  bool
	collected bool
	listeners map[string][]EventHandler
}

// NewBase builds the shared state for a new object created under parent.
func NewBase(conn *Connection, parent Object, typeName, guid string, initializer json.RawMessage) *Base {
	if len(initializer) == 0 {
		initializer = emptyObject
	}
	b := &Base{
		guid:        guid,
		typeName:    typeName,
		initializer: initializer,
		parent:      parent,
		owner:       parent,
		conn:        conn,
		children:    make(map[string]Object),
	}
	b.channel = &Channel{owner: b}
	return b
}

func (b *Base) base() *Base { return b }

func (b *Base) GUID() string                 { return b.guid }
func (b *Base) Type() string                 { return b.typeName }
func (b *Base) Initializer() json.RawMessage { return b.initializer }
func (b *Base) Parent() Object               { return b.parent }
func (b *Base) Channel() *Channel            { return b.channel }
func (b *Base) Connection() *Connection      { return b.conn }

// Owner is the object currently holding this one in its child set.
func (b *Base) Owner() Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner
}

// Children returns owned children in creation order.
func (b *Base) Children() []Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Object, 0, len(b.order))
	for _, guid := range b.order {
		if child, ok := b.children[guid]; ok {
			out = append(out, child)
		}
	}
	return out
}

// Disposed reports whether the object has been torn down.
func (b *Base) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

// Collected reports whether the server garbage collected the object.
func (b *Base) Collected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collected
}

// DecodeInitializer unmarshals the creation payload into v.
func (b *Base) DecodeInitializer(v any) error {
	if err := json.Unmarshal(b.initializer, v); err != nil {
		return newProtocolError("initializer", b.guid, "decode "+b.typeName, err)
	}
	return nil
}

// On registers fn for events named method.
func (b *Base) On(method string, fn EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[string][]EventHandler)
	}
	b.listeners[method] = append(b.listeners[method], fn)
}

// HandleEvent fans the event out to listeners. Kinds that track state
// override it and call back into Base.
func (b *Base) HandleEvent(method string, params json.RawMessage) {
	b.mu.Lock()
	handlers := append([]EventHandler(nil), b.listeners[method]...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(params)
	}
}

func (b *Base) addChild(child Object) {
	b.mu.Lock()
	defer b.mu.Unlock()
	guid := child.GUID()
	if _, ok := b.children[guid]; !ok {
		b.order = append(b.order, guid)
	}
	b.children[guid] = child
}

func (b *Base) removeChild(guid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.children[guid]; !ok {
		return
	}
	delete(b.children, guid)
	for i, g := range b.order {
		if g == guid {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// adopt moves child from its current owner to owner.
func adopt(owner, child Object) {
	cb := child.base()
	cb.mu.Lock()
	prev := cb.owner
	cb.owner = owner
	cb.mu.Unlock()
	if prev != nil && prev != owner {
		prev.base().removeChild(child.GUID())
	}
	owner.base().addChild(child)
}

// dispose tears the subtree down from this node: detach from the owner,
// dispose owned children, then unregister this GUID.
func (b *Base) dispose(reason DisposeReason) {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	if reason == DisposeCollected {
		b.collected = true
	}
	owner := b.owner
	children := make([]Object, 0, len(b.order))
	for _, guid := range b.order {
		if child, ok := b.children[guid]; ok {
			children = append(children, child)
		}
	}
	b.mu.Unlock()

	if owner != nil {
		owner.base().removeChild(b.guid)
	}
	for _, child := range children {
		child.base().dispose(reason)
	}
	b.mu.Lock()
	b.children = make(map[string]Object)
	b.order = nil
	b.mu.Unlock()
	if b.conn != nil {
		b.conn.registry.Remove(b.guid)
	}
}

// Dispose tears down obj and everything it owns.
func Dispose(obj Object, reason DisposeReason) {
	if obj == nil {
		return
	}
	obj.base().dispose(reason)
}

// Channel is the RPC stub bound to one GUID.
type Channel struct {
	owner *Base
}

// GUID returns the address of this stub.
func (c *Channel) GUID() string { return c.owner.guid }

// Send issues method on this object and returns the raw result.
func (c *Channel) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.owner.Disposed() {
		return nil, fmt.Errorf("%s.%s on %s: %w", c.owner.typeName, method, c.owner.guid, ErrTargetClosed)
	}
	if c.owner.conn == nil {
		return nil, ErrChannelClosed
	}
	return c.owner.conn.Send(ctx, c.owner.guid, method, params)
}

// Call issues method and decodes the result into out, which may be nil.
func (c *Channel) Call(ctx context.Context, method string, params, out any) error {
	raw, err := c.Send(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newProtocolError(method, c.owner.guid, "decode result", err)
	}
	return nil
}

// Root is the synthetic object at GUID "" that parents the top of the tree.
type Root struct {
	*Base
}

func newRoot(conn *Connection) *Root {
	return &Root{Base: NewBase(conn, nil, "Root", "", nil)}
}
