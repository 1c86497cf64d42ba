package pw

import (
	"context"
	"fmt"
	"time"

	"github.com/odvcencio/playwire/pkg/protocol"
)

// resolveTimeout bounds the wait for an object named in a response to appear
// in the registry.
const resolveTimeout = time.Second

// resolve waits for guid and checks its concrete kind.
func resolve[T protocol.Object](ctx context.Context, conn *protocol.Connection, guid string) (T, error) {
	var zero T
	if conn == nil {
		return zero, protocol.ErrChannelClosed
	}
	obj, err := conn.Registry().WaitFor(ctx, guid, resolveTimeout)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, &protocol.ProtocolError{
			Op:      "resolve",
			GUID:    guid,
			Message: fmt.Sprintf("expected %T, got %s", zero, obj.Type()),
		}
	}
	return typed, nil
}

// childrenOf collects the live owned children of obj with kind T.
func childrenOf[T protocol.Object](obj protocol.Object) []T {
	var out []T
	for _, child := range obj.Children() {
		if typed, ok := child.(T); ok && !child.Disposed() {
			out = append(out, typed)
		}
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}

// Remote is a tracked object kind without a typed API.
type Remote struct {
	*protocol.Base
}

// Route is an intercepted network request.
type Route struct {
	*protocol.Base
}

// Continue lets the routed request proceed unchanged.
func (r *Route) Continue(ctx context.Context) error {
	return r.Channel().Call(ctx, "continue", map[string]any{"isFallback": false}, nil)
}

// Abort fails the routed request with errorCode (e.g. "failed", "aborted").
func (r *Route) Abort(ctx context.Context, errorCode string) error {
	if errorCode == "" {
		errorCode = "failed"
	}
	return r.Channel().Call(ctx, "abort", map[string]any{"errorCode": errorCode}, nil)
}

// ElementHandle references a DOM node.
type ElementHandle struct {
	*protocol.Base
}

// Tracing controls trace recording for a context.
type Tracing struct {
	*protocol.Base
}

// Video is the recording attached to a page.
type Video struct {
	*protocol.Base
}

// Artifact is a file produced by the driver (downloads, traces, videos).
type Artifact struct {
	*protocol.Base
	init struct {
		AbsolutePath string `json:"absolutePath"`
	}
}

func newArtifact(base *protocol.Base) (*Artifact, error) {
	a := &Artifact{Base: base}
	if err := base.DecodeInitializer(&a.init); err != nil {
		return nil, err
	}
	return a, nil
}

// Path is where the driver keeps the artifact.
func (a *Artifact) Path() string { return a.init.AbsolutePath }

// SaveAs copies the artifact to path on the driver host.
func (a *Artifact) SaveAs(ctx context.Context, path string) error {
	return a.Channel().Call(ctx, "saveAs", map[string]string{"path": path}, nil)
}

// Dialog is a JavaScript alert, confirm, prompt or beforeunload dialog.
type Dialog struct {
	*protocol.Base
	init struct {
		Type         string `json:"type"`
		Message      string `json:"message"`
		DefaultValue string `json:"defaultValue"`
	}
}

func newDialog(base *protocol.Base) (*Dialog, error) {
	d := &Dialog{Base: base}
	if err := base.DecodeInitializer(&d.init); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dialog) Kind() string    { return d.init.Type }
func (d *Dialog) Message() string { return d.init.Message }

// Accept accepts the dialog, answering prompts with promptText.
func (d *Dialog) Accept(ctx context.Context, promptText string) error {
	return d.Channel().Call(ctx, "accept", map[string]string{"promptText": promptText}, nil)
}

// Dismiss dismisses the dialog.
func (d *Dialog) Dismiss(ctx context.Context) error {
	return d.Channel().Call(ctx, "dismiss", nil, nil)
}
