package pw

import (
	"encoding/json"
	"fmt"

	"github.com/odvcencio/playwire/pkg/protocol"
)

// genericTypes are protocol types the driver may create that have no typed
// handle here. They are still tracked in the tree so their children resolve.
var genericTypes = map[string]struct{}{
	"APIRequestContext":   {},
	"Android":             {},
	"AndroidDevice":       {},
	"AndroidSocket":       {},
	"BindingCall":         {},
	"BrowserServer":       {},
	"CDPSession":          {},
	"ConsoleMessage":      {},
	"Electron":            {},
	"ElectronApplication": {},
	"EventTarget":         {},
	"JSHandle":            {},
	"JsonPipe":            {},
	"LocalUtils":          {},
	"Root":                {},
	"Selectors":           {},
	"SocketSupport":       {},
	"Stream":              {},
	"WebSocket":           {},
	"WebSocketRoute":      {},
	"Worker":              {},
	"WritableStream":      {},
}

// Factory builds typed handles for creation events.
var Factory protocol.Factory = protocol.FactoryFunc(createObject)

func createObject(conn *protocol.Connection, parent protocol.Object, typeName, guid string, initializer json.RawMessage) (protocol.Object, error) {
	base := protocol.NewBase(conn, parent, typeName, guid, initializer)

	switch typeName {
	case "Playwright":
		return newPlaywright(base)
	case "BrowserType":
		return newBrowserType(base)
	case "Browser":
		return newBrowser(base)
	case "BrowserContext":
		return newBrowserContext(base)
	case "Page":
		return newPage(base)
	case "Frame":
		return newFrame(base)
	case "Request":
		return newRequest(base)
	case "Response":
		return newResponse(base)
	case "Route":
		return &Route{Base: base}, nil
	case "ElementHandle":
		return &ElementHandle{Base: base}, nil
	case "Artifact":
		return newArtifact(base)
	case "Dialog":
		if _, ok := parent.(*Page); !ok && parent != nil && parent.Type() != "BrowserContext" {
			return nil, &protocol.ProtocolError{Op: protocol.MethodCreate, GUID: guid, Message: "Dialog must be created under a Page or BrowserContext"}
		}
		return newDialog(base)
	case "Tracing":
		return &Tracing{Base: base}, nil
	case "Video":
		if _, ok := parent.(*Page); !ok {
			return nil, &protocol.ProtocolError{Op: protocol.MethodCreate, GUID: guid, Message: "Video must be created under a Page"}
		}
		return &Video{Base: base}, nil
	}

	if _, ok := genericTypes[typeName]; ok {
		return &Remote{Base: base}, nil
	}
	return nil, &protocol.ProtocolError{
		Op:      protocol.MethodCreate,
		GUID:    guid,
		Message: fmt.Sprintf("unknown object type %q", typeName),
	}
}
