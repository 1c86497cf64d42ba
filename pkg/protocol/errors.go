package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrChannelClosed   = errors.New("connection closed")
	ErrTargetClosed    = errors.New("target closed")
	ErrTimeout         = errors.New("timeout")
	ErrDuplicateGUID   = errors.New("guid already registered")
	ErrRemovedGUID     = errors.New("guid was removed")
	// ErrEmptyFrame marks a zero-length pipe frame. The stream stays in sync.
	ErrEmptyFrame      = errors.New("empty frame")
)

// RemoteError is an exception reported by the driver. The remote name is kept
// so callers can branch on it.
type RemoteError struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Message
}

// IsTimeout reports whether the driver classified the failure as a timeout.
func (e *RemoteError) IsTimeout() bool {
	return e.Name == "TimeoutError"
}

// IsTargetClosed reports whether the remote target went away mid-call.
func (e *RemoteError) IsTargetClosed() bool {
	return e.Name == "TargetClosedError"
}

// TimeoutError is a local deadline: either a call that got no response or a
// registry wait that never saw its object.
type TimeoutError struct {
	GUID   string
	Method string
	Err    error
}

func (e *TimeoutError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("Timeout calling %s on %s", e.Method, describeGUID(e.GUID))
	}
	if kind := guidKind(e.GUID); kind != "" {
		return fmt.Sprintf("Timeout waiting for %s object: %s", kind, e.GUID)
	}
	return fmt.Sprintf("Timeout waiting for object: %s", e.GUID)
}

func (e *TimeoutError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTimeout, e.Err}
	}
	return []error{ErrTimeout}
}

// ProtocolError is a malformed or unroutable message. It fails one operation,
// never the connection.
type ProtocolError struct {
	Op      string
	GUID    string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	var sb strings.Builder
	sb.WriteString("protocol error")
	if e.Op != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Op)
	}
	if e.GUID != "" {
		sb.WriteString(" [")
		sb.WriteString(e.GUID)
		sb.WriteString("]")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func newProtocolError(op, guid, message string, err error) *ProtocolError {
	return &ProtocolError{Op: op, GUID: guid, Message: message, Err: err}
}

// IsTimeout reports whether err is a local or remote timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var remote *RemoteError
	return errors.As(err, &remote) && remote.IsTimeout()
}

// IsTargetClosed reports whether err means the addressed object is gone.
func IsTargetClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTargetClosed) {
		return true
	}
	var remote *RemoteError
	return errors.As(err, &remote) && remote.IsTargetClosed()
}

// IsConnectionError reports whether err means the whole connection is unusable.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrChannelClosed) || errors.Is(err, ErrTransportClosed)
}

var guidKinds = []struct {
	prefix string
	kind   string
}{
	// longer prefixes first: "browser-context@" must win over "browser@"
	{"browser-context@", "BrowserContext"},
	{"browser-type@", "BrowserType"},
	{"browser@", "Browser"},
	{"page@", "Page"},
	{"frame@", "Frame"},
	{"response@", "Response"},
	{"request@", "Request"},
	{"playwright@", "Playwright"},
}

// guidKind infers an object category from a GUID prefix. Diagnostics only.
func guidKind(guid string) string {
	for _, k := range guidKinds {
		if strings.HasPrefix(guid, k.prefix) {
			return k.kind
		}
	}
	return ""
}

func describeGUID(guid string) string {
	if guid == "" {
		return "root"
	}
	return guid
}
