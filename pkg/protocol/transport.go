package protocol

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport moves self-delimited messages in both directions. It has no
// protocol knowledge. Receive returns ErrTransportClosed once the peer is gone.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// maxFrameSize bounds a single pipe frame.
const maxFrameSize = 512 << 20

// PipeTransport frames messages with a 4-byte little-endian length prefix, the
// format the driver speaks on stdio.
type PipeTransport struct {
	r       *bufio.Reader
	w       io.Writer
	closers []io.Closer

	writeMu   sync.Mutex
	readMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewPipeTransport wraps a reader (driver stdout) and writer (driver stdin).
// Extra closers are closed along with the transport.
func NewPipeTransport(r io.Reader, w io.Writer, closers ...io.Closer) *PipeTransport {
	return &PipeTransport{
		r:       bufio.NewReaderSize(r, 64<<10),
		w:       w,
		closers: closers,
		closed:  make(chan struct{}),
	}
}

func (t *PipeTransport) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	if len(msg) > maxFrameSize {
		return fmt.Errorf("message too large: %d bytes", len(msg))
	}

	frame := make([]byte, 4+len(msg))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(msg)))
	copy(frame[4:], msg)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(frame); err != nil {
		if isClosedErr(err) {
			return ErrTransportClosed
		}
		return fmt.Errorf("pipe write: %w", err)
	}
	return nil
}

func (t *PipeTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.readMu.Lock()
	defer t.readMu.Unlock()

	var lenBuf [4]byte
	if _, err := io.ReadFull(t.r, lenBuf[:]); err != nil {
		if isClosedErr(err) {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("pipe read: %w", err)
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, newProtocolError("read", "", "zero-length frame", ErrEmptyFrame)
	}
	if length > maxFrameSize {
		return nil, newProtocolError("read", "", fmt.Sprintf("frame of %d bytes exceeds limit", length), nil)
	}
	data := make([]byte, int(length))
	if _, err := io.ReadFull(t.r, data); err != nil {
		if isClosedErr(err) {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("pipe read: %w", err)
	}
	return data, nil
}

func (t *PipeTransport) Close() error {
	var firstErr error
	t.closeOnce.Do(func() {
		close(t.closed)
		if c, ok := t.w.(io.Closer); ok {
			if err := c.Close(); err != nil && !isClosedErr(err) {
				firstErr = err
			}
		}
		for _, c := range t.closers {
			if err := c.Close(); err != nil && firstErr == nil && !isClosedErr(err) {
				firstErr = err
			}
		}
	})
	return firstErr
}

// WebSocketTransport carries one JSON document per text frame.
type WebSocketTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// DialWebSocket connects to a driver server websocket endpoint.
func DialWebSocket(ctx context.Context, url string, headers map[string]string) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
		ReadBufferSize:   64 << 10,
		WriteBufferSize:  64 << 10,
	}
	var h map[string][]string
	if len(headers) > 0 {
		h = make(map[string][]string, len(headers))
		for k, v := range headers {
			h[k] = []string{v}
		}
	}
	conn, resp, err := dialer.DialContext(ctx, url, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &WebSocketTransport{conn: conn}, nil
}

// NewWebSocketTransport wraps an established connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

func (t *WebSocketTransport) Send(ctx context.Context, msg []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("websocket deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || isClosedErr(err) {
			return ErrTransportClosed
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || isClosedErr(err) {
				return nil, ErrTransportClosed
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}
