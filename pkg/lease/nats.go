package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odvcencio/playwire/pkg/bus"
	"github.com/odvcencio/playwire/pkg/observability"
)

// DefaultSubjectPrefix roots the coordinator subjects.
const DefaultSubjectPrefix = "playwire.lease"

// NATSConfig configures NewNATSSource.
type NATSConfig struct {
	Bus     bus.Config    `yaml:",inline"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"request_timeout"`
}

// NATSSource reaches a coordinator by request/reply on
// <subject>.acquire|release|list|kill|shutdown|ping.
type NATSSource struct {
	bus     bus.MessageBus
	subject string
	timeout time.Duration
	owned   bool
}

// NewNATSSource dials NATS and returns a source owning the connection.
func NewNATSSource(cfg NATSConfig) (*NATSSource, error) {
	b, err := bus.NewNATSBus(cfg.Bus)
	if err != nil {
		return nil, err
	}
	s := NewBusSource(b, cfg.Subject, cfg.Timeout)
	s.owned = true
	return s, nil
}

// NewBusSource uses an existing bus, which the caller keeps ownership of.
func NewBusSource(b bus.MessageBus, subject string, timeout time.Duration) *NATSSource {
	if subject == "" {
		subject = DefaultSubjectPrefix
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSSource{bus: b, subject: subject, timeout: timeout}
}

func (s *NATSSource) call(ctx context.Context, req request) (response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}
	reply, err := s.bus.Request(ctx, s.subject+"."+req.Type, data, s.timeout)
	if err != nil {
		observe("nats", req.Type, err)
		if errors.Is(err, bus.ErrNoResponders) || errors.Is(err, bus.ErrTimeout) {
			return response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return response{}, err
	}
	resp, err := decodeResponse(reply)
	observe("nats", req.Type, err)
	return resp, err
}

func (s *NATSSource) Acquire(ctx context.Context, browser string, headless bool, sessionKey string) (Lease, error) {
	resp, err := s.call(ctx, request{Type: opAcquire, Browser: browser, Headless: headless, SessionKey: sessionKey})
	if err != nil {
		return Lease{}, err
	}
	if resp.Type != respBrowser || resp.Endpoint == "" {
		return Lease{}, fmt.Errorf("lease acquire: unexpected reply %q", resp.Type)
	}
	return Lease{Endpoint: resp.Endpoint, Port: resp.Port, SessionKey: sessionKey}, nil
}

func (s *NATSSource) Release(ctx context.Context, sessionKey string) error {
	_, err := s.call(ctx, request{Type: opRelease, SessionKey: sessionKey})
	return err
}

func (s *NATSSource) List(ctx context.Context) ([]BrowserInfo, error) {
	resp, err := s.call(ctx, request{Type: opList})
	if err != nil {
		return nil, err
	}
	return resp.List, nil
}

func (s *NATSSource) Kill(ctx context.Context, port int) error {
	_, err := s.call(ctx, request{Type: opKill, Port: port})
	return err
}

func (s *NATSSource) Shutdown(ctx context.Context) error {
	_, err := s.call(ctx, request{Type: opShutdown})
	return err
}

// Ping reports false, without error, when nothing answers.
func (s *NATSSource) Ping(ctx context.Context) (bool, error) {
	resp, err := s.call(ctx, request{Type: opPing})
	if errors.Is(err, ErrUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Type == respPong, nil
}

func (s *NATSSource) Close() error {
	if s.owned {
		return s.bus.Close()
	}
	return nil
}

// Serve answers coordinator requests on subject.* from backend until ctx is
// done. onShutdown runs after a shutdown request has been acknowledged.
func Serve(ctx context.Context, b bus.MessageBus, subject string, backend Source, logger *observability.Logger, onShutdown func()) error {
	if subject == "" {
		subject = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = observability.Nop()
	}
	sub, err := b.Subscribe(ctx, subject+".*", func(msg *bus.Message) []byte {
		var req request
		var resp response
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			resp = errorResponse(fmt.Errorf("bad request: %w", err))
		} else {
			resp = dispatch(ctx, backend, req)
		}
		if resp.Type == respError {
			logger.Debug("coordinator request failed", slog.String("type", req.Type), slog.String("error", resp.Message))
		}
		data, _ := json.Marshal(resp)
		if req.Type == opShutdown && resp.Type == respOK && onShutdown != nil {
			defer onShutdown()
		}
		return data
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func dispatch(ctx context.Context, backend Source, req request) response {
	switch req.Type {
	case opPing:
		return response{Type: respPong}
	case opAcquire:
		l, err := backend.Acquire(ctx, req.Browser, req.Headless, req.SessionKey)
		if err != nil {
			return errorResponse(err)
		}
		return response{Type: respBrowser, Endpoint: l.Endpoint, Port: l.Port}
	case opRelease:
		if err := backend.Release(ctx, req.SessionKey); err != nil {
			return errorResponse(err)
		}
	case opList:
		list, err := backend.List(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return response{Type: respBrowsers, List: list}
	case opKill:
		if err := backend.Kill(ctx, req.Port); err != nil {
			return errorResponse(err)
		}
	case opShutdown:
		if err := backend.Shutdown(ctx); err != nil {
			return errorResponse(err)
		}
	default:
		return errorResponse(fmt.Errorf("unknown request type %q", req.Type))
	}
	return response{Type: respOK}
}
