// Package bus carries request/reply traffic between session processes and
// the lease coordinator. NATS is the production transport; MemoryBus serves
// tests and single-process setups.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when no reply arrives in time.
	ErrTimeout = errors.New("bus: request timeout")

	// ErrNoResponders is returned when nothing is subscribed to the subject.
	ErrNoResponders = errors.New("bus: no responders")

	// ErrClosed is returned when operating on a closed bus.
	ErrClosed = errors.New("bus: closed")
)

// MessageBus is safe for concurrent use.
type MessageBus interface {
	// Publish is fire-and-forget.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe delivers matching messages to handler, one at a time per
	// subscription. "*" matches one token, ">" the remainder.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request publishes data and waits for the first reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	Close() error
}

// MessageHandler returns reply data, or nil for no reply.
type MessageHandler func(msg *Message) []byte

// Message is a delivered message. ReplyTo is set on requests.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string
}

// Subscription can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config configures NewNATSBus.
type Config struct {
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig points at a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://127.0.0.1:4222",
		Name:    "playwire",
		Timeout: 5 * time.Second,
	}
}
