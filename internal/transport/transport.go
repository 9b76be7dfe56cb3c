// Package transport owns a single push-event connection to the server.
//
// A Transport opens one underlying stream, decodes frames into events and routes them to
// subscribers by kind. It knows nothing about reconnection: failures are reported through
// the ErrorFunc given to Open and the caller decides what to do next.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Control event kinds consumed by the supervisor.
const (
	KindConnect   = "connect"
	KindHeartbeat = "heartbeat"
)

// AnyKind subscribes to every non-control event.
const AnyKind = "*"

// Sentinel errors.
var (
	ErrAlreadyOpen    = errors.New("transport already opened")
	ErrClosed         = errors.New("transport closed")
	ErrStreamEnded    = errors.New("event stream ended")
	ErrMalformedFrame = errors.New("malformed event frame")
)

// Event is a decoded push event.
type Event struct {
	Kind       string          `json:"type"`
	Data       json.RawMessage `json:"properties,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

// Listener receives events of the kind it was subscribed to.
type Listener func(Event)

// ErrorFunc reports a transport failure. closed is true when the underlying connection
// is gone for good; false means a transient error the connection may recover from.
type ErrorFunc func(err error, closed bool)

// ReadyState is the lifecycle state of a transport.
type ReadyState int32

const (
	Connecting ReadyState = iota
	Open
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is one push-event connection.
type Transport interface {
	// Open starts connecting in the background and returns immediately.
	// A transport can be opened once.
	Open(ctx context.Context, onError ErrorFunc) error
	// Subscribe attaches fn to kind and returns a function detaching exactly that listener.
	Subscribe(kind string, fn Listener) (unsubscribe func())
	// Close releases the connection. It is idempotent, and once it returns no
	// listener is invoked again.
	Close() error
	ReadyState() ReadyState
}

// IsControl reports whether kind is reserved for the supervisor.
func IsControl(kind string) bool {
	return kind == KindConnect || kind == KindHeartbeat
}
