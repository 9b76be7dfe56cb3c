package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opencode-ai/eventstream/internal/transport"
)

// Topic is the gochannel topic every stream subscribes to.
const Topic = "events"

// MetadataType carries the event type on published messages.
const MetadataType = "type"

// DefaultHistory is the number of published events kept for Recent.
const DefaultHistory = 100

// Well-known event types written by the server itself.
const (
	ServerConnected = "server.connected"
	ServerHeartbeat = "server.heartbeat"
)

var ErrClosed = errors.New("event bus closed")

// Bus fans published events out to every subscribed stream and keeps a bounded history.
//
// Publish blocks until every subscriber has acknowledged the message, so all streams
// observe events in publish order.
type Bus struct {
	pubsub *gochannel.GoChannel

	// publishMu serializes Publish so history order matches delivery order.
	publishMu sync.Mutex

	mu      sync.RWMutex
	history []transport.Envelope
	limit   int
	closed  bool
}

// NewBus creates a bus remembering the last limit events. limit <= 0 uses DefaultHistory.
func NewBus(limit int) *Bus {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            16,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
		limit: limit,
	}
}

// NewEnvelope builds an envelope with props marshalled as its properties.
func NewEnvelope(kind string, props any) (transport.Envelope, error) {
	env := transport.Envelope{Type: kind}
	if props == nil {
		return env, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return env, fmt.Errorf("marshal %s properties: %w", kind, err)
	}
	env.Properties = data
	return env, nil
}

// Publish delivers env to every current subscriber and records it in the history.
func (b *Bus) Publish(env transport.Envelope) error {
	if env.Type == "" {
		return errors.New("event type is required")
	}
	if len(env.Properties) == 0 || string(env.Properties) == "null" {
		env.Properties = json.RawMessage("{}")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.history = append(b.history, env)
	if over := len(b.history) - b.limit; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
	b.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataType, env.Type)
	return b.pubsub.Publish(Topic, msg)
}

// Subscribe returns the message channel for one stream. Each message payload is an
// encoded Envelope and must be acked once written. The channel closes when ctx ends.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return b.pubsub.Subscribe(ctx, Topic)
}

// Recent returns up to n of the most recent events, oldest first. n <= 0 returns the
// whole history.
func (b *Bus) Recent(n int) []transport.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if n > 0 && n < len(b.history) {
		start = len(b.history) - n
	}
	out := make([]transport.Envelope, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

// Close closes all subscriptions. Publishing afterwards returns ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.pubsub.Close()
}
