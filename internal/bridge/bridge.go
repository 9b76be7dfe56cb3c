// Package bridge republishes stream events onto a watermill Publisher, so consumers can
// use watermill routers and middleware instead of raw listeners.
package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/eventstream/internal/logging"
	"github.com/opencode-ai/eventstream/internal/transport"
)

// TopicPrefix prefixes the topic of every forwarded event.
const TopicPrefix = "events."

// Metadata keys set on forwarded messages.
const (
	MetadataKind       = "kind"
	MetadataReceivedAt = "received_at"
)

// Source registers listeners that survive reconnects.
type Source interface {
	AddEventListener(kind string, fn transport.Listener) (unregister func())
}

// Topic returns the topic events of kind are published on.
func Topic(kind string) string {
	return TopicPrefix + kind
}

// Bridge forwards events until closed.
type Bridge struct {
	pub    message.Publisher
	log    zerolog.Logger
	failed atomic.Uint64

	mu         sync.Mutex
	unregister []func()
}

// Forward publishes every event of the given kinds to pub. With no kinds, every
// non-control event is forwarded.
func Forward(src Source, pub message.Publisher, kinds ...string) *Bridge {
	if len(kinds) == 0 {
		kinds = []string{transport.AnyKind}
	}
	b := &Bridge{
		pub: pub,
		log: logging.Component("bridge"),
	}
	for _, kind := range kinds {
		b.unregister = append(b.unregister, src.AddEventListener(kind, b.publish))
	}
	return b
}

func (b *Bridge) publish(ev transport.Event) {
	msg := message.NewMessage(watermill.NewUUID(), message.Payload(ev.Data))
	msg.Metadata.Set(MetadataKind, ev.Kind)
	if !ev.ReceivedAt.IsZero() {
		msg.Metadata.Set(MetadataReceivedAt, ev.ReceivedAt.Format(time.RFC3339Nano))
	}

	if err := b.pub.Publish(Topic(ev.Kind), msg); err != nil {
		b.failed.Add(1)
		b.log.Warn().Err(err).Str("kind", ev.Kind).Msg("failed to forward event")
	}
}

// Failed returns the number of events the publisher rejected.
func (b *Bridge) Failed() uint64 {
	return b.failed.Load()
}

// Close stops forwarding. It does not close the publisher.
func (b *Bridge) Close() error {
	b.mu.Lock()
	unregister := b.unregister
	b.unregister = nil
	b.mu.Unlock()

	for _, fn := range unregister {
		fn()
	}
	return nil
}
