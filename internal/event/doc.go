// Package event is the dev server's event bus.
//
// Published events are fanned out through a watermill gochannel to every connected
// stream. The gochannel is configured with BlockPublishUntilSubscriberAck, and streams
// ack a message only after writing it, so Publish returns once every stream has the
// event and each stream sees events in publish order.
//
// The bus also keeps the last N events. Clients fetch them from /event/recent to
// resynchronize after a reconnect, since the stream itself has no replay.
//
// # Usage
//
//	bus := event.NewBus(event.DefaultHistory)
//	defer bus.Close()
//
//	msgs, err := bus.Subscribe(ctx)
//	...
//	for msg := range msgs {
//	    write(msg.Payload)
//	    msg.Ack()
//	}
//
//	env, _ := event.NewEnvelope("session.updated", map[string]any{"id": "s1"})
//	err = bus.Publish(env)
package event
