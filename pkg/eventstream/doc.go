// Package eventstream is a resilient client for the opencode push-event stream.
//
// A Client keeps exactly one stream open, over SSE or WebSocket, and fans events out
// to listeners registered by kind. Listeners are registered once and survive every
// reconnect: the client holds them in a registry and rebinds them to each new
// connection when the server announces it with its connect event.
//
// # Liveness
//
// The server sends a heartbeat every HeartbeatInterval. If none arrives for
// HeartbeatTimeout the connection is torn down and reopened, even when the underlying
// transport still reports it open. Timers stall while a process is suspended, so call
// Foreground after resuming to check immediately.
//
// A closed stream is reopened after ReconnectDelay. At most one reconnect is ever
// pending.
//
// # Usage
//
//	client, err := eventstream.New(eventstream.Config{URL: "http://127.0.0.1:4096"},
//	    eventstream.WithResync(reloadSessions))
//	if err != nil {
//	    return err
//	}
//
//	eventstream.On(client, "session.updated", func(s Session) {
//	    ...
//	})
//	client.WatchConnectionState(func(s eventstream.State) {
//	    log.Printf("event stream %s", s)
//	})
//
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Stop()
//
// # Delivery
//
// Events of one kind reach listeners in arrival order, each listener in registration
// order. Events sent while disconnected are lost; WithResync is the hook for
// refetching state after every (re)connect.
package eventstream
