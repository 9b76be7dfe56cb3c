// Package server provides a development event server speaking the opencode event
// protocol.
//
// It exists to drive the event client end to end: it can be told to drop every stream
// or to stop sending heartbeats, which are the two failure modes the client recovers
// from.
//
// # API Endpoints
//
//   - GET /event: SSE stream. Every frame is "event: message" with an envelope
//     {"type": ..., "properties": {...}} as data. The first frame is server.connected;
//     server.heartbeat follows every HeartbeatInterval.
//   - GET /event/ws: the same envelopes as WebSocket text messages.
//   - POST /event: publish an envelope to every open stream.
//   - GET /event/recent?limit=N: the most recent published envelopes, oldest first.
//   - POST /event/disconnect: end every open stream; the server keeps running.
//   - GET /health: status and open stream count.
//
// All routes accept a directory query parameter, which is attached to stream logs.
//
// # Usage
//
//	srv := server.New(server.DefaultConfig())
//	go srv.Start()
//	defer srv.Shutdown(ctx)
//
//	srv.Publish("session.updated", map[string]any{"id": "s1"})
//
// In tests, serve Router() from an httptest.Server instead of calling Start.
package server
