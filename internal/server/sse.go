package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opencode-ai/eventstream/internal/event"
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	// Use ResponseController for more reliable flushing through middleware wrappers
	rc := http.NewResponseController(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent marshals data and writes it as one SSE event.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.writeRaw(eventType, jsonData)
}

// writeRaw writes an already encoded payload as one SSE event.
func (s *sseWriter) writeRaw(eventType string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}

	if flushErr := s.rc.Flush(); flushErr != nil {
		// Fallback to traditional flusher
		s.flusher.Flush()
	}
	return nil
}

// writeHeartbeat writes a server.heartbeat event.
func (s *sseWriter) writeHeartbeat() error {
	return s.writeEvent("message", controlEnvelope(event.ServerHeartbeat))
}

// streamEvents serves GET /event: server.connected, then every published event and a
// server.heartbeat every HeartbeatInterval until the client goes away.
func (srv *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	ctx, done := srv.openStream(r.Context())
	defer done()

	// Subscribe before announcing the connection so nothing published after
	// server.connected is missed.
	msgs, err := srv.bus.Subscribe(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	log := srv.log.With().
		Str("stream", "sse").
		Str("directory", getDirectory(r.Context())).
		Str("request_id", r.Header.Get("X-Request-ID")).
		Logger()
	log.Debug().Msg("stream opened")
	defer log.Debug().Msg("stream closed")

	if err := sse.writeEvent("message", controlEnvelope(event.ServerConnected)); err != nil {
		return
	}

	ticks, stop := srv.heartbeats()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			err := sse.writeRaw("message", msg.Payload)
			msg.Ack()
			if err != nil {
				log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticks:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
		}
	}
}
