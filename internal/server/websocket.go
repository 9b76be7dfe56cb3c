package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencode-ai/eventstream/internal/event"
)

const writeWait = 10 * time.Second

// streamWebSocket serves GET /event/ws: the /event stream with one envelope per text
// message.
func (srv *Server) streamWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx, done := srv.openStream(r.Context())
	defer done()

	msgs, err := srv.bus.Subscribe(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}

	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		srv.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := srv.log.With().
		Str("stream", "websocket").
		Str("directory", getDirectory(r.Context())).
		Logger()
	log.Debug().Msg("stream opened")
	defer log.Debug().Msg("stream closed")

	// Reads only process control frames; the client never sends events.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	writeControl := func(kind string) error {
		data, err := json.Marshal(controlEnvelope(kind))
		if err != nil {
			return err
		}
		return write(data)
	}

	if err := writeControl(event.ServerConnected); err != nil {
		return
	}

	ticks, stop := srv.heartbeats()
	defer stop()

	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			err := write(msg.Payload)
			msg.Ack()
			if err != nil {
				log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticks:
			if err := writeControl(event.ServerHeartbeat); err != nil {
				return
			}
		}
	}
}
