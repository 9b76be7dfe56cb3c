package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL    string
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

// WebSocket is a Transport where every text message is one Envelope frame.
type WebSocket struct {
	conn
	cfg WebSocketConfig
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket creates an unopened WebSocket transport.
func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	t := &WebSocket{cfg: cfg}
	t.init(cfg.Logger, "websocket")
	return t
}

// Open dials in the background.
func (t *WebSocket) Open(ctx context.Context, onError ErrorFunc) error {
	return t.start(ctx, func(ctx context.Context) {
		t.run(ctx, onError)
	})
}

func (t *WebSocket) run(ctx context.Context, onError ErrorFunc) {
	t.log.Debug().Str("url", t.cfg.URL).Msg("dialing websocket")
	ws, resp, err := t.cfg.Dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial: %w (status %s)", err, resp.Status)
		} else {
			err = fmt.Errorf("dial: %w", err)
		}
		t.fail(ctx, onError, err)
		return
	}
	defer ws.Close()

	// ReadMessage does not observe ctx; closing the socket unblocks it.
	if !t.setCloser(func() { _ = ws.Close() }) {
		return
	}
	t.markOpen()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("%w: %v", ErrStreamEnded, err)
			}
			t.fail(ctx, onError, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		t.deliver("", data)
	}
}
