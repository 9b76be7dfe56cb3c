package transport

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sst/opencode-sdk-go/packages/ssestream"
)

// SSEConfig configures a server-sent events transport.
type SSEConfig struct {
	// URL is the event stream endpoint, e.g. http://localhost:4096/event.
	URL string
	// Header is added to the request.
	Header http.Header
	// Client defaults to a client without a timeout; streams are long-lived.
	Client *http.Client
	Logger zerolog.Logger
}

// SSE is a Transport over a text/event-stream response.
type SSE struct {
	conn
	cfg SSEConfig
}

var _ Transport = (*SSE)(nil)

// NewSSE creates an unopened SSE transport.
func NewSSE(cfg SSEConfig) *SSE {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	t := &SSE{cfg: cfg}
	t.init(cfg.Logger, "sse")
	return t
}

// Open issues the stream request in the background.
func (t *SSE) Open(ctx context.Context, onError ErrorFunc) error {
	return t.start(ctx, func(ctx context.Context) {
		t.run(ctx, onError)
	})
}

func (t *SSE) run(ctx context.Context, onError ErrorFunc) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		t.fail(ctx, onError, fmt.Errorf("build request: %w", err))
		return
	}
	for k, vs := range t.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	t.log.Debug().Str("url", t.cfg.URL).Msg("opening event stream")
	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		t.fail(ctx, onError, fmt.Errorf("connect: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.fail(ctx, onError, fmt.Errorf("unexpected status %s", resp.Status))
		return
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		t.fail(ctx, onError, fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
		return
	}

	t.markOpen()
	dec := ssestream.NewDecoder(resp)
	defer dec.Close()

	for dec.Next() {
		evt := dec.Event()
		if evt.Type == "error" {
			t.transient(onError, fmt.Errorf("server error event: %s", strings.TrimSpace(string(evt.Data))))
			continue
		}
		t.deliver(evt.Type, evt.Data)
	}

	err = dec.Err()
	if err == nil || errors.Is(err, http.ErrBodyReadAfterClose) {
		err = ErrStreamEnded
	}
	t.fail(ctx, onError, err)
}
