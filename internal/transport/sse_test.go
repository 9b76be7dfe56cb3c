package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	err    error
	closed bool
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func errorSink() (ErrorFunc, chan report) {
	ch := make(chan report, 16)
	return func(err error, closed bool) { ch <- report{err: err, closed: closed} }, ch
}

// streamServer writes every string received on frames as raw SSE text and
// ends the response when frames is closed.
func streamServer(t *testing.T, frames <-chan string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					return
				}
				_, _ = io.WriteString(w, f)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func envelopeFrame(kind, props string) string {
	return "event: message\ndata: {\"type\":\"" + kind + "\",\"properties\":" + props + "}\n\n"
}

func TestSSE_DeliversEventsInOrder(t *testing.T) {
	frames := make(chan string, 8)
	srv := streamServer(t, frames)

	tr := NewSSE(SSEConfig{URL: srv.URL, Logger: zerolog.Nop()})
	defer tr.Close()

	var rec recorder
	tr.Subscribe(KindConnect, rec.listen)
	tr.Subscribe("foo", rec.listen)
	onError, errs := errorSink()

	assert.Equal(t, Connecting, tr.ReadyState())
	require.NoError(t, tr.Open(context.Background(), onError))

	frames <- envelopeFrame("server.connected", "{}")
	frames <- ": keepalive comment\n\n"
	frames <- "data: not json\n\n"
	frames <- envelopeFrame("foo", `{"x":1}`)
	frames <- "event: foo\ndata: {\"x\":2}\n\n"

	require.Eventually(t, func() bool { return len(rec.kinds()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{KindConnect, "foo", "foo"}, rec.kinds())
	assert.Equal(t, Open, tr.ReadyState())

	rec.mu.Lock()
	assert.JSONEq(t, `{"x":1}`, string(rec.events[1].Data))
	assert.JSONEq(t, `{"x":2}`, string(rec.events[2].Data))
	assert.False(t, rec.events[1].ReceivedAt.IsZero())
	rec.mu.Unlock()

	assert.Empty(t, errs)
}

func TestSSE_ErrorEventIsTransient(t *testing.T) {
	frames := make(chan string, 4)
	srv := streamServer(t, frames)

	tr := NewSSE(SSEConfig{URL: srv.URL, Logger: zerolog.Nop()})
	defer tr.Close()
	onError, errs := errorSink()
	require.NoError(t, tr.Open(context.Background(), onError))

	frames <- "event: error\ndata: overloaded\n\n"

	select {
	case r := <-errs:
		assert.False(t, r.closed)
		assert.Contains(t, r.err.Error(), "overloaded")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transient error")
	}
	assert.NotEqual(t, Closed, tr.ReadyState())
}

func TestSSE_StreamEndIsTerminal(t *testing.T) {
	frames := make(chan string, 1)
	srv := streamServer(t, frames)

	tr := NewSSE(SSEConfig{URL: srv.URL, Logger: zerolog.Nop()})
	defer tr.Close()
	onError, errs := errorSink()
	require.NoError(t, tr.Open(context.Background(), onError))

	close(frames)

	select {
	case r := <-errs:
		assert.True(t, r.closed)
		assert.ErrorIs(t, r.err, ErrStreamEnded)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminal error")
	}
	assert.Equal(t, Closed, tr.ReadyState())
}

func TestSSE_BadResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusServiceUnavailable)
			},
			wantErr: "unexpected status",
		},
		{
			name: "content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{}`))
			},
			wantErr: "unexpected content type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			tr := NewSSE(SSEConfig{URL: srv.URL, Logger: zerolog.Nop()})
			defer tr.Close()
			onError, errs := errorSink()
			require.NoError(t, tr.Open(context.Background(), onError))

			select {
			case r := <-errs:
				assert.True(t, r.closed)
				assert.Contains(t, r.err.Error(), tt.wantErr)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for error")
			}
		})
	}
}

func TestSSE_SendsHeaders(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		<-r.Context().Done()
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer token")
	tr := NewSSE(SSEConfig{URL: srv.URL, Header: header, Logger: zerolog.Nop()})
	require.NoError(t, tr.Open(context.Background(), nil))

	select {
	case h := <-got:
		assert.Equal(t, "Bearer token", h.Get("Authorization"))
		assert.Equal(t, "text/event-stream", h.Get("Accept"))
	case <-time.After(time.Second):
		t.Fatal("request never arrived")
	}
	require.NoError(t, tr.Close())
}

func TestSSE_CloseStopsDelivery(t *testing.T) {
	frames := make(chan string, 8)
	srv := streamServer(t, frames)

	tr := NewSSE(SSEConfig{URL: srv.URL, Logger: zerolog.Nop()})
	var rec recorder
	tr.Subscribe("foo", rec.listen)
	onError, errs := errorSink()
	require.NoError(t, tr.Open(context.Background(), onError))

	frames <- envelopeFrame("foo", `{}`)
	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, Closed, tr.ReadyState())

	frames <- envelopeFrame("foo", `{}`)
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, rec.kinds(), 1)
	assert.Empty(t, errs, "closing must not report an error")
	assert.ErrorIs(t, tr.Open(context.Background(), onError), ErrClosed)
}

func TestSSE_OpenTwice(t *testing.T) {
	frames := make(chan string)
	srv := streamServer(t, frames)

	tr := NewSSE(SSEConfig{URL: srv.URL, Logger: zerolog.Nop()})
	defer tr.Close()

	require.NoError(t, tr.Open(context.Background(), nil))
	assert.ErrorIs(t, tr.Open(context.Background(), nil), ErrAlreadyOpen)
	assert.NotEmpty(t, tr.ID())
}
