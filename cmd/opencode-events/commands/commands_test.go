package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/eventstream/internal/config"
	"github.com/opencode-ai/eventstream/internal/server"
	"github.com/opencode-ai/eventstream/internal/transport"
)

func TestKindFilter(t *testing.T) {
	all, err := newKindFilter(nil)
	require.NoError(t, err)
	assert.True(t, all.Match("anything.at.all"))

	f, err := newKindFilter([]string{"session.*", "message.**"})
	require.NoError(t, err)

	tests := []struct {
		kind string
		want bool
	}{
		{"session.updated", true},
		{"session", false},
		{"message.part.updated", true},
		{"file.edited", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Match(tt.kind), tt.kind)
	}

	_, err = newKindFilter([]string{"session.["})
	assert.Error(t, err)
}

func TestPrinterWritesLines(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, 8)

	p.Print(outputLine{Type: "foo", Properties: json.RawMessage(`{"x":1}`)})
	p.Print(outputLine{Type: "bar", Properties: json.RawMessage(`{}`), Recent: true})
	p.Close()
	p.Print(outputLine{Type: "after-close"})

	var lines []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}

	require.Len(t, lines, 2)
	assert.Equal(t, "foo", lines[0]["type"])
	assert.Equal(t, map[string]any{"x": float64(1)}, lines[0]["properties"])
	assert.NotContains(t, lines[0], "receivedAt")
	assert.NotContains(t, lines[0], "recent")
	assert.Equal(t, true, lines[1]["recent"])
}

type blockingWriter struct {
	release chan struct{}
	buf     bytes.Buffer
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	return w.buf.Write(p)
}

func TestPrinterDropsWhenFull(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	p := newPrinter(w, 1)

	for i := 0; i < 5; i++ {
		p.Print(outputLine{Type: "foo"})
	}
	// At most one line is being written and one is queued.
	assert.GreaterOrEqual(t, p.Dropped(), 3)

	close(w.release)
	p.Close()
}

func TestPublish(t *testing.T) {
	srv := server.New(server.DefaultConfig())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	cfg := config.Default()
	cfg.URL = ts.URL + "/"

	resp, err := publish(context.Background(), cfg, transport.Envelope{
		Type:       "session.updated",
		Properties: json.RawMessage(`{"id":"s1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "session.updated", resp.Type)

	recent := srv.Bus().Recent(1)
	require.Len(t, recent, 1)
	assert.JSONEq(t, `{"id":"s1"}`, string(recent[0].Properties))

	_, err = publish(context.Background(), cfg, transport.Envelope{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type is required")
}
