package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		event    string
		data     string
		wantKind string
		wantData string
		wantOK   bool
		wantErr  bool
	}{
		{
			name:     "envelope",
			data:     `{"type":"foo","properties":{"x":1}}` + "\n",
			wantKind: "foo",
			wantData: `{"x":1}`,
			wantOK:   true,
		},
		{
			name:     "envelope named message",
			event:    "message",
			data:     `{"type":"session.updated","properties":{"id":"s1"}}`,
			wantKind: "session.updated",
			wantData: `{"id":"s1"}`,
			wantOK:   true,
		},
		{
			name:     "server connected alias",
			data:     `{"type":"server.connected","properties":{}}`,
			wantKind: KindConnect,
			wantData: `{}`,
			wantOK:   true,
		},
		{
			name:     "server heartbeat alias without properties",
			data:     `{"type":"server.heartbeat"}`,
			wantKind: KindHeartbeat,
			wantData: `{}`,
			wantOK:   true,
		},
		{
			name:     "named domain event",
			event:    "foo",
			data:     `{"x":1}`,
			wantKind: "foo",
			wantData: `{"x":1}`,
			wantOK:   true,
		},
		{
			name:     "named heartbeat with empty payload",
			event:    "heartbeat",
			wantKind: KindHeartbeat,
			wantData: ``,
			wantOK:   true,
		},
		{
			name:   "empty frame",
			data:   "\n",
			wantOK: false,
		},
		{
			name:    "envelope not json",
			data:    `not json`,
			wantErr: true,
		},
		{
			name:    "envelope without type",
			data:    `{"properties":{}}`,
			wantErr: true,
		},
		{
			name:    "named domain event with bad payload",
			event:   "foo",
			data:    `{x:1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := DecodeFrame(tt.event, []byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedFrame)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.wantData, string(ev.Data))
		})
	}
}

func TestNormalizeKind(t *testing.T) {
	assert.Equal(t, KindConnect, NormalizeKind("server.connected"))
	assert.Equal(t, KindHeartbeat, NormalizeKind("server.heartbeat"))
	assert.Equal(t, "message.updated", NormalizeKind("message.updated"))
}
